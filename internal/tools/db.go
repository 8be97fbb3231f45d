package tools

import (
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*
var migrationFiles embed.FS

// ConnectSqlite opens the readings database, applies the embedded migrations
// and returns it ready for the recorder and the calibration store.
// ":memory:" is accepted for tests.
func ConnectSqlite(filePath string) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3)
	if err != nil {
		return nil, err
	}
	// A single connection keeps an in-memory database alive across calls and
	// serializes the recorder with calibration writes.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations applies each embedded migration once, in file name order,
// and records it in schema_migrations.
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return err
	}
	dirEntries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	for _, entry := range dirEntries {
		var applied int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", entry.Name()).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		fileData, err := fs.ReadFile(migrationFiles, path.Join("migration", entry.Name()))
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(fileData)); err != nil {
			return err
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (name) VALUES (?)", entry.Name()); err != nil {
			return err
		}
		logrus.WithField("migration", entry.Name()).Debug("migration applied")
	}
	return nil
}

// SeedCalibration copies a calibration kept in the sensor's text files into
// the calibration table when the table has none of its own, so moving a
// device to the sqlite store keeps its factory calibration. It reports
// whether anything was copied.
func SeedCalibration(db *sql.DB, files *FileCalibrationStore) (bool, error) {
	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM calibration").Scan(&rows); err != nil {
		return false, err
	}
	if rows > 0 || files == nil {
		return false, nil
	}

	store := &SqliteCalibrationStore{DB: db}
	seeded := false
	if files.ProximityPath != "" {
		cal, ok, err := files.LoadProximityCalibration()
		if err != nil {
			return false, err
		}
		if ok {
			if err := store.SaveProximityCalibration(cal); err != nil {
				return false, err
			}
			seeded = true
			logrus.WithFields(logrus.Fields{"channel": "ps", "file": files.ProximityPath}).Info("proximity calibration imported")
		}
	}
	scale, ok, err := files.LoadLightScaleFactor()
	if err != nil {
		return seeded, err
	}
	if ok {
		if err := store.SaveLightScaleFactor(scale); err != nil {
			return seeded, err
		}
		seeded = true
		logrus.WithFields(logrus.Fields{"channel": "als", "file": files.LightPath}).Info("light calibration imported")
	}
	return seeded, nil
}

var backoffSleep = time.Sleep

func connectWithBackoff(driver string, connStr string, maxRetries int) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open(driver, connStr)
		if err != nil {
			logrus.Warnf("Failed attempt to connect to %s: %v", driver, err)
			backoffSleep(time.Duration(i+1) * (3 * time.Second))
			continue
		}
		err = db.Ping()
		if err != nil {
			logrus.Warnf("Failed attempt to connect to %s: %v", driver, err)
			db.Close()
			backoffSleep(time.Duration(i+1) * (3 * time.Second))
			continue
		}
		return db, nil
	}
	return nil, err
}
