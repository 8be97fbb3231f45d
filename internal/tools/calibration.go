package tools

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ztkent/alsps-meter/epl8802"
)

const (
	calibrationKindProximity = "ps"
	calibrationKindLight     = "als"
)

// SqliteCalibrationStore keeps the factory calibration in the calibration table.
type SqliteCalibrationStore struct {
	DB *sql.DB
}

func (s *SqliteCalibrationStore) LoadProximityCalibration() (epl8802.ProximityCalibration, bool, error) {
	var cancel, high, low int
	row := s.DB.QueryRow("SELECT crosstalk, high_threshold, low_threshold FROM calibration WHERE kind = ?", calibrationKindProximity)
	if err := row.Scan(&cancel, &high, &low); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return epl8802.ProximityCalibration{}, false, nil
		}
		return epl8802.ProximityCalibration{}, false, err
	}
	cal, err := proximityCalibration(cancel, high, low)
	if err != nil {
		return epl8802.ProximityCalibration{}, false, err
	}
	return cal, true, nil
}

func (s *SqliteCalibrationStore) SaveProximityCalibration(cal epl8802.ProximityCalibration) error {
	_, err := s.DB.Exec(`
    INSERT INTO calibration (kind, crosstalk, high_threshold, low_threshold, updated_at)
    VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(kind) DO UPDATE SET
        crosstalk = excluded.crosstalk,
        high_threshold = excluded.high_threshold,
        low_threshold = excluded.low_threshold,
        updated_at = excluded.updated_at`,
		calibrationKindProximity, cal.Crosstalk, cal.HighThreshold, cal.LowThreshold)
	return err
}

func (s *SqliteCalibrationStore) LoadLightScaleFactor() (int, bool, error) {
	var countsPerLux int
	row := s.DB.QueryRow("SELECT counts_per_lux FROM calibration WHERE kind = ?", calibrationKindLight)
	if err := row.Scan(&countsPerLux); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if countsPerLux <= 0 {
		return 0, false, fmt.Errorf("stored light scale factor %d is not positive", countsPerLux)
	}
	return countsPerLux, true, nil
}

// SaveLightScaleFactor records milli-lux per count for the next start.
func (s *SqliteCalibrationStore) SaveLightScaleFactor(countsPerLux int) error {
	if countsPerLux <= 0 {
		return fmt.Errorf("light scale factor %d is not positive", countsPerLux)
	}
	_, err := s.DB.Exec(`
    INSERT INTO calibration (kind, counts_per_lux, updated_at)
    VALUES (?, ?, CURRENT_TIMESTAMP)
    ON CONFLICT(kind) DO UPDATE SET
        counts_per_lux = excluded.counts_per_lux,
        updated_at = excluded.updated_at`,
		calibrationKindLight, countsPerLux)
	return err
}

// FileCalibrationStore keeps the calibration in two small text files, the
// proximity one as "cancellation,high,low" and the light one as a single
// milli-lux per count value.
type FileCalibrationStore struct {
	ProximityPath string
	LightPath     string
}

func (s *FileCalibrationStore) LoadProximityCalibration() (epl8802.ProximityCalibration, bool, error) {
	data, err := os.ReadFile(s.ProximityPath)
	if err != nil {
		if os.IsNotExist(err) {
			return epl8802.ProximityCalibration{}, false, nil
		}
		return epl8802.ProximityCalibration{}, false, err
	}
	var cancel, high, low int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d,%d,%d", &cancel, &high, &low); err != nil {
		return epl8802.ProximityCalibration{}, false, fmt.Errorf("malformed calibration file %s: %w", s.ProximityPath, err)
	}
	cal, err := proximityCalibration(cancel, high, low)
	if err != nil {
		return epl8802.ProximityCalibration{}, false, err
	}
	return cal, true, nil
}

func (s *FileCalibrationStore) SaveProximityCalibration(cal epl8802.ProximityCalibration) error {
	line := fmt.Sprintf("%d,%d,%d", cal.Crosstalk, cal.HighThreshold, cal.LowThreshold)
	return os.WriteFile(s.ProximityPath, []byte(line), 0644)
}

func (s *FileCalibrationStore) LoadLightScaleFactor() (int, bool, error) {
	if s.LightPath == "" {
		return 0, false, nil
	}
	data, err := os.ReadFile(s.LightPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var countsPerLux int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &countsPerLux); err != nil {
		return 0, false, fmt.Errorf("malformed calibration file %s: %w", s.LightPath, err)
	}
	if countsPerLux <= 0 {
		return 0, false, fmt.Errorf("light scale factor %d in %s is not positive", countsPerLux, s.LightPath)
	}
	return countsPerLux, true, nil
}

func proximityCalibration(cancel, high, low int) (epl8802.ProximityCalibration, error) {
	for _, v := range []int{cancel, high, low} {
		if v < 0 || v > 0xFFFF {
			return epl8802.ProximityCalibration{}, fmt.Errorf("calibration value %d out of range", v)
		}
	}
	return epl8802.ProximityCalibration{
		Crosstalk:     uint16(cancel),
		HighThreshold: uint16(high),
		LowThreshold:  uint16(low),
	}, nil
}

var (
	_ epl8802.CalibrationStore = (*SqliteCalibrationStore)(nil)
	_ epl8802.CalibrationStore = (*FileCalibrationStore)(nil)
)
