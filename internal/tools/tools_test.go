package tools

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ztkent/alsps-meter/epl8802"
)

func TestConnectSqliteMigrates(t *testing.T) {
	db, err := ConnectSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"readings", "calibration"} {
		var name string
		require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name))
		assert.Equal(t, table, name)
	}
	// Each migration is applied once.
	require.NoError(t, RunMigrations(db))
	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)
}

func TestSeedCalibration(t *testing.T) {
	db, err := ConnectSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	files := &FileCalibrationStore{
		ProximityPath: filepath.Join(dir, "ps.dat"),
		LightPath:     filepath.Join(dir, "als.dat"),
	}
	seeded, err := SeedCalibration(db, files)
	require.NoError(t, err)
	assert.False(t, seeded)

	require.NoError(t, os.WriteFile(files.ProximityPath, []byte("5,3200,2200"), 0644))
	require.NoError(t, os.WriteFile(files.LightPath, []byte("380"), 0644))
	seeded, err = SeedCalibration(db, files)
	require.NoError(t, err)
	assert.True(t, seeded)

	s := &SqliteCalibrationStore{DB: db}
	cal, ok, err := s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, epl8802.ProximityCalibration{Crosstalk: 5, HighThreshold: 3200, LowThreshold: 2200}, cal)
	scale, ok, err := s.LoadLightScaleFactor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 380, scale)

	// A calibration already in the table wins over the files.
	require.NoError(t, os.WriteFile(files.ProximityPath, []byte("9,4000,3000"), 0644))
	seeded, err = SeedCalibration(db, files)
	require.NoError(t, err)
	assert.False(t, seeded)
	cal, _, err = s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.Equal(t, uint16(3200), cal.HighThreshold)

	// A malformed file is reported and nothing is written.
	fresh, err := ConnectSqlite(":memory:")
	require.NoError(t, err)
	defer fresh.Close()
	require.NoError(t, os.WriteFile(files.ProximityPath, []byte("garbage"), 0644))
	_, err = SeedCalibration(fresh, files)
	require.Error(t, err)
	_, ok, err = (&SqliteCalibrationStore{DB: fresh}).LoadProximityCalibration()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSqliteCalibrationStore(t *testing.T) {
	db, err := ConnectSqlite(":memory:")
	require.NoError(t, err)
	defer db.Close()
	s := &SqliteCalibrationStore{DB: db}

	_, ok, err := s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.LoadLightScaleFactor()
	require.NoError(t, err)
	assert.False(t, ok)

	want := epl8802.ProximityCalibration{Crosstalk: 12, HighThreshold: 3200, LowThreshold: 2200}
	require.NoError(t, s.SaveProximityCalibration(want))
	require.NoError(t, s.SaveProximityCalibration(want))
	got, ok, err := s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.Error(t, s.SaveLightScaleFactor(0))
	require.NoError(t, s.SaveLightScaleFactor(450))
	scale, ok, err := s.LoadLightScaleFactor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 450, scale)

	// The light row does not disturb the proximity row.
	got, _, err = s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileCalibrationStore(t *testing.T) {
	dir := t.TempDir()
	s := &FileCalibrationStore{
		ProximityPath: filepath.Join(dir, "ps.dat"),
		LightPath:     filepath.Join(dir, "als.dat"),
	}

	_, ok, err := s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.False(t, ok)

	want := epl8802.ProximityCalibration{Crosstalk: 5, HighThreshold: 3200, LowThreshold: 2200}
	require.NoError(t, s.SaveProximityCalibration(want))
	raw, err := os.ReadFile(s.ProximityPath)
	require.NoError(t, err)
	assert.Equal(t, "5,3200,2200", string(raw))

	got, ok, err := s.LoadProximityCalibration()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(s.LightPath, []byte("380\n"), 0644))
	scale, ok, err := s.LoadLightScaleFactor()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 380, scale)
}

func TestFileCalibrationStoreMalformed(t *testing.T) {
	dir := t.TempDir()
	s := &FileCalibrationStore{
		ProximityPath: filepath.Join(dir, "ps.dat"),
		LightPath:     filepath.Join(dir, "als.dat"),
	}
	require.NoError(t, os.WriteFile(s.ProximityPath, []byte("garbage"), 0644))
	_, ok, err := s.LoadProximityCalibration()
	require.Error(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(s.ProximityPath, []byte("1,70000,2"), 0644))
	_, _, err = s.LoadProximityCalibration()
	require.Error(t, err)

	require.NoError(t, os.WriteFile(s.LightPath, []byte("-4"), 0644))
	_, ok, err = s.LoadLightScaleFactor()
	require.Error(t, err)
	assert.False(t, ok)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("closed") }

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	m := &MultiWriter{Writers: []io.Writer{&a, &b}}
	n, err := m.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", a.String())
	assert.Equal(t, "hello", b.String())

	var c bytes.Buffer
	m = &MultiWriter{Writers: []io.Writer{failWriter{}, &c}}
	_, err = m.Write([]byte("x"))
	require.Error(t, err)
	assert.Empty(t, c.String())
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alsps.log")
	l, _, err := NewLogger(path, "debug")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("channel", "als").Info("sample")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel":"als"`)

	assert.Equal(t, logrus.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, logrus.ErrorLevel, ParseLevel("ERROR"))
}

func TestCheckInNetwork(t *testing.T) {
	h := CheckInNetwork(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	tests := []struct {
		remote string
		status int
	}{
		{"192.168.1.20:5000", http.StatusNoContent},
		{"127.0.0.1:5000", http.StatusNoContent},
		{"[::1]:5000", http.StatusNoContent},
		{"8.8.8.8:5000", http.StatusForbidden},
		{"garbage", http.StatusBadRequest},
	}
	for _, test := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = test.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, test.status, rec.Code, test.remote)
	}
}

func TestParseStartAndEndDate(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	req := httptest.NewRequest(http.MethodGet, "/?start=2024-06-01T08:00&end=2024-06-01T20:30", nil)
	start, end := ParseStartAndEndDate(req, loc)
	assert.Equal(t, "2024-06-01 13:00:00", start)
	assert.Equal(t, "2024-06-02 01:30:00", end)

	s, e, err := StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour+30*time.Minute, e.Sub(s))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	start, end = ParseStartAndEndDate(req, loc)
	s, e, err = StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, e.Sub(s).Round(time.Hour))
}

func TestFormValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?low=0x10&high=70000&reg=0x22&v=300", nil)
	low, err := FormUint16(req, "low")
	require.NoError(t, err)
	assert.Equal(t, uint16(16), low)
	_, err = FormUint16(req, "high")
	require.Error(t, err)
	_, err = FormUint16(req, "missing")
	require.Error(t, err)

	reg, err := FormByte(req, "reg")
	require.NoError(t, err)
	assert.Equal(t, byte(0x22), reg)
	_, err = FormByte(req, "v")
	require.Error(t, err)
}

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	cert, key := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	require.NoError(t, EnsureCertificate(cert, key, "localhost", "127.0.0.1"))
	assert.True(t, certificateValid(cert, key, time.Now().Add(time.Minute)))

	before, err := os.ReadFile(cert)
	require.NoError(t, err)
	require.NoError(t, EnsureCertificate(cert, key))
	after, err := os.ReadFile(cert)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
