package alspsmeter

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ztkent/alsps-meter/epl8802"
	"github.com/ztkent/alsps-meter/internal/tools"
)

//go:embed html/*
var templateFiles embed.FS

const DB_PATH = "alspsmeter.db"

// Sensor is the engine surface the meter drives. *epl8802.EPL8802 satisfies it.
type Sensor interface {
	SetLightEnabled(on bool) error
	SetProximityEnabled(on bool) error
	SetPolling(ch epl8802.Channel, polling bool) error
	SetReportType(r epl8802.ReportType) error
	SetIntegrationTime(ch epl8802.Channel, intt byte) error
	SetGain(ch epl8802.Channel, gain byte) error
	SetADC(ch epl8802.Channel, adc byte) error
	SetCycle(ch epl8802.Channel, cycle byte) error
	SetPersist(ch epl8802.Channel, persist byte) error
	SetWait(wait byte) error
	SetIR(on bool, voltage bool, drive byte) error
	SetLightInterruptChannel(channel int) error
	SetCancellation(v uint16) error
	SetThresholds(ch epl8802.Channel, low, high uint16) error
	SetCountGain(milliLux int) error
	SetLightRange(intt0, intt1 byte) error
	SetPollInterval(interval time.Duration) error
	Unlock(ch epl8802.Channel) error
	WriteRegister(reg, value byte) error
	Calibrate() (int, error)
	Status() epl8802.Status
	DumpRegisters() ([]byte, error)
	LastReading(ch epl8802.Channel) epl8802.Reading
	Readings() <-chan epl8802.Reading
}

var _ Sensor = (*epl8802.EPL8802)(nil)

type Meter struct {
	Sensor    Sensor
	ResultsDB *sql.DB
	DBPath    string
	Publisher *Publisher
	Archive   Archiver
	// Location interprets the dashboard's date pickers, UTC when nil.
	Location *time.Location
	Pid      int

	mu        sync.Mutex
	sessionID string
}

// SessionID identifies the current enable period. A new one starts whenever a
// channel is enabled while both were off.
func (m *Meter) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Meter) beginSession() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = uuid.New().String()
	return m.sessionID
}

// Enable turns a channel on, starting a new session if the sensor was idle.
func (m *Meter) Enable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		status := m.Sensor.Status()
		if channelEnabled(status, ch) {
			ServeResponse(w, r, fmt.Sprintf("The %s channel is already enabled", channelTitle(ch)), http.StatusBadRequest)
			return
		}
		if !status.LightEnabled && !status.ProximityEnabled {
			session := m.beginSession()
			l.WithField("session", session).Info("It's going to be a bright day!")
		}
		if err := setEnabled(m.Sensor, ch, true); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("%s Reading Started", channelTitle(ch)), http.StatusOK)
	}
}

func (m *Meter) Disable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		if !channelEnabled(m.Sensor.Status(), ch) {
			ServeResponse(w, r, fmt.Sprintf("The %s channel is already stopped", channelTitle(ch)), http.StatusBadRequest)
			return
		}
		if err := setEnabled(m.Sensor, ch, false); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("%s Reading Stopped", channelTitle(ch)), http.StatusOK)
	}
}

// Polling switches a channel between timer sampling and interrupt mode.
func (m *Meter) Polling() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		polling, err := strconv.ParseBool(r.FormValue("on"))
		if err != nil {
			ServeResponse(w, r, "on must be true or false", http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetPolling(ch, polling); err != nil {
			m.serveError(w, r, err)
			return
		}
		mode := "interrupt"
		if polling {
			mode = "polling"
		}
		ServeResponse(w, r, fmt.Sprintf("%s set to %s mode", channelTitle(ch), mode), http.StatusOK)
	}
}

func (m *Meter) ReportType() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		reportType, err := epl8802.ParseReportType(r.FormValue("type"))
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetReportType(reportType); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Light report type set to %s", reportType), http.StatusOK)
	}
}

// Settings applies any of intt, gain, adc, cycle and persist to a channel.
func (m *Meter) Settings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		setters := []struct {
			key string
			set func(epl8802.Channel, byte) error
		}{
			{"intt", m.Sensor.SetIntegrationTime},
			{"gain", m.Sensor.SetGain},
			{"adc", m.Sensor.SetADC},
			{"cycle", m.Sensor.SetCycle},
			{"persist", m.Sensor.SetPersist},
		}
		var applied []string
		for _, s := range setters {
			if r.FormValue(s.key) == "" {
				continue
			}
			v, err := tools.FormByte(r, s.key)
			if err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
			if err := s.set(ch, v); err != nil {
				m.serveError(w, r, err)
				return
			}
			applied = append(applied, fmt.Sprintf("%s=%d", s.key, v))
		}
		if len(applied) == 0 {
			ServeResponse(w, r, "No settings given", http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("%s updated: %s", channelTitle(ch), strings.Join(applied, ", ")), http.StatusOK)
	}
}

func (m *Meter) Wait() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		wait, err := tools.FormByte(r, "value")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetWait(wait); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Wait time set to %d", wait), http.StatusOK)
	}
}

// IR sets the emitter. on defaults to true, mode is current or voltage and a
// missing drive keeps the present one.
func (m *Meter) IR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		on := r.FormValue("on") != "false"
		voltage := r.FormValue("mode") == "voltage"
		drive := m.Sensor.Status().Configuration.IRDrive
		if r.FormValue("drive") != "" {
			var err error
			if drive, err = tools.FormByte(r, "drive"); err != nil {
				ServeResponse(w, r, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if err := m.Sensor.SetIR(on, voltage, drive); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("IR emitter on=%t voltage=%t drive=%d", on, voltage, drive), http.StatusOK)
	}
}

func (m *Meter) LightInterruptChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		channel, err := strconv.Atoi(r.FormValue("channel"))
		if err != nil {
			ServeResponse(w, r, "channel must be 0 or 1", http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetLightInterruptChannel(channel); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Light interrupts follow channel %d", channel), http.StatusOK)
	}
}

func (m *Meter) Thresholds() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		low, err := tools.FormUint16(r, "low")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		high, err := tools.FormUint16(r, "high")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetThresholds(ch, low, high); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("%s thresholds set to %d/%d", channelTitle(ch), low, high), http.StatusOK)
	}
}

func (m *Meter) Cancellation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		v, err := tools.FormUint16(r, "value")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetCancellation(v); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Crosstalk cancellation set to %d", v), http.StatusOK)
	}
}

func (m *Meter) CountGain() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		v, err := strconv.Atoi(r.FormValue("value"))
		if err != nil {
			ServeResponse(w, r, "value must be an integer", http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetCountGain(v); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Count gain set to %d", v), http.StatusOK)
	}
}

// LightRange re-seeds the adaptive range steps from two integration times.
func (m *Meter) LightRange() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		intt0, err := tools.FormByte(r, "intt0")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		intt1, err := tools.FormByte(r, "intt1")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetLightRange(intt0, intt1); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Light range set to %d/%d", intt0, intt1), http.StatusOK)
	}
}

func (m *Meter) PollInterval() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		interval, err := time.ParseDuration(r.FormValue("interval"))
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.SetPollInterval(interval); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Poll interval set to %s", interval), http.StatusOK)
	}
}

// Calibrate measures proximity crosstalk and stores the derived thresholds.
func (m *Meter) Calibrate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		crosstalk, err := m.Sensor.Calibrate()
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Proximity calibrated, crosstalk %d", crosstalk), http.StatusOK)
	}
}

func (m *Meter) Unlock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := m.channel(w, r)
		if !ok {
			return
		}
		if err := m.Sensor.Unlock(ch); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("%s compare unlocked", channelTitle(ch)), http.StatusOK)
	}
}

// WriteRegister writes one raw register. Meant for bench debugging.
func (m *Meter) WriteRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		reg, err := tools.FormByte(r, "reg")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		value, err := tools.FormByte(r, "value")
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		if err := m.Sensor.WriteRegister(reg, value); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, r, fmt.Sprintf("Wrote 0x%02x to register 0x%02x", value, reg), http.StatusOK)
	}
}

func (m *Meter) Registers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		dump, err := m.Sensor.DumpRegisters()
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		lines := make([]string, len(dump))
		for i, b := range dump {
			lines[i] = fmt.Sprintf("0x%02x: 0x%02x", i, b)
		}
		ServeResponse(w, r, strings.Join(lines, "\n"), http.StatusOK)
	}
}

// Status serves the engine snapshot as JSON.
func (m *Meter) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		serveJSON(w, m.Sensor.Status(), http.StatusOK)
	}
}

// Serve data about the most recent readings saved to the db
func (m *Meter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.connected(w, r) {
			return
		}
		conditions, err := m.getCurrentConditions()
		if err != nil {
			if errors.Is(err, errNoReadings) {
				ServeResponse(w, r, err.Error(), http.StatusNotFound)
				return
			}
			l.WithError(err).Error("Failed to read current conditions")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		if isAPI(r) {
			serveJSON(w, conditions, http.StatusOK)
			return
		}
		conditionsData, err := json.Marshal(conditions)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, string(conditionsData), http.StatusOK)
	}
}

func (m *Meter) connected(w http.ResponseWriter, r *http.Request) bool {
	if m.Sensor == nil {
		ServeResponse(w, r, "The sensor is not connected", http.StatusBadRequest)
		return false
	}
	return true
}

func (m *Meter) channel(w http.ResponseWriter, r *http.Request) (epl8802.Channel, bool) {
	if !m.connected(w, r) {
		return 0, false
	}
	ch, err := epl8802.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		ServeResponse(w, r, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return ch, true
}

func (m *Meter) serveError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	entry := l.WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error("sensor request failed")
	} else {
		entry.Warn("sensor request rejected")
	}
	ServeResponse(w, r, err.Error(), status)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, epl8802.ErrBusFault), errors.Is(err, epl8802.ErrHalted):
		return http.StatusServiceUnavailable
	case errors.Is(err, epl8802.ErrCalibrationInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, epl8802.ErrChannelDisabled):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func channelEnabled(s epl8802.Status, ch epl8802.Channel) bool {
	if ch == epl8802.Proximity {
		return s.ProximityEnabled
	}
	return s.LightEnabled
}

func setEnabled(s Sensor, ch epl8802.Channel, on bool) error {
	if ch == epl8802.Proximity {
		return s.SetProximityEnabled(on)
	}
	return s.SetLightEnabled(on)
}

func channelTitle(ch epl8802.Channel) string {
	if ch == epl8802.Proximity {
		return "Proximity"
	}
	return "Light"
}

func isAPI(r *http.Request) bool {
	return strings.Contains(r.URL.Path, "/api/v1/")
}

func serveJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Populate the response div with a message, or reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	if isAPI(r) {
		serveJSON(w, map[string]string{"message": message}, status)
		return
	}

	tmpl, err := parseTemplateFile("html/response.gohtml")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if err := tmpl.Execute(w, message); err != nil {
		l.WithError(err).Error("Failed to render response")
	}
}

func parseTemplateFile(path string) (*template.Template, error) {
	content, err := templateFiles.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template: %w", err)
	}
	tmpl, err := template.New("results").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}
