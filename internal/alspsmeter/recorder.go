package alspsmeter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ztkent/alsps-meter/epl8802"
	"github.com/ztkent/alsps-meter/internal/tools"
)

const archiveTimeout = 5 * time.Second

// Record is a reading tagged with the session it was taken in.
type Record struct {
	SessionID string `json:"session_id"`
	epl8802.Reading
}

type Conditions struct {
	SessionID             string  `json:"sessionID"`
	Light                 int     `json:"light"`
	LightRaw              int     `json:"lightRaw"`
	LightReportType       string  `json:"lightReportType"`
	Zone                  string  `json:"zone"`
	ProximityRaw          int     `json:"proximityRaw"`
	DateRange             string  `json:"dateRange"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange"`
	AverageLuxInRange     float64 `json:"averageLuxInRange"`
	MaxLuxInRange         int     `json:"maxLuxInRange"`
	ApproachesInRange     int     `json:"approachesInRange"`
	LightConditionInRange string  `json:"lightConditionInRange"`
}

var errNoReadings = errors.New("No readings have been recorded")

// luxReportTypes are the light report types whose value is lux.
var luxReportTypes = []any{
	epl8802.ReportScaled.String(),
	epl8802.ReportTable.String(),
	epl8802.ReportAdaptive.String(),
}

// Read from the sensor's readings, write them to sqlite and forward them to
// the publisher and archive when those are configured.
func (m *Meter) MonitorAndRecordResults(ctx context.Context) {
	l.Info("Monitoring for new sensor readings...")
	readings := m.Sensor.Readings()
	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				return
			}
			if err := m.record(ctx, Record{SessionID: m.SessionID(), Reading: reading}); err != nil {
				l.WithError(err).Error("Failed to record reading")
			}
		}
	}
}

func (m *Meter) record(ctx context.Context, rec Record) error {
	l.WithFields(logrus.Fields{
		"session": rec.SessionID,
		"channel": rec.Channel,
		"value":   rec.Value,
		"raw":     rec.Raw,
	}).Debug("reading")

	reportType := ""
	if rec.Channel == epl8802.Light {
		reportType = rec.ReportType.String()
	}
	_, err := m.ResultsDB.ExecContext(ctx,
		"INSERT INTO readings (session_id, channel, value, raw, report_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.SessionID,
		rec.Channel.String(),
		rec.Value,
		rec.Raw,
		reportType,
		rec.Timestamp.UTC().Format(tools.LayoutDB),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	if m.Publisher != nil {
		m.Publisher.Enqueue(rec)
	}
	if m.Archive != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()
		if err := m.Archive.Save(archiveCtx, rec); err != nil {
			l.WithError(err).Warn("Failed to archive reading")
		}
	}
	return nil
}

// Return the most recent light and proximity entries saved to the db. A
// channel whose latest entry is the unavailable marker reports it as such
// instead of an older value.
func (m *Meter) getCurrentConditions() (Conditions, error) {
	conditions := Conditions{Zone: "unavailable"}
	found := false

	var session, reportType string
	var value, raw int
	row := m.ResultsDB.QueryRow("SELECT session_id, value, raw, report_type FROM readings WHERE channel = ? ORDER BY id DESC LIMIT 1", epl8802.Light.String())
	switch err := row.Scan(&session, &value, &raw, &reportType); {
	case err == nil:
		found = true
		conditions.SessionID = session
		conditions.Light = value
		conditions.LightRaw = raw
		conditions.LightReportType = reportType
	case !errors.Is(err, sql.ErrNoRows):
		return Conditions{}, err
	}

	row = m.ResultsDB.QueryRow("SELECT session_id, value, raw FROM readings WHERE channel = ? ORDER BY id DESC LIMIT 1", epl8802.Proximity.String())
	switch err := row.Scan(&session, &value, &raw); {
	case err == nil:
		if !found {
			conditions.SessionID = session
		}
		found = true
		conditions.Zone = zoneName(value)
		conditions.ProximityRaw = raw
	case !errors.Is(err, sql.ErrNoRows):
		return Conditions{}, err
	}

	if !found {
		return Conditions{}, errNoReadings
	}
	return conditions, nil
}

// Summarize the light and proximity history between startDate and endDate
func (m *Meter) getHistoricalConditions(conditions Conditions, startDate string, endDate string) (Conditions, error) {
	if m.ResultsDB == nil {
		return conditions, nil
	}
	conditions.DateRange = fmt.Sprintf("%s - %s UTC", startDate, endDate)

	args := append([]any{epl8802.Light.String(), startDate, endDate, epl8802.Unavailable}, luxReportTypes...)
	row := m.ResultsDB.QueryRow(`
    SELECT
        COALESCE(AVG(value), 0),
        COALESCE(MAX(value), 0),
        COALESCE(MIN(created_at), ''),
        COALESCE(MAX(created_at), '')
    FROM readings
    WHERE channel = ? AND created_at BETWEEN ? AND ? AND value <> ? AND report_type IN (?, ?, ?)`, args...)
	var oldest, mostRecent string
	if err := row.Scan(&conditions.AverageLuxInRange, &conditions.MaxLuxInRange, &oldest, &mostRecent); err != nil {
		return conditions, err
	}

	row = m.ResultsDB.QueryRow(`
    SELECT COUNT(*)
    FROM readings
    WHERE channel = ? AND created_at BETWEEN ? AND ? AND value IN (?, ?)`,
		epl8802.Proximity.String(), startDate, endDate, int(epl8802.ZoneNear), int(epl8802.ZoneVeryNear))
	if err := row.Scan(&conditions.ApproachesInRange); err != nil {
		return conditions, err
	}

	if oldest == "" || mostRecent == "" {
		conditions.LightConditionInRange = "No Data in Range"
		return conditions, nil
	}
	first, last, err := tools.StartAndEndDateToTime(oldest, mostRecent)
	if err != nil {
		return conditions, err
	}
	conditions.RecordedHoursInRange = last.Sub(first).Hours()
	conditions.LightConditionInRange = lightCondition(conditions.AverageLuxInRange)
	return conditions, nil
}

func zoneName(value int) string {
	if value == epl8802.Unavailable {
		return "unavailable"
	}
	return epl8802.Zone(value).String()
}

func lightCondition(averageLux float64) string {
	switch {
	case averageLux >= 10000:
		return "Daylight"
	case averageLux >= 1000:
		return "Overcast"
	case averageLux >= 100:
		return "Indoor"
	default:
		return "Dim"
	}
}
