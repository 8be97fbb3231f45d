package alspsmeter

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/ztkent/alsps-meter/epl8802"
	"github.com/ztkent/alsps-meter/internal/tools"
)

// Serve the sqlite db for download
func (m *Meter) ServeResultsDB() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := m.DBPath
		if path == "" {
			path = DB_PATH
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", DB_PATH))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}
}

// Serve the homepage
func (m *Meter) ServeDashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileContent, err := templateFiles.ReadFile("html/dashboard.html")
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read embedded html file: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		w.Write(fileContent)
	}
}

// Serve the controls for the sensor, enable/disable/calibrate/export/current-conditions
func (m *Meter) ServeControls() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/controls.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := tmpl.Execute(w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Status of the sensor
func (m *Meter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := parseTemplateFile("html/status.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type Status struct {
			Connected        bool
			LightEnabled     bool
			ProximityEnabled bool
			Mode             string
			ReportType       string
			Light            int
			Zone             string
			Polling          bool
			SessionID        string
		}
		status := Status{Zone: "unavailable"}
		if m.Sensor != nil {
			s := m.Sensor.Status()
			status.Connected = true
			status.LightEnabled = s.LightEnabled
			status.ProximityEnabled = s.ProximityEnabled
			status.Mode = s.Mode
			status.ReportType = s.ReportType.String()
			status.Light = s.Lux
			status.Polling = s.Polling
			status.SessionID = m.SessionID()
			if s.ProximityEnabled {
				status.Zone = s.Zone.String()
			}
		}

		if err := tmpl.Execute(w, status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Serve the light and proximity history graphs
func (m *Meter) ServeResultsGraph() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)

		rows, err := m.ResultsDB.Query("SELECT channel, value, created_at FROM readings WHERE created_at BETWEEN ? AND ? AND value <> ? ORDER BY created_at, id", startDate, endDate, epl8802.Unavailable)
		if err != nil {
			l.WithError(err).Error("Failed to query readings")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		var lightValues, zoneValues []opts.LineData
		var lightTimes, zoneTimes []string
		var maxLux int
		for rows.Next() {
			var channel string
			var value int
			var createdAt time.Time
			if err := rows.Scan(&channel, &value, &createdAt); err != nil {
				l.WithError(err).Error("Failed to scan reading")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			timeString := createdAt.Format(tools.LayoutDB)
			if channel == epl8802.Proximity.String() {
				zoneValues = append(zoneValues, opts.LineData{Value: value})
				zoneTimes = append(zoneTimes, timeString)
				continue
			}
			if value > maxLux {
				// Round up to the nearest 1000
				maxLux = int(math.Ceil(float64(value)/1000) * 1000)
			}
			lightValues = append(lightValues, opts.LineData{Value: value})
			lightTimes = append(lightTimes, timeString)
		}
		if err := rows.Err(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		page := components.NewPage()
		page.AddCharts(lightChart(lightTimes, lightValues, maxLux), zoneChart(zoneTimes, zoneValues))

		w.Header().Set("Content-Type", "text/html")
		page.Render(w)
		// Trigger an update for the results tab
		w.Write([]byte(`<div id='resultUpdateTrigger' hx-post='/alspsmeter/results' hx-target='#resultsContent' hx-trigger='load'></div>`))
		w.Write([]byte(`<script>document.title = "ALS/PS Meter";</script>`))
	}
}

// Reference lines drawn under the light series.
var lightLevels = []struct {
	lux   int
	title string
	color string
}{
	{100, "Indoor", "DarkGrey"},
	{1000, "Overcast", "WhiteSmoke"},
	{10000, "Daylight", "Yellow"},
}

func lightChart(times []string, values []opts.LineData, maxLux int) *charts.Line {
	line := charts.NewLine()
	for _, level := range lightLevels {
		data := make([]opts.LineData, len(times))
		for i := range data {
			data[i] = opts.LineData{Value: level.lux}
		}
		line.AddSeries(level.title, data, charts.WithLineChartOpts(opts.LineChart{
			Color: level.color,
		}))
	}
	if maxLux == 0 {
		maxLux = 1000
	}

	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeChalk,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: "Light",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "Lux",
			Min:  "0",
			Max:  fmt.Sprintf("%d", maxLux),
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      true,
			Trigger:   "axis",
			TriggerOn: "mousemove",
			Formatter: fmt.Sprintf("{a%d}: {c%d}<br> Time: {b0}", len(lightLevels), len(lightLevels)),
		}),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{
					Show:  true,
					Title: "Save as Image",
					Name:  "alsps-meter-light",
				},
			},
		}),
	)
	line.SetXAxis(times).AddSeries("Light", values)
	return line
}

func zoneChart(times []string, values []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeChalk,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Proximity",
			Subtitle: "far 100, near 3, very-near 1",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "Time",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "Zone",
			Type: "log",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    true,
			Trigger: "axis",
		}),
	)
	line.SetXAxis(times).AddSeries("Zone", values, charts.WithLineChartOpts(opts.LineChart{
		Step: true,
	}))
	return line
}

// Update the info in the results tab
func (m *Meter) ServeResultsTab() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if err != nil && err != errNoReadings {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		startDate, endDate := tools.ParseStartAndEndDate(r, m.Location)
		conditions, err = m.getHistoricalConditions(conditions, startDate, endDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tmpl, err := parseTemplateFile("html/results.gohtml")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		type ConditionsForDisplay struct {
			Conditions
			AverageLux string
			Hours      string
			StartDate  string
			EndDate    string
		}
		err = tmpl.Execute(w, ConditionsForDisplay{
			Conditions: conditions,
			AverageLux: fmt.Sprintf("%.1f", conditions.AverageLuxInRange),
			Hours:      fmt.Sprintf("%.2f", conditions.RecordedHoursInRange),
			StartDate:  startDate,
			EndDate:    endDate,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

// Used to clear a div with htmx
func (m *Meter) Clear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
	}
}
