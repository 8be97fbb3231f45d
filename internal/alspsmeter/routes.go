package alspsmeter

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the dashboard under /alspsmeter and the JSON API under /api/v1.
func (m *Meter) Mount(r chi.Router) {
	r.Get("/", m.ServeDashboard())
	r.Route("/alspsmeter", func(r chi.Router) {
		m.mountControls(r)
		r.Post("/graph", m.ServeResultsGraph())
		r.Get("/controls", m.ServeControls())
		r.Get("/sensor-status", m.ServeSensorStatus())
		r.Post("/results", m.ServeResultsTab())
		r.Get("/clear", m.Clear())
	})
	r.Route("/api/v1", m.mountControls)
}

func (m *Meter) mountControls(r chi.Router) {
	r.Get("/enable/{channel}", m.Enable())
	r.Get("/disable/{channel}", m.Disable())
	r.Get("/polling/{channel}", m.Polling())
	r.Get("/settings/{channel}", m.Settings())
	r.Get("/thresholds/{channel}", m.Thresholds())
	r.Get("/unlock/{channel}", m.Unlock())
	r.Get("/report-type", m.ReportType())
	r.Get("/wait", m.Wait())
	r.Get("/ir", m.IR())
	r.Get("/als-interrupt-channel", m.LightInterruptChannel())
	r.Get("/cancellation", m.Cancellation())
	r.Get("/count-gain", m.CountGain())
	r.Get("/light-range", m.LightRange())
	r.Get("/poll-interval", m.PollInterval())
	r.Get("/calibrate", m.Calibrate())
	r.Get("/register", m.WriteRegister())
	r.Get("/registers", m.Registers())
	r.Get("/status", m.Status())
	r.Get("/current-conditions", m.CurrentConditions())
	r.Get("/export", m.ServeResultsDB())
}
