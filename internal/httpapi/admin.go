package httpapi

import (
	"net/http"

	"campuslib/internal/web"
)

type adminHandler struct {
	app *App
}

func (h *adminHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.app.DB.PingContext(r.Context()); err != nil {
		web.JSON(w, http.StatusServiceUnavailable, "database unreachable", map[string]string{"status": "down"})
		return
	}
	web.JSON(w, http.StatusOK, "ok", map[string]string{"status": "up"})
}

// handleAudit runs the invariant audit on demand. Violations are reported in
// the body; the request itself succeeds.
func (h *adminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Auditor.Run(r.Context())
	if err != nil {
		web.Error(w, r, err)
		return
	}
	msg := "all invariants hold"
	if !report.Passed {
		msg = "invariants violated"
	}
	web.JSON(w, http.StatusOK, msg, report)
}

func (h *adminHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	results, err := h.app.Sweeper.RunOnce(r.Context())
	msg := "sweep finished"
	if err != nil {
		msg = "sweep finished with errors"
	}
	web.JSON(w, http.StatusOK, msg, results)
}
