package httpapi

import (
	"net/http"

	"github.com/swaggo/swag"

	"pkt.systems/relayd/api"
	// Registers the generated OpenAPI document with swag.
	_ "pkt.systems/relayd/swagger/docs"
)

// handleHealth godoc
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Router       /healthz [get]
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	h.writeJSON(w, http.StatusOK, api.HealthResponse{Success: true, Status: "ok", Version: h.version}, nil)
	return nil
}

// handleReady godoc
// @Summary      Readiness probe
// @Description  Returns 503 until the listener is serving. The body always reports the session label.
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Failure      503  {object}  api.HealthResponse
// @Router       /readyz [get]
func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) error {
	resp := api.HealthResponse{Success: true, Status: "ready", Version: h.version}
	if h.session != nil {
		resp.Session = h.session.Status().Label()
	}
	status := http.StatusOK
	if h.ready != nil && !h.ready() {
		resp.Success = false
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp, nil)
	return nil
}

// handleSwaggerDoc serves the registered OpenAPI document.
func (h *Handler) handleSwaggerDoc(w http.ResponseWriter, _ *http.Request) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "api documentation is not registered"}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
	return nil
}
