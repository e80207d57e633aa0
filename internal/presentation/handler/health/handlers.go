package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hilthontt/roomdrop/internal/infrastructure/json"
)

type Handler struct {
	startTime time.Time
	healthy   atomic.Bool
}

func NewHandler() *Handler {
	h := &Handler{startTime: time.Now()}
	h.healthy.Store(true)
	return h
}

// SetHealthy flips the reported status; the server marks itself unhealthy
// while draining.
func (h *Handler) SetHealthy(healthy bool) {
	h.healthy.Store(healthy)
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	if !h.healthy.Load() {
		json.WriteServiceUnavailable(w, "server is shutting down")
		return
	}

	_ = json.Write(w, http.StatusOK, resp)
}
