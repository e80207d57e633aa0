package stats

import (
	"net/http"

	"github.com/hilthontt/roomdrop/internal/domain"
	"github.com/hilthontt/roomdrop/internal/infrastructure/json"
)

type RegistryStats interface {
	Stats() domain.RegistryStats
}

type ConnectionCounter interface {
	Count() int
}

type Handler struct {
	registry    RegistryStats
	connections ConnectionCounter
}

func NewHandler(registry RegistryStats, connections ConnectionCounter) *Handler {
	return &Handler{
		registry:    registry,
		connections: connections,
	}
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	s := h.registry.Stats()

	_ = json.Write(w, http.StatusOK, Response{
		Rooms:       s.Rooms,
		Members:     s.Members,
		Connections: h.connections.Count(),
	})
}
