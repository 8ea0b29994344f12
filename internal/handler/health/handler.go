// Package health serves the service banner and the readiness probe.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vettalaw/backend/pkg/utils"
)

const (
	ServiceName = "VettaLaw API"
	Version     = "1.0.0"
)

const pingTimeout = 2 * time.Second

// Checker reports backend state.
type Checker interface {
	AIConfigured() bool
	Ping(ctx context.Context) error
}

type Handler struct {
	checker Checker
}

func New(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/healthz", h.handleHealthz)
}

type rootResponse struct {
	Service      string `json:"service"`
	Status       string `json:"status"`
	Version      string `json:"version"`
	AIConfigured bool   `json:"ai_configured"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, rootResponse{
		Service:      ServiceName,
		Status:       "running",
		Version:      Version,
		AIConfigured: h.checker.AIConfigured(),
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.checker.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check failed")
		utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"store":  "unreachable",
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "ok"})
}
