package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/axolop/axolop-crm/internal/platform/httpx"
)

const maxWebhookBytes = 64 << 10

// Handler receives signed billing webhooks.
type Handler struct {
	service *Service
	secret  []byte
	logger  *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, secret: []byte(secret), logger: logger}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httprate.LimitByIP(120, time.Minute)).Post("/billing", h.receive)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("billing webhook rejected", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, err))
		return
	}
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	outcome, err := h.service.Process(r.Context(), ev)
	if err != nil {
		if !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("billing webhook", slog.String("event_id", ev.ID), slog.Any("error", err))
			err = fmt.Errorf("%w: retry later", httpx.ErrUnavailable)
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"id": ev.ID, "status": string(outcome)})
}
