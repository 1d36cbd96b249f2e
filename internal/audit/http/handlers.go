package audithttp

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/audit"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/rbac"
)

const (
	defaultDateRange = 30 * 24 * time.Hour
	maxDateRange     = 366 * 24 * time.Hour
	maxExportPages   = 20
	dateLayout       = "2006-01-02"
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves the agency audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, guards rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: guards, now: time.Now}
}

// MountRoutes registers audit routes under an agency context.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.CapAgencyAdmin))
		r.Get("/audit", h.handleTimeline)
		r.Get("/audit.csv", h.handleExport)
	})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters.Page = 1
	filters.PageSize = 50
	var rows []audit.TimelineRow
	for i := 0; i < maxExportPages; i++ {
		result, err := h.service.Timeline(r.Context(), filters)
		if err != nil {
			h.handleServerError(w, "export audit timeline", err)
			return
		}
		rows = append(rows, result.Rows...)
		if !result.Paging.HasNext {
			break
		}
		filters.Page++
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"audit-%s.csv\"", filters.AgencyID))
	if err := writeCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func writeCSV(w http.ResponseWriter, rows []audit.TimelineRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"at", "actor_id", "action", "entity", "entity_id", "meta"}); err != nil {
		return err
	}
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		record := []string{row.At.UTC().Format(time.RFC3339), row.ActorID.String(), row.Action, row.Entity, row.EntityID, meta}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	ac := access.AgencyFromContext(r.Context())
	now := h.now().UTC()

	to := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return audit.TimelineFilters{}, validationError("to")
		}
		to = parsed.Add(24 * time.Hour)
	}
	from := to.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := time.Parse(dateLayout, v)
		if err != nil {
			return audit.TimelineFilters{}, validationError("from")
		}
		from = parsed
	}
	if !from.Before(to) || to.Sub(from) > maxDateRange {
		return audit.TimelineFilters{}, validationError("range")
	}

	var actor uuid.UUID
	if v := strings.TrimSpace(q.Get("actor")); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError("actor")
		}
		actor = parsed
	}
	page, err := positiveInt(q.Get("page"), 1)
	if err != nil || page > audit.MaxPage {
		return audit.TimelineFilters{}, validationError("page")
	}
	pageSize, err := positiveInt(q.Get("page_size"), 0)
	if err != nil {
		return audit.TimelineFilters{}, validationError("page_size")
	}

	return audit.TimelineFilters{
		AgencyID: ac.AgencyID,
		From:     from,
		To:       to,
		Actor:    actor,
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return n, nil
}

func validationError(field string) error {
	return fmt.Errorf("%w: invalid %s", httpx.ErrValidation, field)
}

func (h *Handler) handleServerError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
