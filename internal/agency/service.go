package agency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
	"github.com/axolop/axolop-crm/internal/shared"
)

// Store is the persistence port used by Service.
type Store interface {
	FindAgency(ctx context.Context, id uuid.UUID) (access.Agency, error)
	RenameAgency(ctx context.Context, id uuid.UUID, name string) (access.Agency, error)
}

// Auditor records agency changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RenameInput is the body accepted by the rename endpoint.
type RenameInput struct {
	Name string `json:"name" validate:"required,min=2,max=120"`
}

// Service handles agency business rules.
type Service struct {
	store    Store
	audit    Auditor
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, validate: validator.New(), logger: logger}
}

// Get returns the agency.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (access.Agency, error) {
	a, err := s.store.FindAgency(ctx, id)
	if err != nil {
		return access.Agency{}, fmt.Errorf("agency: get %s: %w", id, err)
	}
	return a, nil
}

// Rename changes the agency display name on behalf of actor.
func (s *Service) Rename(ctx context.Context, actor uuid.UUID, id uuid.UUID, in RenameInput) (access.Agency, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return access.Agency{}, fmt.Errorf("%w: %s", httpx.ErrValidation, validationMessage(err))
	}
	before, err := s.store.FindAgency(ctx, id)
	if err != nil {
		return access.Agency{}, fmt.Errorf("agency: rename %s: %w", id, err)
	}
	after, err := s.store.RenameAgency(ctx, id, in.Name)
	if err != nil {
		return access.Agency{}, fmt.Errorf("agency: rename %s: %w", id, err)
	}
	if s.audit != nil {
		entry := shared.AuditLog{
			ActorID:  actor,
			AgencyID: id,
			Action:   "agency.renamed",
			Entity:   "agency",
			EntityID: id.String(),
			Meta:     map[string]any{"from": before.Name, "to": after.Name},
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit agency rename", slog.String("agency_id", id.String()), slog.Any("error", err))
		}
	}
	return after, nil
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
