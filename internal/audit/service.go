package audit

import (
	"context"
	"errors"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// MaxPage bounds the requested page so the row offset stays within int32.
const MaxPage = 10000

// Repository exposes the audit queries the service needs.
type Repository interface {
	TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error)
}

// Service pages through an agency's audit trail.
type Service struct {
	repo Repository
}

// NewService constructs a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline loads one page of audit rows. One extra row is fetched to learn
// whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	rows, err := s.repo.TimelineWindow(ctx, WindowParams{
		AgencyID:   filters.AgencyID,
		From:       filters.From,
		To:         filters.To,
		Actor:      filters.Actor,
		Action:     filters.Action,
		OffsetRows: int32((page - 1) * pageSize),
		LimitRows:  int32(pageSize + 1),
	})
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline %s: %w", filters.AgencyID, err)
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
