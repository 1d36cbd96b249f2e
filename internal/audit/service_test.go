package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	err      error
	lastCall WindowParams
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRow, error) {
	s.lastCall = arg
	return s.rows, s.err
}

func rowsAt(n int) []TimelineRow {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	out := make([]TimelineRow, n)
	for i := range out {
		out[i] = TimelineRow{At: base.Add(-time.Duration(i) * time.Hour), Action: "agency.renamed", Entity: "agency"}
	}
	return out
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: rowsAt(3)}
	agencyID := uuid.New()

	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{AgencyID: agencyID, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, PagingInfo{Page: 2, PageSize: 2, HasNext: true, PrevPage: 1, NextPage: 3}, result.Paging)
	assert.Equal(t, int32(3), repo.lastCall.LimitRows)
	assert.Equal(t, int32(2), repo.lastCall.OffsetRows)
	assert.Equal(t, agencyID, repo.lastCall.AgencyID)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}

	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, 1, result.Paging.Page)
	assert.False(t, result.Paging.HasNext)
	assert.NotNil(t, result.Rows)
	assert.Equal(t, int32(maxPageSize+1), repo.lastCall.LimitRows)

	result, err = NewService(repo).Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, result.Paging.PageSize)
}

func TestServiceTimelineClampsPage(t *testing.T) {
	repo := &stubTimelineRepo{}

	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{Page: 99999999999, PageSize: maxPageSize})
	require.NoError(t, err)
	assert.Equal(t, MaxPage, result.Paging.Page)
	assert.Equal(t, int32((MaxPage-1)*maxPageSize), repo.lastCall.OffsetRows)
	assert.Positive(t, repo.lastCall.OffsetRows)
}

func TestServiceTimelineWrapsRepositoryError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := NewService(&stubTimelineRepo{err: boom}).Timeline(context.Background(), TimelineFilters{})
	assert.ErrorIs(t, err, boom)

	_, err = NewService(nil).Timeline(context.Background(), TimelineFilters{})
	assert.Error(t, err)
}
