package audit

import (
	"time"

	"github.com/google/uuid"
)

// TimelineFilters narrows an agency audit timeline.
type TimelineFilters struct {
	AgencyID uuid.UUID
	From     time.Time
	To       time.Time
	Actor    uuid.UUID
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one audit_logs entry.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	ActorID  uuid.UUID      `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo carries simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps a timeline page.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// WindowParams is the query window handed to the repository.
type WindowParams struct {
	AgencyID   uuid.UUID
	From       time.Time
	To         time.Time
	Actor      uuid.UUID
	Action     string
	OffsetRows int32
	LimitRows  int32
}
