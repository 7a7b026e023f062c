package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Schedule is a lazily materialized reservation slot. It is unique per
// (provider, service, start) and is never hard-deleted.
type Schedule struct {
	bun.BaseModel `bun:"table:schedules,alias:s"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID uuid.UUID `bun:"provider_id,notnull,type:uuid"`
	ServiceID  uuid.UUID `bun:"service_id,notnull,type:uuid"`
	StartTime  time.Time `bun:"start_time,notnull"`
	EndTime    time.Time `bun:"end_time,notnull"`
	Available  bool      `bun:"available,notnull"`
	Version    int64     `bun:"version,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (s *Schedule) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.Version == 0 {
			s.Version = 1
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

func (s Schedule) Key() SlotKey {
	return SlotKey{ProviderID: s.ProviderID, ServiceID: s.ServiceID, StartTime: s.StartTime}
}

// SlotKey is the lookup identity of a Schedule row.
type SlotKey struct {
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
	StartTime  time.Time
}

func (k SlotKey) String() string {
	return k.ProviderID.String() + "/" + k.ServiceID.String() + "/" + k.StartTime.UTC().Format(time.RFC3339Nano)
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals share any instant.
// Back-to-back intervals (a.End == b.Start) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}
