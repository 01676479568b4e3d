package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SlotStatus string

const (
	SlotStatusAvailable   SlotStatus = "available"
	SlotStatusBooked      SlotStatus = "booked"
	SlotStatusUnavailable SlotStatus = "unavailable"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotStatusAvailable, SlotStatusBooked, SlotStatusUnavailable:
		return true
	}
	return false
}

type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	ID               uuid.UUID         `bun:"id,pk,type:uuid"`
	OwnerID          string            `bun:"owner_id,notnull"`
	Date             time.Time         `bun:"date,type:date,notnull"`
	StartTime        Clock             `bun:"start_time,type:time,notnull"`
	EndTime          Clock             `bun:"end_time,type:time,notnull"`
	DurationMinutes  int               `bun:"duration_minutes,notnull"`
	Status           SlotStatus        `bun:"status,notnull"`
	IsRecurring      bool              `bun:"is_recurring,notnull"`
	RecurringPattern *RecurringPattern `bun:"recurring_pattern,type:jsonb"`
	Notes            string            `bun:"notes,notnull"`
	BoundRequestID   *uuid.UUID        `bun:"bound_request_id,type:uuid"`
	CreatedAt        time.Time         `bun:"created_at,notnull"`
	UpdatedAt        time.Time         `bun:"updated_at,notnull"`
}

func (s *Slot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
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

func (s Slot) Bookable() bool {
	return s.Status != SlotStatusUnavailable
}

// Overlaps treats both windows as half-open.
func (s Slot) Overlaps(start, end Clock) bool {
	return s.StartTime < end && start < s.EndTime
}
