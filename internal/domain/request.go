package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RequestState string

const (
	RequestStateProcessing RequestState = "processing"
	RequestStateAccepted   RequestState = "accepted"
	RequestStateCancelled  RequestState = "cancelled"
)

func (s RequestState) Valid() bool {
	switch s {
	case RequestStateProcessing, RequestStateAccepted, RequestStateCancelled:
		return true
	}
	return false
}

// Terminal states never transition again.
func (s RequestState) Terminal() bool {
	return s == RequestStateAccepted || s == RequestStateCancelled
}

type AppointmentType string

const (
	AppointmentTypeInPerson AppointmentType = "in-person"
	AppointmentTypeOnline   AppointmentType = "online"
)

func (t AppointmentType) Valid() bool {
	return t == AppointmentTypeInPerson || t == AppointmentTypeOnline
}

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProvider, RoleRequester, RoleAdmin:
		return true
	}
	return false
}

type AppointmentRequest struct {
	bun.BaseModel `bun:"table:appointment_requests"`

	ID                 uuid.UUID       `bun:"id,pk,type:uuid"`
	RequesterID        string          `bun:"requester_id,notnull"`
	ProviderID         string          `bun:"provider_id,notnull"`
	SlotID             *uuid.UUID      `bun:"slot_id,type:uuid"`
	AppointmentType    AppointmentType `bun:"appointment_type,notnull"`
	Reason             string          `bun:"reason,notnull"`
	PreferredDate      *time.Time      `bun:"preferred_date,type:date"`
	PreferredTime      *Clock          `bun:"preferred_time,type:time"`
	State              RequestState    `bun:"state,notnull"`
	CancelledBy        Role            `bun:"cancelled_by,nullzero"`
	RejectionReason    string          `bun:"rejection_reason,nullzero"`
	CancellationReason string          `bun:"cancellation_reason,nullzero"`
	Notes              string          `bun:"notes,nullzero"`
	DecidedAt          *time.Time      `bun:"decided_at"`
	CreatedAt          time.Time       `bun:"created_at,notnull"`
	UpdatedAt          time.Time       `bun:"updated_at,notnull"`
}

func (r *AppointmentRequest) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if r.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.ID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}
