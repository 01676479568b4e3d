package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"philbox/scheduling/internal/domain"
)

type SlotFilter struct {
	From   *time.Time
	To     *time.Time
	Status domain.SlotStatus
}

// RequestFilter scopes request listings. Empty ProviderID and RequesterID
// means unscoped. From/To apply to preferred_date.
type RequestFilter struct {
	ProviderID  string
	RequesterID string
	State       domain.RequestState
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// RequestTransition moves a processing request to a terminal state. Exactly
// one of ProviderID or RequesterID scopes the write.
type RequestTransition struct {
	RequestID          uuid.UUID
	ProviderID         string
	RequesterID        string
	To                 domain.RequestState
	SlotID             *uuid.UUID
	CancelledBy        domain.Role
	RejectionReason    string
	CancellationReason string
	Notes              string
	DecidedAt          time.Time
}

type SchedulingTx interface {
	InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error)
	FindOverlappingSlots(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error)
	// UpdateSlot and DeleteSlot only touch slots that are not booked. They
	// report false when the guard rejected the write.
	UpdateSlot(ctx context.Context, slot domain.Slot) (bool, error)
	DeleteSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (bool, error)
	// ReserveSlot flips an available slot to booked and binds it to the
	// request. False means another writer got there first.
	ReserveSlot(ctx context.Context, ownerID string, slotID, requestID uuid.UUID) (bool, error)
	ReleaseSlot(ctx context.Context, slotID, requestID uuid.UUID) (bool, error)

	InsertRequest(ctx context.Context, req domain.AppointmentRequest) (domain.AppointmentRequest, error)
	GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error)
	HasProcessingRequest(ctx context.Context, requesterID string, slotID uuid.UUID) (bool, error)
	TransitionRequest(ctx context.Context, t RequestTransition) (bool, error)
}

type SchedulingRepository interface {
	// InOwnerTransaction serializes fn against every other transaction for
	// the same owner.
	InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx SchedulingTx) error) error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx SchedulingTx) error) error

	GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error)
	ListSlots(ctx context.Context, ownerID string, filter SlotFilter) ([]domain.Slot, error)
	GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.AppointmentRequest, int, error)
}
