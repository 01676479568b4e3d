package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/store"
)

type CreateRequestInput struct {
	RequesterID     string
	ProviderID      string
	SlotID          *uuid.UUID
	AppointmentType domain.AppointmentType
	Reason          string
	PreferredDate   *time.Time
	PreferredTime   *domain.Clock
	IdempotencyKey  string
}

type RequestQuery struct {
	State domain.RequestState
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}

func requestIDForKey(requesterID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("philbox:create_appointment_request:"+requesterID+":"+key))
}

// sameSubmission reports whether a replayed create carries the parameters the
// stored request was created with.
func sameSubmission(existing, candidate domain.AppointmentRequest) bool {
	if existing.RequesterID != candidate.RequesterID || existing.ProviderID != candidate.ProviderID {
		return false
	}
	if existing.AppointmentType != candidate.AppointmentType || existing.Reason != candidate.Reason {
		return false
	}
	if (existing.SlotID == nil) != (candidate.SlotID == nil) {
		return false
	}
	if candidate.SlotID != nil {
		return *existing.SlotID == *candidate.SlotID
	}
	return sameDate(existing.PreferredDate, candidate.PreferredDate) &&
		sameClock(existing.PreferredTime, candidate.PreferredTime)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return domain.DateOf(*a).Equal(domain.DateOf(*b))
}

func sameClock(a, b *domain.Clock) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) CreateAppointmentRequest(ctx context.Context, in CreateRequestInput) (domain.AppointmentRequest, error) {
	if in.RequesterID == "" {
		return domain.AppointmentRequest{}, validationError("requester_id is required")
	}
	if in.ProviderID == "" {
		return domain.AppointmentRequest{}, validationError("provider_id is required")
	}
	if !in.AppointmentType.Valid() {
		return domain.AppointmentRequest{}, validationError("appointment_type must be in-person or online")
	}
	reason, err := trimmedReason(in.Reason, "reason", true)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}
	if in.SlotID != nil && *in.SlotID == uuid.Nil {
		return domain.AppointmentRequest{}, validationError("invalid slot_id")
	}
	if in.SlotID == nil {
		if in.PreferredDate == nil || in.PreferredTime == nil {
			return domain.AppointmentRequest{}, validationError("preferred_date and preferred_time are required without a slot")
		}
		if !in.PreferredTime.Valid() {
			return domain.AppointmentRequest{}, validationError("invalid preferred_time")
		}
	}

	req := domain.AppointmentRequest{
		RequesterID:     in.RequesterID,
		ProviderID:      in.ProviderID,
		SlotID:          in.SlotID,
		AppointmentType: in.AppointmentType,
		Reason:          reason,
		State:           domain.RequestStateProcessing,
	}
	if in.SlotID == nil {
		date := domain.DateOf(*in.PreferredDate)
		at := *in.PreferredTime
		req.PreferredDate = &date
		req.PreferredTime = &at
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.AppointmentRequest{}, validationError("idempotency_key too long")
		}
		req.ID = requestIDForKey(in.RequesterID, key)
	}

	var (
		created  domain.AppointmentRequest
		replayed bool
	)
	err = s.repo.InTransaction(ctx, func(ctx context.Context, tx store.SchedulingTx) error {
		if req.ID != uuid.Nil {
			existing, err := tx.GetRequest(ctx, req.ID)
			switch {
			case err == nil:
				if !sameSubmission(existing, req) {
					return ErrIdempotencyConflict
				}
				created = existing
				replayed = true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if req.SlotID != nil {
			slot, err := tx.GetSlot(ctx, req.ProviderID, *req.SlotID)
			if err != nil {
				return mapSlotLookup(err)
			}
			if slot.Status != domain.SlotStatusAvailable {
				return ErrSlotNotAvailable
			}
			date := slot.Date
			at := slot.StartTime
			req.PreferredDate = &date
			req.PreferredTime = &at

			dup, err := tx.HasProcessingRequest(ctx, req.RequesterID, *req.SlotID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateRequest
			}
		}

		out, err := tx.InsertRequest(ctx, req)
		switch {
		case errors.Is(err, store.ErrIdempotencyConflict):
			return ErrIdempotencyConflict
		case errors.Is(err, store.ErrConflict):
			return ErrDuplicateRequest
		case err != nil:
			return err
		}
		created = out
		return nil
	})
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	if replayed {
		return created, nil
	}
	s.log.Info("appointment request created",
		zap.String("request_id", created.ID.String()),
		zap.String("provider_id", created.ProviderID),
		zap.String("requester_id", created.RequesterID),
	)
	s.activity(ctx, created.RequesterID, "request.created", created.ID.String(), map[string]any{
		"provider_id":      created.ProviderID,
		"appointment_type": string(created.AppointmentType),
	})
	return created, nil
}

// GetRequest returns a request visible to the caller. Rows the caller is not a
// party to are reported as not found.
func (s *Service) GetRequest(ctx context.Context, caller Caller, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	if err := validateCaller(caller); err != nil {
		return domain.AppointmentRequest{}, err
	}
	if requestID == uuid.Nil {
		return domain.AppointmentRequest{}, validationError("request_id is required")
	}

	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AppointmentRequest{}, ErrRequestNotFound
		}
		return domain.AppointmentRequest{}, err
	}
	switch caller.Role {
	case domain.RoleProvider:
		if req.ProviderID != caller.ID {
			return domain.AppointmentRequest{}, ErrRequestNotFound
		}
	case domain.RoleRequester:
		if req.RequesterID != caller.ID {
			return domain.AppointmentRequest{}, ErrRequestNotFound
		}
	}
	return req, nil
}

func (s *Service) ListRequests(ctx context.Context, caller Caller, q RequestQuery) (Page[domain.AppointmentRequest], error) {
	if err := validateCaller(caller); err != nil {
		return Page[domain.AppointmentRequest]{}, err
	}
	if q.State != "" && !q.State.Valid() {
		return Page[domain.AppointmentRequest]{}, validationError("invalid state")
	}
	page, limit, err := pageBounds(q.Page, q.Limit)
	if err != nil {
		return Page[domain.AppointmentRequest]{}, err
	}

	filter := store.RequestFilter{
		State:  q.State,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if q.From != nil {
		from := domain.DateOf(*q.From)
		filter.From = &from
	}
	if q.To != nil {
		to := domain.DateOf(*q.To)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return Page[domain.AppointmentRequest]{}, validationError("end_date must not be before start_date")
	}
	switch caller.Role {
	case domain.RoleProvider:
		filter.ProviderID = caller.ID
	case domain.RoleRequester:
		filter.RequesterID = caller.ID
	}

	items, total, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return Page[domain.AppointmentRequest]{}, err
	}
	return Page[domain.AppointmentRequest]{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListAcceptedAppointments lists the caller's confirmed appointments.
func (s *Service) ListAcceptedAppointments(ctx context.Context, caller Caller, q RequestQuery) (Page[domain.AppointmentRequest], error) {
	q.State = domain.RequestStateAccepted
	return s.ListRequests(ctx, caller, q)
}

func validateCaller(caller Caller) error {
	if caller.ID == "" {
		return validationError("caller id is required")
	}
	if !caller.Role.Valid() {
		return validationError("invalid caller role")
	}
	return nil
}
