package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/events"
	"philbox/scheduling/internal/metrics"
	"philbox/scheduling/internal/store"
)

type AcceptInput struct {
	SlotID *uuid.UUID
	Notes  string
}

func loadProcessing(ctx context.Context, tx store.SchedulingTx, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	req, err := tx.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AppointmentRequest{}, ErrRequestNotFoundOrAlreadyProcessed
		}
		return domain.AppointmentRequest{}, err
	}
	if req.State != domain.RequestStateProcessing {
		return domain.AppointmentRequest{}, ErrRequestNotFoundOrAlreadyProcessed
	}
	return req, nil
}

// transitionScope resolves which party column a transition is checked
// against. side is the role the transition belongs to: providers accept and
// reject, requesters cancel. Admins act on any row, so both ids come back empty.
func transitionScope(caller Caller, side domain.Role, requestID uuid.UUID) (providerID, requesterID string, err error) {
	if err := validateCaller(caller); err != nil {
		return "", "", err
	}
	if requestID == uuid.Nil {
		return "", "", validationError("request_id is required")
	}
	switch caller.Role {
	case domain.RoleAdmin:
		return "", "", nil
	case side:
		if side == domain.RoleProvider {
			return caller.ID, "", nil
		}
		return "", caller.ID, nil
	default:
		return "", "", ErrRequestNotFoundOrAlreadyProcessed
	}
}

func ownsRequest(req domain.AppointmentRequest, providerID, requesterID string) bool {
	if providerID != "" && req.ProviderID != providerID {
		return false
	}
	if requesterID != "" && req.RequesterID != requesterID {
		return false
	}
	return true
}

// AcceptRequest confirms a processing request. When a slot is involved the
// request transition and the slot reservation commit together; a concurrent
// acceptance that reserved the slot first makes this call fail with
// ErrSlotNotAvailable and leaves the request processing.
func (s *Service) AcceptRequest(ctx context.Context, caller Caller, requestID uuid.UUID, in AcceptInput) (domain.AppointmentRequest, error) {
	providerID, _, err := transitionScope(caller, domain.RoleProvider, requestID)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}
	if in.SlotID != nil && *in.SlotID == uuid.Nil {
		return domain.AppointmentRequest{}, validationError("invalid slot_id")
	}
	notes, err := validateNotes(in.Notes)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	// The owner lock is keyed by provider; admins learn it from the row.
	lockOwner := providerID
	if lockOwner == "" {
		existing, err := s.repo.GetRequest(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.AppointmentRequest{}, ErrRequestNotFoundOrAlreadyProcessed
			}
			return domain.AppointmentRequest{}, err
		}
		lockOwner = existing.ProviderID
	}

	var accepted domain.AppointmentRequest
	err = s.repo.InOwnerTransaction(ctx, lockOwner, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := loadProcessing(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if current.ProviderID != lockOwner {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		slotID := in.SlotID
		if slotID == nil {
			slotID = current.SlotID
		}
		decided := s.now().UTC()

		moved, err := tx.TransitionRequest(ctx, store.RequestTransition{
			RequestID:  requestID,
			ProviderID: providerID,
			To:         domain.RequestStateAccepted,
			SlotID:     slotID,
			Notes:      notes,
			DecidedAt:  decided,
		})
		if err != nil {
			return err
		}
		if !moved {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		if slotID != nil {
			reserved, err := tx.ReserveSlot(ctx, current.ProviderID, *slotID, requestID)
			if err != nil {
				return err
			}
			if !reserved {
				if _, err := tx.GetSlot(ctx, current.ProviderID, *slotID); err != nil {
					return mapSlotLookup(err)
				}
				return ErrSlotNotAvailable
			}
		}

		accepted = current
		accepted.State = domain.RequestStateAccepted
		accepted.SlotID = slotID
		if notes != "" {
			accepted.Notes = notes
		}
		accepted.DecidedAt = &decided
		accepted.UpdatedAt = decided
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotNotAvailable) {
			metrics.RecordReservationConflict()
			s.log.Warn("slot reservation lost",
				zap.String("request_id", requestID.String()),
				zap.String("provider_id", lockOwner),
			)
		}
		return domain.AppointmentRequest{}, err
	}

	s.committed(ctx, accepted, caller, notes)
	return accepted, nil
}

func (s *Service) RejectRequest(ctx context.Context, caller Caller, requestID uuid.UUID, reason string) (domain.AppointmentRequest, error) {
	providerID, _, err := transitionScope(caller, domain.RoleProvider, requestID)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}
	reason, err = trimmedReason(reason, "rejection_reason", true)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	var rejected domain.AppointmentRequest
	err = s.repo.InTransaction(ctx, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := loadProcessing(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !ownsRequest(current, providerID, "") {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		decided := s.now().UTC()
		moved, err := tx.TransitionRequest(ctx, store.RequestTransition{
			RequestID:       requestID,
			ProviderID:      providerID,
			To:              domain.RequestStateCancelled,
			CancelledBy:     domain.RoleProvider,
			RejectionReason: reason,
			DecidedAt:       decided,
		})
		if err != nil {
			return err
		}
		if !moved {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		rejected = current
		rejected.State = domain.RequestStateCancelled
		rejected.CancelledBy = domain.RoleProvider
		rejected.RejectionReason = reason
		rejected.DecidedAt = &decided
		rejected.UpdatedAt = decided
		return nil
	})
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	s.committed(ctx, rejected, caller, reason)
	return rejected, nil
}

func (s *Service) CancelRequest(ctx context.Context, caller Caller, requestID uuid.UUID, reason string) (domain.AppointmentRequest, error) {
	_, requesterID, err := transitionScope(caller, domain.RoleRequester, requestID)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}
	reason, err = trimmedReason(reason, "cancellation_reason", false)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	var cancelled domain.AppointmentRequest
	err = s.repo.InTransaction(ctx, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := loadProcessing(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !ownsRequest(current, "", requesterID) {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		decided := s.now().UTC()
		moved, err := tx.TransitionRequest(ctx, store.RequestTransition{
			RequestID:          requestID,
			RequesterID:        requesterID,
			To:                 domain.RequestStateCancelled,
			CancelledBy:        domain.RoleRequester,
			CancellationReason: reason,
			DecidedAt:          decided,
		})
		if err != nil {
			return err
		}
		if !moved {
			return ErrRequestNotFoundOrAlreadyProcessed
		}

		if current.SlotID != nil {
			released, err := tx.ReleaseSlot(ctx, *current.SlotID, requestID)
			if err != nil {
				return err
			}
			if released {
				s.log.Info("slot released",
					zap.String("slot_id", current.SlotID.String()),
					zap.String("request_id", requestID.String()),
				)
			}
		}

		cancelled = current
		cancelled.State = domain.RequestStateCancelled
		cancelled.CancelledBy = domain.RoleRequester
		cancelled.CancellationReason = reason
		cancelled.DecidedAt = &decided
		cancelled.UpdatedAt = decided
		return nil
	})
	if err != nil {
		return domain.AppointmentRequest{}, err
	}

	s.committed(ctx, cancelled, caller, reason)
	return cancelled, nil
}

func (s *Service) committed(ctx context.Context, req domain.AppointmentRequest, caller Caller, reason string) {
	metrics.RecordTransition(string(req.State), string(caller.Role))
	ev := events.TransitionEvent{
		RequestID:   req.ID.String(),
		ProviderID:  req.ProviderID,
		RequesterID: req.RequesterID,
		OldState:    string(domain.RequestStateProcessing),
		NewState:    string(req.State),
		Actor:       string(caller.Role),
		Reason:      reason,
		OccurredAt:  s.now().UTC(),
	}
	if req.DecidedAt != nil {
		ev.OccurredAt = *req.DecidedAt
	}
	if req.SlotID != nil {
		ev.SlotID = req.SlotID.String()
	}

	s.log.Info("appointment request transitioned",
		zap.String("request_id", ev.RequestID),
		zap.String("new_state", ev.NewState),
		zap.String("actor", ev.Actor),
	)
	s.events.Transition(ctx, ev)
	s.activity(ctx, caller.ID, "request."+string(req.State), ev.RequestID, map[string]any{
		"slot_id": ev.SlotID,
	})
}
