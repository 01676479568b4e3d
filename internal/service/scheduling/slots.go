package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/metrics"
	"philbox/scheduling/internal/store"
)

type CreateSlotInput struct {
	Owner           Caller
	Date            time.Time
	StartTime       domain.Clock
	EndTime         domain.Clock
	DurationMinutes int
	Notes           string
}

type CreateRecurringSlotsInput struct {
	Owner           Caller
	StartTime       domain.Clock
	EndTime         domain.Clock
	DurationMinutes int
	Pattern         domain.RecurringPattern
	Notes           string
}

// slotOwner resolves the schedule a caller writes to. Only providers own
// slots.
func slotOwner(caller Caller) (string, error) {
	if err := validateCaller(caller); err != nil {
		return "", err
	}
	if caller.Role != domain.RoleProvider {
		return "", ErrNotSlotOwner
	}
	return caller.ID, nil
}

// SlotChanges holds the fields a provider may edit. Nil fields are left as is.
type SlotChanges struct {
	StartTime       *domain.Clock
	EndTime         *domain.Clock
	DurationMinutes *int
	Notes           *string
	Status          *domain.SlotStatus
}

type SlotQuery struct {
	From   *time.Time
	To     *time.Time
	Status domain.SlotStatus
}

func validateWindow(start, end domain.Clock, duration int) error {
	if !start.Valid() || !end.Valid() {
		return validationError("invalid start_time or end_time")
	}
	if end <= start {
		return ErrInvalidTimeRange
	}
	if duration <= 0 {
		return validationError("duration_minutes must be positive")
	}
	if duration > int(end-start) {
		return validationError("duration_minutes must fit within the slot")
	}
	return nil
}

func validateNotes(notes string) (string, error) {
	notes = strings.TrimSpace(notes)
	if len([]rune(notes)) > maxNotesLength {
		return "", validationError("notes too long")
	}
	return notes, nil
}

func (s *Service) CreateSlot(ctx context.Context, in CreateSlotInput) (domain.Slot, error) {
	ownerID, err := slotOwner(in.Owner)
	if err != nil {
		return domain.Slot{}, err
	}
	if in.Date.IsZero() {
		return domain.Slot{}, validationError("date is required")
	}
	if err := validateWindow(in.StartTime, in.EndTime, in.DurationMinutes); err != nil {
		return domain.Slot{}, err
	}
	notes, err := validateNotes(in.Notes)
	if err != nil {
		return domain.Slot{}, err
	}

	slot := domain.Slot{
		OwnerID:         ownerID,
		Date:            domain.DateOf(in.Date),
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		DurationMinutes: in.DurationMinutes,
		Status:          domain.SlotStatusAvailable,
		Notes:           notes,
	}

	var created domain.Slot
	err = s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SchedulingTx) error {
		overlapping, err := tx.FindOverlappingSlots(ctx, slot.OwnerID, slot.Date, slot.StartTime, slot.EndTime, uuid.Nil)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return ErrSlotOverlap
		}
		created, err = tx.InsertSlot(ctx, slot)
		if errors.Is(err, store.ErrConflict) {
			return ErrSlotOverlap
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) {
			metrics.RecordSlotConflict("create")
		}
		return domain.Slot{}, err
	}

	metrics.RecordSlotsCreated("single", 1)
	s.log.Info("slot created",
		zap.String("owner_id", created.OwnerID),
		zap.String("slot_id", created.ID.String()),
		zap.String("date", domain.FormatDate(created.Date)),
	)
	s.activity(ctx, created.OwnerID, "slot.created", created.ID.String(), map[string]any{
		"date":       domain.FormatDate(created.Date),
		"start_time": created.StartTime.String(),
		"end_time":   created.EndTime.String(),
	})
	return created, nil
}

// CreateRecurringSlots materializes one slot per qualifying date. Dates that
// collide with an existing bookable slot are skipped, so repeating a call
// with the same pattern creates nothing new.
func (s *Service) CreateRecurringSlots(ctx context.Context, in CreateRecurringSlotsInput) ([]domain.Slot, error) {
	ownerID, err := slotOwner(in.Owner)
	if err != nil {
		return nil, err
	}
	if err := validateWindow(in.StartTime, in.EndTime, in.DurationMinutes); err != nil {
		return nil, err
	}
	notes, err := validateNotes(in.Notes)
	if err != nil {
		return nil, err
	}

	pattern := in.Pattern.Normalize()
	dates, err := domain.ExpandDates(pattern)
	if err != nil {
		return nil, validationError(err.Error())
	}

	var (
		created []domain.Slot
		skipped int
	)
	err = s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SchedulingTx) error {
		created = created[:0]
		skipped = 0
		for _, date := range dates {
			overlapping, err := tx.FindOverlappingSlots(ctx, ownerID, date, in.StartTime, in.EndTime, uuid.Nil)
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				skipped++
				continue
			}

			stamped := pattern
			stamped.DaysOfWeek = slices.Clone(pattern.DaysOfWeek)
			slot, err := tx.InsertSlot(ctx, domain.Slot{
				OwnerID:          ownerID,
				Date:             date,
				StartTime:        in.StartTime,
				EndTime:          in.EndTime,
				DurationMinutes:  in.DurationMinutes,
				Status:           domain.SlotStatusAvailable,
				IsRecurring:      true,
				RecurringPattern: &stamped,
				Notes:            notes,
			})
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return ErrSlotOverlap
				}
				return fmt.Errorf("insert slot for %s: %w", domain.FormatDate(date), err)
			}
			created = append(created, slot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordSlotsCreated("recurring", len(created))
	metrics.RecordRecurringSkipped(skipped)
	s.log.Info("recurring slots created",
		zap.String("owner_id", ownerID),
		zap.String("frequency", string(pattern.Frequency)),
		zap.Int("candidates", len(dates)),
		zap.Int("created", len(created)),
		zap.Int("skipped", skipped),
	)
	if len(created) > 0 {
		s.activity(ctx, ownerID, "slot.recurring_created", created[0].ID.String(), map[string]any{
			"frequency": string(pattern.Frequency),
			"created":   len(created),
			"skipped":   skipped,
		})
	}
	return created, nil
}

func (s *Service) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	if ownerID == "" {
		return domain.Slot{}, validationError("owner_id is required")
	}
	if slotID == uuid.Nil {
		return domain.Slot{}, validationError("slot_id is required")
	}
	slot, err := s.repo.GetSlot(ctx, ownerID, slotID)
	if err != nil {
		return domain.Slot{}, mapSlotLookup(err)
	}
	return slot, nil
}

func (s *Service) ListSlots(ctx context.Context, ownerID string, q SlotQuery) ([]domain.Slot, error) {
	if ownerID == "" {
		return nil, validationError("owner_id is required")
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, validationError("invalid status")
	}
	filter := store.SlotFilter{Status: q.Status}
	if q.From != nil {
		from := domain.DateOf(*q.From)
		filter.From = &from
	}
	if q.To != nil {
		to := domain.DateOf(*q.To)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, validationError("end_date must not be before start_date")
	}
	return s.repo.ListSlots(ctx, ownerID, filter)
}

func (s *Service) UpdateSlot(ctx context.Context, caller Caller, slotID uuid.UUID, changes SlotChanges) (domain.Slot, error) {
	ownerID, err := slotOwner(caller)
	if err != nil {
		return domain.Slot{}, err
	}
	if slotID == uuid.Nil {
		return domain.Slot{}, validationError("slot_id is required")
	}
	if changes.Status != nil {
		switch *changes.Status {
		case domain.SlotStatusAvailable, domain.SlotStatusUnavailable:
		default:
			return domain.Slot{}, validationError("status may only be available or unavailable")
		}
	}

	var updated domain.Slot
	err = s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := tx.GetSlot(ctx, ownerID, slotID)
		if err != nil {
			return mapSlotLookup(err)
		}
		if current.Status == domain.SlotStatusBooked {
			return ErrCannotUpdateBookedSlot
		}
		if s.isPast(current) {
			return ErrCannotUpdatePastSlot
		}

		next := current
		if changes.StartTime != nil {
			next.StartTime = *changes.StartTime
		}
		if changes.EndTime != nil {
			next.EndTime = *changes.EndTime
		}
		if changes.DurationMinutes != nil {
			next.DurationMinutes = *changes.DurationMinutes
		}
		if changes.Notes != nil {
			notes, err := validateNotes(*changes.Notes)
			if err != nil {
				return err
			}
			next.Notes = notes
		}
		if changes.Status != nil {
			next.Status = *changes.Status
		}
		if err := validateWindow(next.StartTime, next.EndTime, next.DurationMinutes); err != nil {
			return err
		}

		timesChanged := next.StartTime != current.StartTime || next.EndTime != current.EndTime
		reopened := !current.Bookable() && next.Bookable()
		if next.Bookable() && (timesChanged || reopened) {
			overlapping, err := tx.FindOverlappingSlots(ctx, ownerID, next.Date, next.StartTime, next.EndTime, next.ID)
			if err != nil {
				return err
			}
			if len(overlapping) > 0 {
				return ErrSlotOverlap
			}
		}

		ok, err := tx.UpdateSlot(ctx, next)
		if errors.Is(err, store.ErrConflict) {
			return ErrSlotOverlap
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrCannotUpdateBookedSlot
		}
		updated = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) {
			metrics.RecordSlotConflict("update")
		}
		return domain.Slot{}, err
	}

	s.log.Info("slot updated", zap.String("owner_id", ownerID), zap.String("slot_id", slotID.String()))
	s.activity(ctx, ownerID, "slot.updated", slotID.String(), map[string]any{
		"start_time": updated.StartTime.String(),
		"end_time":   updated.EndTime.String(),
		"status":     string(updated.Status),
	})
	return updated, nil
}

func (s *Service) DeleteSlot(ctx context.Context, caller Caller, slotID uuid.UUID) error {
	ownerID, err := slotOwner(caller)
	if err != nil {
		return err
	}
	if slotID == uuid.Nil {
		return validationError("slot_id is required")
	}

	err = s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := tx.GetSlot(ctx, ownerID, slotID)
		if err != nil {
			return mapSlotLookup(err)
		}
		if current.Status == domain.SlotStatusBooked {
			return ErrCannotDeleteBookedSlot
		}
		if s.isPast(current) {
			return ErrCannotDeletePastSlot
		}
		ok, err := tx.DeleteSlot(ctx, ownerID, slotID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCannotDeleteBookedSlot
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("slot deleted", zap.String("owner_id", ownerID), zap.String("slot_id", slotID.String()))
	s.activity(ctx, ownerID, "slot.deleted", slotID.String(), nil)
	return nil
}

func (s *Service) MarkSlotUnavailable(ctx context.Context, caller Caller, slotID uuid.UUID) (domain.Slot, error) {
	ownerID, err := slotOwner(caller)
	if err != nil {
		return domain.Slot{}, err
	}
	if slotID == uuid.Nil {
		return domain.Slot{}, validationError("slot_id is required")
	}

	var updated domain.Slot
	err = s.repo.InOwnerTransaction(ctx, ownerID, func(ctx context.Context, tx store.SchedulingTx) error {
		current, err := tx.GetSlot(ctx, ownerID, slotID)
		if err != nil {
			return mapSlotLookup(err)
		}
		if current.Status == domain.SlotStatusBooked {
			return ErrCannotModifyBookedSlot
		}
		if s.isPast(current) {
			return ErrCannotUpdatePastSlot
		}
		if current.Status == domain.SlotStatusUnavailable {
			updated = current
			return nil
		}

		next := current
		next.Status = domain.SlotStatusUnavailable
		ok, err := tx.UpdateSlot(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCannotModifyBookedSlot
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Slot{}, err
	}

	s.activity(ctx, ownerID, "slot.marked_unavailable", slotID.String(), nil)
	return updated, nil
}
