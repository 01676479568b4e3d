// Package memory is an in-process implementation of store.SchedulingRepository.
// Transactions are serialized on a single mutex and work on a copy of the
// data that is swapped in only when the callback succeeds, which mirrors the
// commit/rollback and compare-and-swap behaviour of the Postgres repository.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/store"
)

type Store struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]domain.Slot
	requests map[uuid.UUID]domain.AppointmentRequest
	now      func() time.Time
}

func New() *Store {
	return &Store{
		slots:    make(map[uuid.UUID]domain.Slot),
		requests: make(map[uuid.UUID]domain.AppointmentRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ store.SchedulingRepository = (*Store)(nil)

func (s *Store) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return s.InTransaction(ctx, fn)
}

func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		slots:    maps.Clone(s.slots),
		requests: maps.Clone(s.requests),
		now:      s.now,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.slots = tx.slots
	s.requests = tx.requests
	return nil
}

func (s *Store) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getSlot(s.slots, ownerID, slotID)
}

func (s *Store) ListSlots(ctx context.Context, ownerID string, filter store.SlotFilter) ([]domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Slot, 0)
	for _, slot := range s.slots {
		if slot.OwnerID != ownerID {
			continue
		}
		if filter.From != nil && slot.Date.Before(domain.DateOf(*filter.From)) {
			continue
		}
		if filter.To != nil && slot.Date.After(domain.DateOf(*filter.To)) {
			continue
		}
		if filter.Status != "" && slot.Status != filter.Status {
			continue
		}
		out = append(out, cloneSlot(slot))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getRequest(s.requests, requestID)
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]domain.AppointmentRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.AppointmentRequest, 0)
	for _, req := range s.requests {
		if filter.ProviderID != "" && req.ProviderID != filter.ProviderID {
			continue
		}
		if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
			continue
		}
		if filter.State != "" && req.State != filter.State {
			continue
		}
		if filter.From != nil || filter.To != nil {
			if req.PreferredDate == nil {
				continue
			}
			d := domain.DateOf(*req.PreferredDate)
			if filter.From != nil && d.Before(domain.DateOf(*filter.From)) {
				continue
			}
			if filter.To != nil && d.After(domain.DateOf(*filter.To)) {
				continue
			}
		}
		matched = append(matched, cloneRequest(req))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.AppointmentRequest{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func getSlot(slots map[uuid.UUID]domain.Slot, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	slot, ok := slots[slotID]
	if !ok || slot.OwnerID != ownerID {
		return domain.Slot{}, store.ErrNotFound
	}
	return cloneSlot(slot), nil
}

func getRequest(requests map[uuid.UUID]domain.AppointmentRequest, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	req, ok := requests[requestID]
	if !ok {
		return domain.AppointmentRequest{}, store.ErrNotFound
	}
	return cloneRequest(req), nil
}

// Stored rows never share pointers or slices with callers.
func cloneSlot(slot domain.Slot) domain.Slot {
	if slot.RecurringPattern != nil {
		pattern := *slot.RecurringPattern
		pattern.DaysOfWeek = slices.Clone(pattern.DaysOfWeek)
		slot.RecurringPattern = &pattern
	}
	slot.BoundRequestID = clonePtr(slot.BoundRequestID)
	return slot
}

func cloneRequest(req domain.AppointmentRequest) domain.AppointmentRequest {
	req.SlotID = clonePtr(req.SlotID)
	req.PreferredDate = clonePtr(req.PreferredDate)
	req.PreferredTime = clonePtr(req.PreferredTime)
	req.DecidedAt = clonePtr(req.DecidedAt)
	return req
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type memTx struct {
	slots    map[uuid.UUID]domain.Slot
	requests map[uuid.UUID]domain.AppointmentRequest
	now      func() time.Time
}

// overlaps plays the part of the slots_no_overlap exclusion constraint.
func (t *memTx) overlaps(candidate domain.Slot) bool {
	if !candidate.Bookable() {
		return false
	}
	for id, slot := range t.slots {
		if id == candidate.ID || slot.OwnerID != candidate.OwnerID || !slot.Bookable() {
			continue
		}
		if !slot.Date.Equal(candidate.Date) {
			continue
		}
		if slot.Overlaps(candidate.StartTime, candidate.EndTime) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if slot.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Slot{}, err
		}
		slot.ID = id
	}
	now := t.now()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = now
	}
	slot.Date = domain.DateOf(slot.Date)

	if _, exists := t.slots[slot.ID]; exists {
		return domain.Slot{}, store.ErrConflict
	}
	if t.overlaps(slot) {
		return domain.Slot{}, store.ErrConflict
	}
	t.slots[slot.ID] = cloneSlot(slot)
	return slot, nil
}

func (t *memTx) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	return getSlot(t.slots, ownerID, slotID)
}

func (t *memTx) FindOverlappingSlots(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error) {
	day := domain.DateOf(date)
	out := make([]domain.Slot, 0)
	for id, slot := range t.slots {
		if id == excludeID || slot.OwnerID != ownerID || !slot.Bookable() {
			continue
		}
		if slot.Date.Equal(day) && slot.Overlaps(start, end) {
			out = append(out, cloneSlot(slot))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (t *memTx) UpdateSlot(ctx context.Context, slot domain.Slot) (bool, error) {
	current, ok := t.slots[slot.ID]
	if !ok || current.OwnerID != slot.OwnerID || current.Status == domain.SlotStatusBooked {
		return false, nil
	}

	current.StartTime = slot.StartTime
	current.EndTime = slot.EndTime
	current.DurationMinutes = slot.DurationMinutes
	current.Status = slot.Status
	current.Notes = slot.Notes
	current.UpdatedAt = t.now()
	if t.overlaps(current) {
		return false, store.ErrConflict
	}
	t.slots[slot.ID] = current
	return true, nil
}

func (t *memTx) DeleteSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (bool, error) {
	current, ok := t.slots[slotID]
	if !ok || current.OwnerID != ownerID || current.Status == domain.SlotStatusBooked {
		return false, nil
	}
	delete(t.slots, slotID)
	for id, req := range t.requests {
		if req.SlotID != nil && *req.SlotID == slotID {
			req.SlotID = nil
			t.requests[id] = req
		}
	}
	return true, nil
}

func (t *memTx) ReserveSlot(ctx context.Context, ownerID string, slotID, requestID uuid.UUID) (bool, error) {
	current, ok := t.slots[slotID]
	if !ok || current.OwnerID != ownerID || current.Status != domain.SlotStatusAvailable {
		return false, nil
	}
	bound := requestID
	current.Status = domain.SlotStatusBooked
	current.BoundRequestID = &bound
	current.UpdatedAt = t.now()
	t.slots[slotID] = current
	return true, nil
}

func (t *memTx) ReleaseSlot(ctx context.Context, slotID, requestID uuid.UUID) (bool, error) {
	current, ok := t.slots[slotID]
	if !ok || current.Status != domain.SlotStatusBooked {
		return false, nil
	}
	if current.BoundRequestID == nil || *current.BoundRequestID != requestID {
		return false, nil
	}
	current.Status = domain.SlotStatusAvailable
	current.BoundRequestID = nil
	current.UpdatedAt = t.now()
	t.slots[slotID] = current
	return true, nil
}

func (t *memTx) InsertRequest(ctx context.Context, req domain.AppointmentRequest) (domain.AppointmentRequest, error) {
	if req.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.AppointmentRequest{}, err
		}
		req.ID = id
	}
	if _, exists := t.requests[req.ID]; exists {
		return domain.AppointmentRequest{}, store.ErrIdempotencyConflict
	}
	if req.State == domain.RequestStateProcessing && req.SlotID != nil {
		dup, err := t.HasProcessingRequest(ctx, req.RequesterID, *req.SlotID)
		if err != nil {
			return domain.AppointmentRequest{}, err
		}
		if dup {
			return domain.AppointmentRequest{}, store.ErrConflict
		}
	}

	now := t.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = now
	}
	t.requests[req.ID] = cloneRequest(req)
	return req, nil
}

func (t *memTx) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	return getRequest(t.requests, requestID)
}

func (t *memTx) HasProcessingRequest(ctx context.Context, requesterID string, slotID uuid.UUID) (bool, error) {
	for _, req := range t.requests {
		if req.RequesterID == requesterID && req.State == domain.RequestStateProcessing &&
			req.SlotID != nil && *req.SlotID == slotID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) TransitionRequest(ctx context.Context, tr store.RequestTransition) (bool, error) {
	req, ok := t.requests[tr.RequestID]
	if !ok || req.State != domain.RequestStateProcessing {
		return false, nil
	}
	if tr.ProviderID != "" && req.ProviderID != tr.ProviderID {
		return false, nil
	}
	if tr.RequesterID != "" && req.RequesterID != tr.RequesterID {
		return false, nil
	}

	req.State = tr.To
	decidedAt := tr.DecidedAt
	req.DecidedAt = &decidedAt
	req.UpdatedAt = tr.DecidedAt
	if tr.SlotID != nil {
		slotID := *tr.SlotID
		req.SlotID = &slotID
	}
	if tr.CancelledBy != "" {
		req.CancelledBy = tr.CancelledBy
	}
	if tr.RejectionReason != "" {
		req.RejectionReason = tr.RejectionReason
	}
	if tr.CancellationReason != "" {
		req.CancellationReason = tr.CancellationReason
	}
	if tr.Notes != "" {
		req.Notes = tr.Notes
	}
	t.requests[tr.RequestID] = req
	return true, nil
}
