package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/events"
	"philbox/scheduling/internal/store"
)

var (
	ErrInvalidTimeRange                  = errors.New("end_time must be after start_time")
	ErrSlotOverlap                       = errors.New("slot overlaps an existing slot")
	ErrSlotNotFound                      = errors.New("slot not found")
	ErrCannotUpdateBookedSlot            = errors.New("cannot update a booked slot")
	ErrCannotDeleteBookedSlot            = errors.New("cannot delete a booked slot")
	ErrCannotModifyBookedSlot            = errors.New("cannot modify a booked slot")
	ErrCannotUpdatePastSlot              = errors.New("cannot update a past slot")
	ErrCannotDeletePastSlot              = errors.New("cannot delete a past slot")
	ErrRequestNotFound                   = errors.New("request not found")
	ErrRequestNotFoundOrAlreadyProcessed = errors.New("request not found or already processed")
	ErrSlotNotAvailable                  = errors.New("slot not available")
	ErrDuplicateRequest                  = errors.New("a processing request for this slot already exists")
	ErrIdempotencyConflict               = errors.New("idempotency key reused with different parameters")
	ErrNotSlotOwner                      = errors.New("only providers manage slots")
)

const (
	minReasonLength = 10
	maxReasonLength = 1000
	maxNotesLength  = 2000

	defaultPageLimit = 10
	maxPageLimit     = 100
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// Caller is the identity resolved by the enclosing auth layer.
type Caller struct {
	ID   string
	Role domain.Role
}

type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

// EventSink receives notifications and activity entries once a change has
// been committed.
type EventSink interface {
	Transition(ctx context.Context, ev events.TransitionEvent)
	Activity(ctx context.Context, entry events.ActivityEntry)
}

type nopSink struct{}

func (nopSink) Transition(context.Context, events.TransitionEvent) {}
func (nopSink) Activity(context.Context, events.ActivityEntry)     {}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone that decides which calendar day is "today".
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

type Service struct {
	repo   store.SchedulingRepository
	now    func() time.Time
	loc    *time.Location
	events EventSink
	log    *zap.Logger
}

func NewService(repo store.SchedulingRepository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		now:    time.Now,
		loc:    time.UTC,
		events: nopSink{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("component", "scheduling"))
	return s
}

func (s *Service) today() time.Time {
	return domain.DateOf(s.now().In(s.loc))
}

func (s *Service) isPast(slot domain.Slot) bool {
	return domain.DateOf(slot.Date).Before(s.today())
}

func (s *Service) activity(ctx context.Context, actor, action, subject string, details map[string]any) {
	s.events.Activity(ctx, events.ActivityEntry{
		Actor:     actor,
		Action:    action,
		SubjectID: subject,
		Details:   details,
		At:        s.now().UTC(),
	})
}

// trimmedReason enforces the minimum length only on required reasons.
// Optional ones may be short or empty.
func trimmedReason(reason, field string, required bool) (string, error) {
	reason = strings.TrimSpace(reason)
	if required && len([]rune(reason)) < minReasonLength {
		return "", validationError(field + " must be at least 10 characters")
	}
	if len([]rune(reason)) > maxReasonLength {
		return "", validationError(field + " too long")
	}
	return reason, nil
}

func pageBounds(page, limit int) (int, int, error) {
	if page < 0 {
		return 0, 0, validationError("page must be at least 1")
	}
	if page == 0 {
		page = 1
	}
	if limit < 0 {
		return 0, 0, validationError("limit must be positive")
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		return 0, 0, validationError("limit must not exceed 100")
	}
	return page, limit, nil
}

func mapSlotLookup(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSlotNotFound
	}
	return err
}
