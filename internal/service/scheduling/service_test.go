package scheduling

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/events"
	"philbox/scheduling/internal/store"
)

var fixedNow = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

type fakeTx struct {
	insertSlotFn           func(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	getSlotFn              func(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error)
	findOverlappingSlotsFn func(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error)
	updateSlotFn           func(ctx context.Context, slot domain.Slot) (bool, error)
	deleteSlotFn           func(ctx context.Context, ownerID string, slotID uuid.UUID) (bool, error)
	reserveSlotFn          func(ctx context.Context, ownerID string, slotID, requestID uuid.UUID) (bool, error)
	releaseSlotFn          func(ctx context.Context, slotID, requestID uuid.UUID) (bool, error)
	insertRequestFn        func(ctx context.Context, req domain.AppointmentRequest) (domain.AppointmentRequest, error)
	getRequestFn           func(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error)
	hasProcessingFn        func(ctx context.Context, requesterID string, slotID uuid.UUID) (bool, error)
	transitionRequestFn    func(ctx context.Context, t store.RequestTransition) (bool, error)
}

func (f *fakeTx) InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	if f.insertSlotFn == nil {
		panic("InsertSlot not configured")
	}
	return f.insertSlotFn(ctx, slot)
}

func (f *fakeTx) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	if f.getSlotFn == nil {
		panic("GetSlot not configured")
	}
	return f.getSlotFn(ctx, ownerID, slotID)
}

func (f *fakeTx) FindOverlappingSlots(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error) {
	if f.findOverlappingSlotsFn == nil {
		panic("FindOverlappingSlots not configured")
	}
	return f.findOverlappingSlotsFn(ctx, ownerID, date, start, end, excludeID)
}

func (f *fakeTx) UpdateSlot(ctx context.Context, slot domain.Slot) (bool, error) {
	if f.updateSlotFn == nil {
		panic("UpdateSlot not configured")
	}
	return f.updateSlotFn(ctx, slot)
}

func (f *fakeTx) DeleteSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (bool, error) {
	if f.deleteSlotFn == nil {
		panic("DeleteSlot not configured")
	}
	return f.deleteSlotFn(ctx, ownerID, slotID)
}

func (f *fakeTx) ReserveSlot(ctx context.Context, ownerID string, slotID, requestID uuid.UUID) (bool, error) {
	if f.reserveSlotFn == nil {
		panic("ReserveSlot not configured")
	}
	return f.reserveSlotFn(ctx, ownerID, slotID, requestID)
}

func (f *fakeTx) ReleaseSlot(ctx context.Context, slotID, requestID uuid.UUID) (bool, error) {
	if f.releaseSlotFn == nil {
		panic("ReleaseSlot not configured")
	}
	return f.releaseSlotFn(ctx, slotID, requestID)
}

func (f *fakeTx) InsertRequest(ctx context.Context, req domain.AppointmentRequest) (domain.AppointmentRequest, error) {
	if f.insertRequestFn == nil {
		panic("InsertRequest not configured")
	}
	return f.insertRequestFn(ctx, req)
}

func (f *fakeTx) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	if f.getRequestFn == nil {
		panic("GetRequest not configured")
	}
	return f.getRequestFn(ctx, requestID)
}

func (f *fakeTx) HasProcessingRequest(ctx context.Context, requesterID string, slotID uuid.UUID) (bool, error) {
	if f.hasProcessingFn == nil {
		panic("HasProcessingRequest not configured")
	}
	return f.hasProcessingFn(ctx, requesterID, slotID)
}

func (f *fakeTx) TransitionRequest(ctx context.Context, t store.RequestTransition) (bool, error) {
	if f.transitionRequestFn == nil {
		panic("TransitionRequest not configured")
	}
	return f.transitionRequestFn(ctx, t)
}

// fakeRepo hands the same fakeTx to every transaction and records which
// owner lock was requested.
type fakeRepo struct {
	tx          *fakeTx
	lockedOwner string

	listSlotsFn    func(ctx context.Context, ownerID string, filter store.SlotFilter) ([]domain.Slot, error)
	listRequestsFn func(ctx context.Context, filter store.RequestFilter) ([]domain.AppointmentRequest, int, error)
	getRequestFn   func(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error)
}

func (f *fakeRepo) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	f.lockedOwner = ownerID
	return fn(ctx, f.tx)
}

func (f *fakeRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return fn(ctx, f.tx)
}

func (f *fakeRepo) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	return f.tx.GetSlot(ctx, ownerID, slotID)
}

func (f *fakeRepo) ListSlots(ctx context.Context, ownerID string, filter store.SlotFilter) ([]domain.Slot, error) {
	if f.listSlotsFn == nil {
		panic("ListSlots not configured")
	}
	return f.listSlotsFn(ctx, ownerID, filter)
}

func (f *fakeRepo) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	if f.getRequestFn == nil {
		panic("GetRequest not configured")
	}
	return f.getRequestFn(ctx, requestID)
}

func (f *fakeRepo) ListRequests(ctx context.Context, filter store.RequestFilter) ([]domain.AppointmentRequest, int, error) {
	if f.listRequestsFn == nil {
		panic("ListRequests not configured")
	}
	return f.listRequestsFn(ctx, filter)
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []events.TransitionEvent
	activities  []events.ActivityEntry
}

func (r *recordingSink) Transition(ctx context.Context, ev events.TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, ev)
}

func (r *recordingSink) Activity(ctx context.Context, entry events.ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, entry)
}

func newFakeService(repo *fakeRepo, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(repo, opts...)
}

func TestCreateSlot_ValidationErrorType(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})

	_, err := svc.CreateSlot(context.Background(), CreateSlotInput{
		Date:            time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		StartTime:       domain.MustParseClock("09:00"),
		EndTime:         domain.MustParseClock("10:00"),
		DurationMinutes: 30,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if vErr.Error() != "caller id is required" {
		t.Fatalf("error = %q, want %q", vErr.Error(), "caller id is required")
	}
}

func TestSlotWrites_RequireProviderCaller(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})
	ctx := context.Background()

	_, err := svc.CreateSlot(ctx, CreateSlotInput{
		Owner:           asRequester("p1"),
		Date:            time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		StartTime:       domain.MustParseClock("09:00"),
		EndTime:         domain.MustParseClock("10:00"),
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrNotSlotOwner) {
		t.Fatalf("requester create error = %v, want ErrNotSlotOwner", err)
	}
	admin := Caller{ID: "ops-1", Role: domain.RoleAdmin}
	if _, err := svc.UpdateSlot(ctx, admin, uuid.New(), SlotChanges{}); !errors.Is(err, ErrNotSlotOwner) {
		t.Fatalf("admin update error = %v, want ErrNotSlotOwner", err)
	}
	if err := svc.DeleteSlot(ctx, asRequester("p1"), uuid.New()); !errors.Is(err, ErrNotSlotOwner) {
		t.Fatalf("requester delete error = %v, want ErrNotSlotOwner", err)
	}
	if _, err := svc.MarkSlotUnavailable(ctx, asRequester("p1"), uuid.New()); !errors.Is(err, ErrNotSlotOwner) {
		t.Fatalf("requester mark error = %v, want ErrNotSlotOwner", err)
	}
}

func TestCreateSlot_RejectsInvertedRange(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})

	for _, tc := range []struct{ start, end string }{
		{"10:00", "09:00"},
		{"10:00", "10:00"},
	} {
		_, err := svc.CreateSlot(context.Background(), CreateSlotInput{
			Owner:           asProvider("d1"),
			Date:            time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
			StartTime:       domain.MustParseClock(tc.start),
			EndTime:         domain.MustParseClock(tc.end),
			DurationMinutes: 30,
		})
		if !errors.Is(err, ErrInvalidTimeRange) {
			t.Fatalf("%s-%s: error = %v, want ErrInvalidTimeRange", tc.start, tc.end, err)
		}
	}
}

func TestCreateSlot_LocksOwnerAndMapsConstraintConflict(t *testing.T) {
	repo := &fakeRepo{tx: &fakeTx{
		findOverlappingSlotsFn: func(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error) {
			if excludeID != uuid.Nil {
				t.Fatalf("excludeID = %s, want nil", excludeID)
			}
			return nil, nil
		},
		insertSlotFn: func(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
			return domain.Slot{}, store.ErrConflict
		},
	}}
	svc := newFakeService(repo)

	_, err := svc.CreateSlot(context.Background(), CreateSlotInput{
		Owner:           asProvider("d1"),
		Date:            time.Date(2026, 1, 10, 15, 0, 0, 0, time.UTC),
		StartTime:       domain.MustParseClock("09:00"),
		EndTime:         domain.MustParseClock("10:00"),
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrSlotOverlap) {
		t.Fatalf("error = %v, want ErrSlotOverlap", err)
	}
	if repo.lockedOwner != "d1" {
		t.Fatalf("locked owner = %q, want d1", repo.lockedOwner)
	}
}

func TestCreateSlot_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		findOverlappingSlotsFn: func(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error) {
			return nil, boom
		},
	}})

	_, err := svc.CreateSlot(context.Background(), CreateSlotInput{
		Owner:           asProvider("d1"),
		Date:            time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		StartTime:       domain.MustParseClock("09:00"),
		EndTime:         domain.MustParseClock("10:00"),
		DurationMinutes: 30,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestAcceptRequest_LostReservationReportsSlotNotAvailable(t *testing.T) {
	reqID := uuid.New()
	slotID := uuid.New()
	sink := &recordingSink{}
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d1", RequesterID: "p1", State: domain.RequestStateProcessing}, nil
		},
		transitionRequestFn: func(ctx context.Context, tr store.RequestTransition) (bool, error) {
			if tr.ProviderID != "d1" || tr.To != domain.RequestStateAccepted {
				t.Fatalf("unexpected transition %+v", tr)
			}
			return true, nil
		},
		reserveSlotFn: func(ctx context.Context, ownerID string, sid, rid uuid.UUID) (bool, error) {
			if sid != slotID || rid != reqID {
				t.Fatalf("reserve(%s, %s), want (%s, %s)", sid, rid, slotID, reqID)
			}
			return false, nil
		},
		getSlotFn: func(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error) {
			return domain.Slot{ID: id, OwnerID: ownerID, Status: domain.SlotStatusBooked}, nil
		},
	}}, WithEvents(sink))

	_, err := svc.AcceptRequest(context.Background(), asProvider("d1"), reqID, AcceptInput{SlotID: &slotID})
	if !errors.Is(err, ErrSlotNotAvailable) {
		t.Fatalf("error = %v, want ErrSlotNotAvailable", err)
	}
	if len(sink.transitions) != 0 {
		t.Fatalf("expected no events after a failed acceptance, got %d", len(sink.transitions))
	}
}

func TestAcceptRequest_MissingSlotReportsSlotNotFound(t *testing.T) {
	slotID := uuid.New()
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d1", State: domain.RequestStateProcessing}, nil
		},
		transitionRequestFn: func(ctx context.Context, tr store.RequestTransition) (bool, error) {
			return true, nil
		},
		reserveSlotFn: func(ctx context.Context, ownerID string, sid, rid uuid.UUID) (bool, error) {
			return false, nil
		},
		getSlotFn: func(ctx context.Context, ownerID string, id uuid.UUID) (domain.Slot, error) {
			return domain.Slot{}, store.ErrNotFound
		},
	}})

	_, err := svc.AcceptRequest(context.Background(), asProvider("d1"), uuid.New(), AcceptInput{SlotID: &slotID})
	if !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("error = %v, want ErrSlotNotFound", err)
	}
}

func TestAcceptRequest_OtherProvidersRequestIsHidden(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d2", State: domain.RequestStateProcessing}, nil
		},
	}})

	_, err := svc.AcceptRequest(context.Background(), asProvider("d1"), uuid.New(), AcceptInput{})
	if !errors.Is(err, ErrRequestNotFoundOrAlreadyProcessed) {
		t.Fatalf("error = %v, want ErrRequestNotFoundOrAlreadyProcessed", err)
	}
}

func TestAcceptRequest_WithoutSlotSkipsReservation(t *testing.T) {
	sink := &recordingSink{}
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d1", RequesterID: "p1", State: domain.RequestStateProcessing}, nil
		},
		transitionRequestFn: func(ctx context.Context, tr store.RequestTransition) (bool, error) {
			if tr.SlotID != nil {
				t.Fatalf("slot_id = %v, want nil", tr.SlotID)
			}
			return true, nil
		},
	}}, WithEvents(sink))

	got, err := svc.AcceptRequest(context.Background(), asProvider("d1"), uuid.New(), AcceptInput{Notes: " video link to follow "})
	if err != nil {
		t.Fatalf("AcceptRequest error: %v", err)
	}
	if got.State != domain.RequestStateAccepted || got.Notes != "video link to follow" {
		t.Fatalf("accepted = %+v", got)
	}
	if len(sink.transitions) != 1 || sink.transitions[0].SlotID != "" {
		t.Fatalf("transitions = %+v", sink.transitions)
	}
	if !sink.transitions[0].OccurredAt.Equal(fixedNow) {
		t.Fatalf("occurred_at = %v, want %v", sink.transitions[0].OccurredAt, fixedNow)
	}
}

func TestRejectRequest_RequiresReason(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})

	_, err := svc.RejectRequest(context.Background(), asProvider("d1"), uuid.New(), "  busy  ")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if vErr.Error() != "rejection_reason must be at least 10 characters" {
		t.Fatalf("error = %q", vErr.Error())
	}
}

func TestListRequests_ScopesByCallerRole(t *testing.T) {
	var got store.RequestFilter
	repo := &fakeRepo{
		tx: &fakeTx{},
		listRequestsFn: func(ctx context.Context, filter store.RequestFilter) ([]domain.AppointmentRequest, int, error) {
			got = filter
			return nil, 42, nil
		},
	}
	svc := newFakeService(repo)

	page, err := svc.ListRequests(context.Background(), Caller{ID: "d1", Role: domain.RoleProvider}, RequestQuery{Page: 3, Limit: 20})
	if err != nil {
		t.Fatalf("ListRequests error: %v", err)
	}
	if got.ProviderID != "d1" || got.RequesterID != "" {
		t.Fatalf("filter = %+v, want provider scope", got)
	}
	if got.Limit != 20 || got.Offset != 40 {
		t.Fatalf("limit/offset = %d/%d, want 20/40", got.Limit, got.Offset)
	}
	if page.Total != 42 || page.Page != 3 || page.Limit != 20 {
		t.Fatalf("page = %+v", page)
	}

	if _, err := svc.ListAcceptedAppointments(context.Background(), Caller{ID: "p1", Role: domain.RoleRequester}, RequestQuery{}); err != nil {
		t.Fatalf("ListAcceptedAppointments error: %v", err)
	}
	if got.RequesterID != "p1" || got.ProviderID != "" || got.State != domain.RequestStateAccepted {
		t.Fatalf("filter = %+v, want requester scope on accepted", got)
	}
	if got.Limit != 10 || got.Offset != 0 {
		t.Fatalf("default limit/offset = %d/%d, want 10/0", got.Limit, got.Offset)
	}

	if _, err := svc.ListRequests(context.Background(), Caller{ID: "admin", Role: domain.RoleAdmin}, RequestQuery{}); err != nil {
		t.Fatalf("ListRequests error: %v", err)
	}
	if got.RequesterID != "" || got.ProviderID != "" {
		t.Fatalf("admin filter = %+v, want unscoped", got)
	}
}

func TestListRequests_ValidatesPagination(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})
	caller := Caller{ID: "d1", Role: domain.RoleProvider}

	for _, q := range []RequestQuery{{Page: -1}, {Limit: 101}, {Limit: -5}, {State: "pending"}} {
		_, err := svc.ListRequests(context.Background(), caller, q)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("query %+v: error = %v, want *ValidationError", q, err)
		}
	}
}

func TestGetRequest_HidesRowsFromOtherParties(t *testing.T) {
	reqID := uuid.New()
	svc := newFakeService(&fakeRepo{
		tx: &fakeTx{},
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d1", RequesterID: "p1"}, nil
		},
	})

	if _, err := svc.GetRequest(context.Background(), Caller{ID: "p2", Role: domain.RoleRequester}, reqID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("error = %v, want ErrRequestNotFound", err)
	}
	if _, err := svc.GetRequest(context.Background(), Caller{ID: "d1", Role: domain.RoleProvider}, reqID); err != nil {
		t.Fatalf("provider GetRequest error: %v", err)
	}
	if _, err := svc.GetRequest(context.Background(), Caller{ID: "ops", Role: domain.RoleAdmin}, reqID); err != nil {
		t.Fatalf("admin GetRequest error: %v", err)
	}
}

func TestGetCalendarView_GroupsByDayWithCounts(t *testing.T) {
	var got store.SlotFilter
	d10 := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	d12 := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	svc := newFakeService(&fakeRepo{
		tx: &fakeTx{},
		listSlotsFn: func(ctx context.Context, ownerID string, filter store.SlotFilter) ([]domain.Slot, error) {
			got = filter
			return []domain.Slot{
				{Date: d10, StartTime: domain.MustParseClock("09:00"), Status: domain.SlotStatusAvailable},
				{Date: d10, StartTime: domain.MustParseClock("11:00"), Status: domain.SlotStatusBooked},
				{Date: d12, StartTime: domain.MustParseClock("08:00"), Status: domain.SlotStatusUnavailable},
			}, nil
		},
	})

	view, err := svc.GetCalendarView(context.Background(), "d1", 2026, time.February)
	if err != nil {
		t.Fatalf("GetCalendarView error: %v", err)
	}
	if !got.From.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) || !got.To.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("range = %v..%v", got.From, got.To)
	}
	if len(view.Days) != 2 {
		t.Fatalf("days = %d, want 2", len(view.Days))
	}
	if view.Days[0].Available != 1 || view.Days[0].Booked != 1 || len(view.Days[0].Slots) != 2 {
		t.Fatalf("day 10 = %+v", view.Days[0])
	}
	if !view.Days[1].Date.Equal(d12) || view.Days[1].Unavailable != 1 {
		t.Fatalf("day 12 = %+v", view.Days[1])
	}

	if _, err := svc.GetCalendarView(context.Background(), "d1", 2026, 13); err == nil {
		t.Fatalf("expected error for month 13")
	}
}

func asProvider(id string) Caller  { return Caller{ID: id, Role: domain.RoleProvider} }
func asRequester(id string) Caller { return Caller{ID: id, Role: domain.RoleRequester} }

func TestTransitions_RejectCallersOnTheWrongSide(t *testing.T) {
	svc := newFakeService(&fakeRepo{tx: &fakeTx{}})
	ctx := context.Background()

	if _, err := svc.AcceptRequest(ctx, asRequester("p1"), uuid.New(), AcceptInput{}); !errors.Is(err, ErrRequestNotFoundOrAlreadyProcessed) {
		t.Fatalf("requester accept error = %v, want ErrRequestNotFoundOrAlreadyProcessed", err)
	}
	if _, err := svc.RejectRequest(ctx, asRequester("p1"), uuid.New(), "not a good time for me"); !errors.Is(err, ErrRequestNotFoundOrAlreadyProcessed) {
		t.Fatalf("requester reject error = %v, want ErrRequestNotFoundOrAlreadyProcessed", err)
	}
	if _, err := svc.CancelRequest(ctx, asProvider("d1"), uuid.New(), ""); !errors.Is(err, ErrRequestNotFoundOrAlreadyProcessed) {
		t.Fatalf("provider cancel error = %v, want ErrRequestNotFoundOrAlreadyProcessed", err)
	}

	var vErr *ValidationError
	if _, err := svc.AcceptRequest(ctx, Caller{ID: "d1"}, uuid.New(), AcceptInput{}); !errors.As(err, &vErr) {
		t.Fatalf("missing role error = %v, want *ValidationError", err)
	}
}

func TestAcceptRequest_AdminActsUnderTheRowsProvider(t *testing.T) {
	reqID := uuid.New()
	slotID := uuid.New()
	row := domain.AppointmentRequest{ID: reqID, ProviderID: "d7", RequesterID: "p1", SlotID: &slotID, State: domain.RequestStateProcessing}
	sink := &recordingSink{}
	repo := &fakeRepo{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return row, nil
		},
		tx: &fakeTx{
			getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
				return row, nil
			},
			transitionRequestFn: func(ctx context.Context, tr store.RequestTransition) (bool, error) {
				if tr.ProviderID != "" || tr.RequesterID != "" {
					t.Fatalf("admin transition should be unscoped, got %+v", tr)
				}
				return true, nil
			},
			reserveSlotFn: func(ctx context.Context, ownerID string, sid, rid uuid.UUID) (bool, error) {
				if ownerID != "d7" {
					t.Fatalf("reserve owner = %q, want d7", ownerID)
				}
				return true, nil
			},
		},
	}
	svc := newFakeService(repo, WithEvents(sink))

	got, err := svc.AcceptRequest(context.Background(), Caller{ID: "ops-1", Role: domain.RoleAdmin}, reqID, AcceptInput{})
	if err != nil {
		t.Fatalf("AcceptRequest error: %v", err)
	}
	if got.State != domain.RequestStateAccepted {
		t.Fatalf("state = %s, want accepted", got.State)
	}
	if repo.lockedOwner != "d7" {
		t.Fatalf("locked owner = %q, want d7", repo.lockedOwner)
	}
	if len(sink.transitions) != 1 || sink.transitions[0].Actor != string(domain.RoleAdmin) {
		t.Fatalf("transitions = %+v", sink.transitions)
	}
	if len(sink.activities) != 1 || sink.activities[0].Actor != "ops-1" {
		t.Fatalf("activities = %+v", sink.activities)
	}
}

func TestCancelRequest_ShortOptionalReason(t *testing.T) {
	var got store.RequestTransition
	svc := newFakeService(&fakeRepo{tx: &fakeTx{
		getRequestFn: func(ctx context.Context, id uuid.UUID) (domain.AppointmentRequest, error) {
			return domain.AppointmentRequest{ID: id, ProviderID: "d1", RequesterID: "p1", State: domain.RequestStateProcessing}, nil
		},
		transitionRequestFn: func(ctx context.Context, tr store.RequestTransition) (bool, error) {
			got = tr
			return true, nil
		},
	}})

	cancelled, err := svc.CancelRequest(context.Background(), asRequester("p1"), uuid.New(), " sick ")
	if err != nil {
		t.Fatalf("CancelRequest error: %v", err)
	}
	if cancelled.CancellationReason != "sick" || got.CancellationReason != "sick" {
		t.Fatalf("cancellation_reason = %q/%q, want sick", cancelled.CancellationReason, got.CancellationReason)
	}
	if got.RequesterID != "p1" || got.CancelledBy != domain.RoleRequester {
		t.Fatalf("transition = %+v", got)
	}

	var vErr *ValidationError
	long := strings.Repeat("x", maxReasonLength+1)
	if _, err := svc.CancelRequest(context.Background(), asRequester("p1"), uuid.New(), long); !errors.As(err, &vErr) {
		t.Fatalf("long reason error = %v, want *ValidationError", err)
	}
}
