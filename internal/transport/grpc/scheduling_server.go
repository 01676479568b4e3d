package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/service/scheduling"
)

const (
	callerIDHeader   = "x-caller-id"
	callerRoleHeader = "x-caller-role"
)

type SchedulingServer struct {
	svc schedulingService
	log *zap.Logger
}

type schedulingService interface {
	CreateSlot(ctx context.Context, in scheduling.CreateSlotInput) (domain.Slot, error)
	CreateRecurringSlots(ctx context.Context, in scheduling.CreateRecurringSlotsInput) ([]domain.Slot, error)
	ListSlots(ctx context.Context, ownerID string, q scheduling.SlotQuery) ([]domain.Slot, error)
	GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error)
	UpdateSlot(ctx context.Context, caller scheduling.Caller, slotID uuid.UUID, changes scheduling.SlotChanges) (domain.Slot, error)
	DeleteSlot(ctx context.Context, caller scheduling.Caller, slotID uuid.UUID) error
	MarkSlotUnavailable(ctx context.Context, caller scheduling.Caller, slotID uuid.UUID) (domain.Slot, error)
	GetCalendarView(ctx context.Context, ownerID string, year int, month time.Month) (scheduling.CalendarView, error)
	CreateAppointmentRequest(ctx context.Context, in scheduling.CreateRequestInput) (domain.AppointmentRequest, error)
	ListRequests(ctx context.Context, caller scheduling.Caller, q scheduling.RequestQuery) (scheduling.Page[domain.AppointmentRequest], error)
	ListAcceptedAppointments(ctx context.Context, caller scheduling.Caller, q scheduling.RequestQuery) (scheduling.Page[domain.AppointmentRequest], error)
	GetRequest(ctx context.Context, caller scheduling.Caller, requestID uuid.UUID) (domain.AppointmentRequest, error)
	AcceptRequest(ctx context.Context, caller scheduling.Caller, requestID uuid.UUID, in scheduling.AcceptInput) (domain.AppointmentRequest, error)
	RejectRequest(ctx context.Context, caller scheduling.Caller, requestID uuid.UUID, reason string) (domain.AppointmentRequest, error)
	CancelRequest(ctx context.Context, caller scheduling.Caller, requestID uuid.UUID, reason string) (domain.AppointmentRequest, error)
}

func NewSchedulingServer(svc schedulingService, log *zap.Logger) *SchedulingServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SchedulingServer{
		svc: svc,
		log: log.With(zap.String("component", "grpc.scheduling")),
	}
}

// callerFromContext reads the identity the auth proxy attached to the call.
func callerFromContext(ctx context.Context) (scheduling.Caller, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return scheduling.Caller{}, status.Error(codes.Unauthenticated, "caller identity is required")
	}
	id := firstValue(md, callerIDHeader)
	if id == "" {
		return scheduling.Caller{}, status.Error(codes.Unauthenticated, "caller identity is required")
	}
	role := domain.Role(strings.ToLower(firstValue(md, callerRoleHeader)))
	if !role.Valid() {
		return scheduling.Caller{}, status.Error(codes.Unauthenticated, "caller role is required")
	}
	return scheduling.Caller{ID: id, Role: role}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if key := firstValue(md, "idempotency-key"); key != "" {
		return key
	}
	return firstValue(md, "x-idempotency-key")
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func (s *SchedulingServer) begin(ctx context.Context, rpc string, nilRequest bool) (scheduling.Caller, *zap.Logger, error) {
	log := s.log.With(zap.String("rpc", rpc))
	caller, err := callerFromContext(ctx)
	if err != nil {
		log.Warn("unauthenticated call")
		return scheduling.Caller{}, log, err
	}
	log = log.With(zap.String("caller_id", caller.ID), zap.String("caller_role", string(caller.Role)))
	if nilRequest {
		log.Warn("invalid request", zap.String("reason", "nil_request"))
		return scheduling.Caller{}, log, status.Error(codes.InvalidArgument, "request is required")
	}
	return caller, log, nil
}

type errorMapping struct {
	target error
	code   codes.Code
	msg    string
}

var errorMappings = []errorMapping{
	{scheduling.ErrInvalidTimeRange, codes.InvalidArgument, "end_time must be after start_time"},
	{scheduling.ErrSlotNotFound, codes.NotFound, "slot not found"},
	{scheduling.ErrRequestNotFound, codes.NotFound, "request not found"},
	{scheduling.ErrRequestNotFoundOrAlreadyProcessed, codes.FailedPrecondition, "Request not found or already processed."},
	{scheduling.ErrSlotOverlap, codes.FailedPrecondition, "You already have a slot during that time. Pick a different window."},
	{scheduling.ErrSlotNotAvailable, codes.FailedPrecondition, "That slot is no longer available. Pick another."},
	{scheduling.ErrCannotUpdateBookedSlot, codes.FailedPrecondition, "cannot update a booked slot"},
	{scheduling.ErrCannotDeleteBookedSlot, codes.FailedPrecondition, "cannot delete a booked slot"},
	{scheduling.ErrCannotModifyBookedSlot, codes.FailedPrecondition, "cannot modify a booked slot"},
	{scheduling.ErrCannotUpdatePastSlot, codes.FailedPrecondition, "cannot update a past slot"},
	{scheduling.ErrCannotDeletePastSlot, codes.FailedPrecondition, "cannot delete a past slot"},
	{scheduling.ErrDuplicateRequest, codes.FailedPrecondition, "You already have a pending request for that slot."},
	{scheduling.ErrIdempotencyConflict, codes.FailedPrecondition, "This request key was already used for a different request. Try again."},
	{scheduling.ErrNotSlotOwner, codes.PermissionDenied, "Only providers can manage slots."},
}

// toStatus converts a service error into a gRPC status. Unexpected errors are
// logged and hidden behind codes.Internal.
func toStatus(log *zap.Logger, op string, err error) error {
	var vErr *scheduling.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", zap.Error(err))
		return status.Error(codes.InvalidArgument, vErr.Error())
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			log.Info(op+" rejected", zap.String("reason", m.target.Error()))
			return status.Error(m.code, m.msg)
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(op+" timed out", zap.Error(err))
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	}
	log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, field+" must be a UUID")
	}
	return id, nil
}

func parseOptionalID(field, raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := parseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseClock(field, raw string) (domain.Clock, error) {
	c, err := domain.ParseClock(raw)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, field+" must be HH:MM")
	}
	return c, nil
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, status.Error(codes.InvalidArgument, field+" must be YYYY-MM-DD")
	}
	return d, nil
}

func parseOptionalDate(field, raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := parseDate(field, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SchedulingServer) CreateSlot(ctx context.Context, req *CreateSlotRequest) (*SlotResponse, error) {
	caller, log, err := s.begin(ctx, "CreateSlot", req == nil)
	if err != nil {
		return nil, err
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	start, err := parseClock("start_time", req.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseClock("end_time", req.EndTime)
	if err != nil {
		return nil, err
	}

	slot, err := s.svc.CreateSlot(ctx, scheduling.CreateSlotInput{
		Owner:           caller,
		Date:            date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, toStatus(log, "slot create", err)
	}
	return &SlotResponse{Slot: toWireSlot(slot)}, nil
}

func (s *SchedulingServer) CreateRecurringSlots(ctx context.Context, req *CreateRecurringSlotsRequest) (*CreateRecurringSlotsResponse, error) {
	caller, log, err := s.begin(ctx, "CreateRecurringSlots", req == nil)
	if err != nil {
		return nil, err
	}
	if req.Pattern == nil {
		log.Warn("invalid request", zap.String("reason", "missing_pattern"))
		return nil, status.Error(codes.InvalidArgument, "recurring_pattern is required")
	}
	start, err := parseClock("start_time", req.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseClock("end_time", req.EndTime)
	if err != nil {
		return nil, err
	}
	from, err := parseDate("start_date", req.Pattern.StartDate)
	if err != nil {
		return nil, err
	}
	until, err := parseDate("end_date", req.Pattern.EndDate)
	if err != nil {
		return nil, err
	}

	slots, err := s.svc.CreateRecurringSlots(ctx, scheduling.CreateRecurringSlotsInput{
		Owner:           caller,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: req.DurationMinutes,
		Pattern: domain.RecurringPattern{
			Frequency:  domain.RecurrenceFrequency(strings.ToLower(strings.TrimSpace(req.Pattern.Frequency))),
			DaysOfWeek: req.Pattern.DaysOfWeek,
			StartDate:  from,
			EndDate:    until,
		},
		Notes: req.Notes,
	})
	if err != nil {
		return nil, toStatus(log, "recurring slots create", err)
	}
	return &CreateRecurringSlotsResponse{Slots: toWireSlots(slots), Created: len(slots)}, nil
}

func (s *SchedulingServer) ListSlots(ctx context.Context, req *ListSlotsRequest) (*ListSlotsResponse, error) {
	caller, log, err := s.begin(ctx, "ListSlots", req == nil)
	if err != nil {
		return nil, err
	}
	from, err := parseOptionalDate("start_date", req.StartDate)
	if err != nil {
		return nil, err
	}
	to, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		return nil, err
	}

	slots, err := s.svc.ListSlots(ctx, caller.ID, scheduling.SlotQuery{
		From:   from,
		To:     to,
		Status: domain.SlotStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		return nil, toStatus(log, "slots list", err)
	}
	log.Debug("slots listed", zap.Int("count", len(slots)))
	return &ListSlotsResponse{Slots: toWireSlots(slots)}, nil
}

func (s *SchedulingServer) GetSlot(ctx context.Context, req *SlotIDRequest) (*SlotResponse, error) {
	caller, log, err := s.begin(ctx, "GetSlot", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}
	slot, err := s.svc.GetSlot(ctx, caller.ID, id)
	if err != nil {
		return nil, toStatus(log, "slot get", err)
	}
	return &SlotResponse{Slot: toWireSlot(slot)}, nil
}

func (s *SchedulingServer) UpdateSlot(ctx context.Context, req *UpdateSlotRequest) (*SlotResponse, error) {
	caller, log, err := s.begin(ctx, "UpdateSlot", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}

	changes := scheduling.SlotChanges{
		DurationMinutes: req.DurationMinutes,
		Notes:           req.Notes,
	}
	if req.StartTime != nil {
		start, err := parseClock("start_time", *req.StartTime)
		if err != nil {
			return nil, err
		}
		changes.StartTime = &start
	}
	if req.EndTime != nil {
		end, err := parseClock("end_time", *req.EndTime)
		if err != nil {
			return nil, err
		}
		changes.EndTime = &end
	}
	if req.Status != nil {
		st := domain.SlotStatus(strings.TrimSpace(*req.Status))
		changes.Status = &st
	}

	slot, err := s.svc.UpdateSlot(ctx, caller, id, changes)
	if err != nil {
		return nil, toStatus(log.With(zap.String("slot_id", id.String())), "slot update", err)
	}
	return &SlotResponse{Slot: toWireSlot(slot)}, nil
}

func (s *SchedulingServer) DeleteSlot(ctx context.Context, req *SlotIDRequest) (*DeleteSlotResponse, error) {
	caller, log, err := s.begin(ctx, "DeleteSlot", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}
	if err := s.svc.DeleteSlot(ctx, caller, id); err != nil {
		return nil, toStatus(log.With(zap.String("slot_id", id.String())), "slot delete", err)
	}
	return &DeleteSlotResponse{}, nil
}

func (s *SchedulingServer) MarkSlotUnavailable(ctx context.Context, req *SlotIDRequest) (*SlotResponse, error) {
	caller, log, err := s.begin(ctx, "MarkSlotUnavailable", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}
	slot, err := s.svc.MarkSlotUnavailable(ctx, caller, id)
	if err != nil {
		return nil, toStatus(log.With(zap.String("slot_id", id.String())), "slot mark unavailable", err)
	}
	return &SlotResponse{Slot: toWireSlot(slot)}, nil
}

func (s *SchedulingServer) GetCalendarView(ctx context.Context, req *CalendarViewRequest) (*CalendarViewResponse, error) {
	caller, log, err := s.begin(ctx, "GetCalendarView", req == nil)
	if err != nil {
		return nil, err
	}
	view, err := s.svc.GetCalendarView(ctx, caller.ID, req.Year, time.Month(req.Month))
	if err != nil {
		return nil, toStatus(log, "calendar view", err)
	}
	return toWireCalendar(view), nil
}

func (s *SchedulingServer) CreateAppointmentRequest(ctx context.Context, req *CreateAppointmentRequestRequest) (*RequestResponse, error) {
	caller, log, err := s.begin(ctx, "CreateAppointmentRequest", req == nil)
	if err != nil {
		return nil, err
	}
	slotID, err := parseOptionalID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}
	preferredDate, err := parseOptionalDate("preferred_date", req.PreferredDate)
	if err != nil {
		return nil, err
	}
	var preferredTime *domain.Clock
	if strings.TrimSpace(req.PreferredTime) != "" {
		at, err := parseClock("preferred_time", req.PreferredTime)
		if err != nil {
			return nil, err
		}
		preferredTime = &at
	}

	created, err := s.svc.CreateAppointmentRequest(ctx, scheduling.CreateRequestInput{
		RequesterID:     caller.ID,
		ProviderID:      strings.TrimSpace(req.ProviderID),
		SlotID:          slotID,
		AppointmentType: domain.AppointmentType(strings.ToLower(strings.TrimSpace(req.AppointmentType))),
		Reason:          req.Reason,
		PreferredDate:   preferredDate,
		PreferredTime:   preferredTime,
		IdempotencyKey:  idempotencyKey(ctx),
	})
	if err != nil {
		return nil, toStatus(log, "appointment request create", err)
	}
	return &RequestResponse{Request: toWireRequest(created)}, nil
}

func (s *SchedulingServer) listQuery(req *ListRequestsRequest) (scheduling.RequestQuery, error) {
	from, err := parseOptionalDate("start_date", req.StartDate)
	if err != nil {
		return scheduling.RequestQuery{}, err
	}
	to, err := parseOptionalDate("end_date", req.EndDate)
	if err != nil {
		return scheduling.RequestQuery{}, err
	}
	return scheduling.RequestQuery{
		State: domain.RequestState(strings.TrimSpace(req.State)),
		From:  from,
		To:    to,
		Page:  req.Page,
		Limit: req.Limit,
	}, nil
}

func (s *SchedulingServer) ListRequests(ctx context.Context, req *ListRequestsRequest) (*ListRequestsResponse, error) {
	caller, log, err := s.begin(ctx, "ListRequests", req == nil)
	if err != nil {
		return nil, err
	}
	q, err := s.listQuery(req)
	if err != nil {
		return nil, err
	}
	page, err := s.svc.ListRequests(ctx, caller, q)
	if err != nil {
		return nil, toStatus(log, "requests list", err)
	}
	return toWireRequestPage(page), nil
}

func (s *SchedulingServer) ListAcceptedAppointments(ctx context.Context, req *ListRequestsRequest) (*ListRequestsResponse, error) {
	caller, log, err := s.begin(ctx, "ListAcceptedAppointments", req == nil)
	if err != nil {
		return nil, err
	}
	q, err := s.listQuery(req)
	if err != nil {
		return nil, err
	}
	page, err := s.svc.ListAcceptedAppointments(ctx, caller, q)
	if err != nil {
		return nil, toStatus(log, "appointments list", err)
	}
	return toWireRequestPage(page), nil
}

func (s *SchedulingServer) GetRequest(ctx context.Context, req *RequestIDRequest) (*RequestResponse, error) {
	caller, log, err := s.begin(ctx, "GetRequest", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.GetRequest(ctx, caller, id)
	if err != nil {
		return nil, toStatus(log, "request get", err)
	}
	return &RequestResponse{Request: toWireRequest(out)}, nil
}

func (s *SchedulingServer) AcceptRequest(ctx context.Context, req *AcceptRequestRequest) (*RequestResponse, error) {
	caller, log, err := s.begin(ctx, "AcceptRequest", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	slotID, err := parseOptionalID("slot_id", req.SlotID)
	if err != nil {
		return nil, err
	}

	out, err := s.svc.AcceptRequest(ctx, caller, id, scheduling.AcceptInput{SlotID: slotID, Notes: req.Notes})
	if err != nil {
		return nil, toStatus(log.With(zap.String("request_id", id.String())), "request accept", err)
	}
	log.Info("request accepted", zap.String("request_id", id.String()))
	return &RequestResponse{Request: toWireRequest(out)}, nil
}

func (s *SchedulingServer) RejectRequest(ctx context.Context, req *RejectRequestRequest) (*RequestResponse, error) {
	caller, log, err := s.begin(ctx, "RejectRequest", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.RejectRequest(ctx, caller, id, req.Reason)
	if err != nil {
		return nil, toStatus(log.With(zap.String("request_id", id.String())), "request reject", err)
	}
	log.Info("request rejected", zap.String("request_id", id.String()))
	return &RequestResponse{Request: toWireRequest(out)}, nil
}

func (s *SchedulingServer) CancelRequest(ctx context.Context, req *CancelRequestRequest) (*RequestResponse, error) {
	caller, log, err := s.begin(ctx, "CancelRequest", req == nil)
	if err != nil {
		return nil, err
	}
	id, err := parseID("request_id", req.RequestID)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.CancelRequest(ctx, caller, id, req.Reason)
	if err != nil {
		return nil, toStatus(log.With(zap.String("request_id", id.String())), "request cancel", err)
	}
	log.Info("request cancelled", zap.String("request_id", id.String()))
	return &RequestResponse{Request: toWireRequest(out)}, nil
}
