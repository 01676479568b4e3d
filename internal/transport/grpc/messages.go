package grpc

import (
	"time"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/service/scheduling"
)

type RecurringPattern struct {
	Frequency  string `json:"frequency"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type Slot struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	Date             string            `json:"date"`
	StartTime        string            `json:"start_time"`
	EndTime          string            `json:"end_time"`
	DurationMinutes  int               `json:"duration_minutes"`
	Status           string            `json:"status"`
	IsRecurring      bool              `json:"is_recurring"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	BoundRequestID   string            `json:"bound_request_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type AppointmentRequest struct {
	ID                 string     `json:"id"`
	RequesterID        string     `json:"requester_id"`
	ProviderID         string     `json:"provider_id"`
	SlotID             string     `json:"slot_id,omitempty"`
	AppointmentType    string     `json:"appointment_type"`
	Reason             string     `json:"reason"`
	PreferredDate      string     `json:"preferred_date,omitempty"`
	PreferredTime      string     `json:"preferred_time,omitempty"`
	State              string     `json:"state"`
	CancelledBy        string     `json:"cancelled_by,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type CreateSlotRequest struct {
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes,omitempty"`
}

type CreateRecurringSlotsRequest struct {
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Pattern         *RecurringPattern `json:"recurring_pattern"`
	Notes           string            `json:"notes,omitempty"`
}

type CreateRecurringSlotsResponse struct {
	Slots   []Slot `json:"slots"`
	Created int    `json:"created"`
}

type ListSlotsRequest struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Status    string `json:"status,omitempty"`
}

type ListSlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type SlotIDRequest struct {
	SlotID string `json:"slot_id"`
}

type UpdateSlotRequest struct {
	SlotID          string  `json:"slot_id"`
	StartTime       *string `json:"start_time,omitempty"`
	EndTime         *string `json:"end_time,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Status          *string `json:"status,omitempty"`
}

type SlotResponse struct {
	Slot Slot `json:"slot"`
}

type DeleteSlotResponse struct{}

type CalendarViewRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

type CalendarDay struct {
	Date        string `json:"date"`
	Slots       []Slot `json:"slots"`
	Available   int    `json:"available"`
	Booked      int    `json:"booked"`
	Unavailable int    `json:"unavailable"`
}

type CalendarViewResponse struct {
	Year  int           `json:"year"`
	Month int           `json:"month"`
	Days  []CalendarDay `json:"days"`
}

type CreateAppointmentRequestRequest struct {
	ProviderID      string `json:"provider_id"`
	SlotID          string `json:"slot_id,omitempty"`
	AppointmentType string `json:"appointment_type"`
	Reason          string `json:"reason"`
	PreferredDate   string `json:"preferred_date,omitempty"`
	PreferredTime   string `json:"preferred_time,omitempty"`
}

type RequestIDRequest struct {
	RequestID string `json:"request_id"`
}

type AcceptRequestRequest struct {
	RequestID string `json:"request_id"`
	SlotID    string `json:"slot_id,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type RejectRequestRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"rejection_reason"`
}

type CancelRequestRequest struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"cancellation_reason,omitempty"`
}

type RequestResponse struct {
	Request AppointmentRequest `json:"request"`
}

type ListRequestsRequest struct {
	State     string `json:"state,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type ListRequestsResponse struct {
	Requests []AppointmentRequest `json:"requests"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
}

func toWireSlot(s domain.Slot) Slot {
	out := Slot{
		ID:              s.ID.String(),
		OwnerID:         s.OwnerID,
		Date:            domain.FormatDate(s.Date),
		StartTime:       s.StartTime.String(),
		EndTime:         s.EndTime.String(),
		DurationMinutes: s.DurationMinutes,
		Status:          string(s.Status),
		IsRecurring:     s.IsRecurring,
		Notes:           s.Notes,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.RecurringPattern != nil {
		out.RecurringPattern = &RecurringPattern{
			Frequency:  string(s.RecurringPattern.Frequency),
			DaysOfWeek: s.RecurringPattern.DaysOfWeek,
			StartDate:  domain.FormatDate(s.RecurringPattern.StartDate),
			EndDate:    domain.FormatDate(s.RecurringPattern.EndDate),
		}
	}
	if s.BoundRequestID != nil {
		out.BoundRequestID = s.BoundRequestID.String()
	}
	return out
}

func toWireSlots(slots []domain.Slot) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, toWireSlot(s))
	}
	return out
}

func toWireRequest(r domain.AppointmentRequest) AppointmentRequest {
	out := AppointmentRequest{
		ID:                 r.ID.String(),
		RequesterID:        r.RequesterID,
		ProviderID:         r.ProviderID,
		AppointmentType:    string(r.AppointmentType),
		Reason:             r.Reason,
		State:              string(r.State),
		CancelledBy:        string(r.CancelledBy),
		RejectionReason:    r.RejectionReason,
		CancellationReason: r.CancellationReason,
		Notes:              r.Notes,
		DecidedAt:          r.DecidedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.SlotID != nil {
		out.SlotID = r.SlotID.String()
	}
	if r.PreferredDate != nil {
		out.PreferredDate = domain.FormatDate(*r.PreferredDate)
	}
	if r.PreferredTime != nil {
		out.PreferredTime = r.PreferredTime.String()
	}
	return out
}

func toWireRequestPage(p scheduling.Page[domain.AppointmentRequest]) *ListRequestsResponse {
	out := &ListRequestsResponse{
		Requests: make([]AppointmentRequest, 0, len(p.Items)),
		Total:    p.Total,
		Page:     p.Page,
		Limit:    p.Limit,
	}
	for _, r := range p.Items {
		out.Requests = append(out.Requests, toWireRequest(r))
	}
	return out
}

func toWireCalendar(v scheduling.CalendarView) *CalendarViewResponse {
	out := &CalendarViewResponse{
		Year:  v.Year,
		Month: int(v.Month),
		Days:  make([]CalendarDay, 0, len(v.Days)),
	}
	for _, d := range v.Days {
		out.Days = append(out.Days, CalendarDay{
			Date:        domain.FormatDate(d.Date),
			Slots:       toWireSlots(d.Slots),
			Available:   d.Available,
			Booked:      d.Booked,
			Unavailable: d.Unavailable,
		})
	}
	return out
}
