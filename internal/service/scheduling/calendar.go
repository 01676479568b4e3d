package scheduling

import (
	"context"
	"time"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/store"
)

type CalendarDay struct {
	Date        time.Time
	Slots       []domain.Slot
	Available   int
	Booked      int
	Unavailable int
}

type CalendarView struct {
	Year  int
	Month time.Month
	Days  []CalendarDay
}

// GetCalendarView groups an owner's slots for one month by day. Days with no
// slots are omitted.
func (s *Service) GetCalendarView(ctx context.Context, ownerID string, year int, month time.Month) (CalendarView, error) {
	if ownerID == "" {
		return CalendarView{}, validationError("owner_id is required")
	}
	if year < 1 || year > 9999 {
		return CalendarView{}, validationError("invalid year")
	}
	if month < time.January || month > time.December {
		return CalendarView{}, validationError("invalid month")
	}

	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	slots, err := s.repo.ListSlots(ctx, ownerID, store.SlotFilter{From: &from, To: &to})
	if err != nil {
		return CalendarView{}, err
	}

	view := CalendarView{Year: year, Month: month}
	for _, slot := range slots {
		date := domain.DateOf(slot.Date)
		if n := len(view.Days); n == 0 || !view.Days[n-1].Date.Equal(date) {
			view.Days = append(view.Days, CalendarDay{Date: date})
		}
		day := &view.Days[len(view.Days)-1]
		day.Slots = append(day.Slots, slot)
		switch slot.Status {
		case domain.SlotStatusAvailable:
			day.Available++
		case domain.SlotStatusBooked:
			day.Booked++
		case domain.SlotStatusUnavailable:
			day.Unavailable++
		}
	}
	return view, nil
}
