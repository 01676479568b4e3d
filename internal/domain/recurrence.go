package domain

import (
	"errors"
	"sort"
	"time"
)

type RecurrenceFrequency string

const (
	RecurrenceFrequencyDaily   RecurrenceFrequency = "daily"
	RecurrenceFrequencyWeekly  RecurrenceFrequency = "weekly"
	RecurrenceFrequencyMonthly RecurrenceFrequency = "monthly"
)

func (f RecurrenceFrequency) Valid() bool {
	switch f {
	case RecurrenceFrequencyDaily, RecurrenceFrequencyWeekly, RecurrenceFrequencyMonthly:
		return true
	}
	return false
}

const MaxRecurrenceDays = 366

// DaysOfWeek uses 0=Sunday..6=Saturday.
type RecurringPattern struct {
	Frequency  RecurrenceFrequency `json:"frequency"`
	DaysOfWeek []int               `json:"days_of_week,omitempty"`
	StartDate  time.Time           `json:"start_date"`
	EndDate    time.Time           `json:"end_date"`
}

func (p RecurringPattern) Normalize() RecurringPattern {
	out := RecurringPattern{
		Frequency: p.Frequency,
		StartDate: DateOf(p.StartDate),
		EndDate:   DateOf(p.EndDate),
	}
	if p.Frequency != RecurrenceFrequencyWeekly {
		return out
	}

	seen := make(map[int]struct{}, len(p.DaysOfWeek))
	days := make([]int, 0, len(p.DaysOfWeek))
	for _, wd := range p.DaysOfWeek {
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		days = append(days, wd)
	}
	sort.Ints(days)
	out.DaysOfWeek = days
	return out
}

func ExpandDates(p RecurringPattern) ([]time.Time, error) {
	p = p.Normalize()

	if !p.Frequency.Valid() {
		return nil, errors.New("unsupported recurrence frequency")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return nil, errors.New("start_date and end_date are required")
	}
	if !p.EndDate.After(p.StartDate) {
		return nil, errors.New("end_date must be after start_date")
	}
	if p.EndDate.Sub(p.StartDate) > MaxRecurrenceDays*24*time.Hour {
		return nil, errors.New("recurrence range must not exceed 366 days")
	}

	out := make([]time.Time, 0, 16)

	switch p.Frequency {
	case RecurrenceFrequencyDaily:
		for d := p.StartDate; !d.After(p.EndDate); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}

	case RecurrenceFrequencyWeekly:
		if len(p.DaysOfWeek) == 0 {
			return nil, errors.New("days_of_week is required for weekly recurrence")
		}
		var allowed [7]bool
		for _, wd := range p.DaysOfWeek {
			if wd < 0 || wd > 6 {
				return nil, errors.New("invalid weekday")
			}
			allowed[wd] = true
		}
		for d := p.StartDate; !d.After(p.EndDate); d = d.AddDate(0, 0, 1) {
			if allowed[d.Weekday()] {
				out = append(out, d)
			}
		}

	case RecurrenceFrequencyMonthly:
		// Months are counted from StartDate rather than chained, so a series
		// starting on the 31st skips short months instead of drifting.
		day := p.StartDate.Day()
		for n := 0; ; n++ {
			d := p.StartDate.AddDate(0, n, 0)
			if d.After(p.EndDate) {
				break
			}
			if d.Day() == day {
				out = append(out, d)
			}
		}
	}

	return out, nil
}
