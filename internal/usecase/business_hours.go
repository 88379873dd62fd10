package usecase

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
)

// BusinessHours answers whether a moment falls inside the company's staffed window.
type BusinessHours struct {
	enabled bool
	loc     *time.Location
	days    map[time.Weekday]bool
	start   int // minutes since midnight
	end     int
}

// NewBusinessHours parses cfg. A disabled config is always inside hours.
// An empty day list means every day; end before start spans midnight.
func NewBusinessHours(cfg config.BusinessHoursConfig) (*BusinessHours, error) {
	if !cfg.Enabled {
		return &BusinessHours{}, nil
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: business hours timezone %q: %v", apperrors.ErrValidation, cfg.Timezone, err)
		}
	}
	start, err := parseClock(cfg.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return nil, err
	}

	days := make(map[time.Weekday]bool, 7)
	for _, d := range cfg.Days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("%w: business hours day %d out of range 0..6", apperrors.ErrValidation, d)
		}
		days[time.Weekday(d)] = true
	}
	if len(days) == 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = true
		}
	}

	return &BusinessHours{enabled: true, loc: loc, days: days, start: start, end: end}, nil
}

// parseClock reads "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: business hours time %q: want HH:MM", apperrors.ErrValidation, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t is inside business hours.
func (b *BusinessHours) Contains(t time.Time) bool {
	if b == nil || !b.enabled {
		return true
	}
	local := t.In(b.loc)
	minute := local.Hour()*60 + local.Minute()

	switch {
	case b.start == b.end:
		return b.days[local.Weekday()]
	case b.start < b.end:
		return b.days[local.Weekday()] && minute >= b.start && minute < b.end
	default:
		// Overnight window: the early-morning part belongs to the previous day.
		if minute >= b.start {
			return b.days[local.Weekday()]
		}
		if minute < b.end {
			return b.days[(local.Weekday()+6)%7]
		}
		return false
	}
}
