package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
)

func TestBusinessHours_Disabled(t *testing.T) {
	hours, err := NewBusinessHours(config.BusinessHoursConfig{Enabled: false, Start: "garbage"})
	require.NoError(t, err)
	assert.True(t, hours.Contains(time.Date(2024, 5, 5, 3, 0, 0, 0, time.UTC)))

	var nilHours *BusinessHours
	assert.True(t, nilHours.Contains(time.Now()))
}

func TestBusinessHours_DayWindow(t *testing.T) {
	hours, err := NewBusinessHours(config.BusinessHoursConfig{
		Enabled:  true,
		Timezone: "America/Sao_Paulo",
		Days:     []int{1, 2, 3, 4, 5},
		Start:    "09:00",
		End:      "18:00",
	})
	require.NoError(t, err)

	// Monday 2024-05-06, Sao Paulo is UTC-3.
	testCases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"opening minute", time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC), true},
		{"before opening", time.Date(2024, 5, 6, 11, 59, 0, 0, time.UTC), false},
		{"last minute", time.Date(2024, 5, 6, 20, 59, 0, 0, time.UTC), true},
		{"closing minute", time.Date(2024, 5, 6, 21, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2024, 5, 5, 15, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, hours.Contains(tc.at))
		})
	}
}

func TestBusinessHours_Overnight(t *testing.T) {
	hours, err := NewBusinessHours(config.BusinessHoursConfig{
		Enabled: true,
		Days:    []int{5}, // Friday night shift
		Start:   "22:00",
		End:     "06:00",
	})
	require.NoError(t, err)

	assert.True(t, hours.Contains(time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)), "friday late")
	assert.True(t, hours.Contains(time.Date(2024, 5, 11, 5, 59, 0, 0, time.UTC)), "saturday early belongs to friday")
	assert.False(t, hours.Contains(time.Date(2024, 5, 11, 6, 0, 0, 0, time.UTC)))
	assert.False(t, hours.Contains(time.Date(2024, 5, 10, 5, 0, 0, 0, time.UTC)), "friday early belongs to thursday")
}

func TestBusinessHours_EmptyDaysMeansEveryDay(t *testing.T) {
	hours, err := NewBusinessHours(config.BusinessHoursConfig{Enabled: true, Start: "00:00", End: "00:00"})
	require.NoError(t, err)
	assert.True(t, hours.Contains(time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)))
}

func TestBusinessHours_InvalidConfig(t *testing.T) {
	testCases := []config.BusinessHoursConfig{
		{Enabled: true, Timezone: "Mars/Olympus", Start: "09:00", End: "18:00"},
		{Enabled: true, Start: "9am", End: "18:00"},
		{Enabled: true, Start: "09:00", End: "25:00"},
		{Enabled: true, Start: "09:00", End: "18:00", Days: []int{7}},
	}
	for _, cfg := range testCases {
		_, err := NewBusinessHours(cfg)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	}
}
