package calsync

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"kaarna/internal/models"
)

const dateLayout = "2006-01-02"

// MeetingWindow computes the UTC range covered by a meeting's grid: the
// earliest tentative date at MinStartHour until the latest tentative date at
// MaxEndHour, both in the meeting's timezone. When MaxEndHour is not after
// MinStartHour the grid wraps past midnight and the end moves to the next day.
func MeetingWindow(m *models.Meeting) (models.Window, error) {
	if len(m.TentativeDates) == 0 {
		return models.Window{}, errors.New("meeting has no tentative dates")
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return models.Window{}, fmt.Errorf("invalid meeting timezone %q: %w", m.Timezone, err)
	}

	dates := append([]string(nil), m.TentativeDates...)
	sort.Strings(dates)
	minDate, err := time.ParseInLocation(dateLayout, dates[0], loc)
	if err != nil {
		return models.Window{}, fmt.Errorf("invalid tentative date %q: %w", dates[0], err)
	}
	maxDate, err := time.ParseInLocation(dateLayout, dates[len(dates)-1], loc)
	if err != nil {
		return models.Window{}, fmt.Errorf("invalid tentative date %q: %w", dates[len(dates)-1], err)
	}
	if m.MaxEndHour <= m.MinStartHour {
		maxDate = maxDate.AddDate(0, 0, 1)
	}

	return models.Window{
		Start: atHour(minDate, m.MinStartHour, loc).UTC(),
		End:   atHour(maxDate, m.MaxEndHour, loc).UTC(),
	}, nil
}

// atHour returns the wall-clock time hour (possibly fractional) on day in loc.
func atHour(day time.Time, hour float64, loc *time.Location) time.Time {
	minutes := int(math.Round(hour * 60))
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, loc)
}
