package calsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaarna/internal/models"
)

func sampleMeeting() *models.Meeting {
	return &models.Meeting{
		Name:           "Some meeting",
		Timezone:       "America/New_York",
		MinStartHour:   10,
		MaxEndHour:     16,
		TentativeDates: []string{"2022-12-22", "2022-12-21", "2022-12-24"},
	}
}

func TestMeetingWindow(t *testing.T) {
	w, err := MeetingWindow(sampleMeeting())
	require.NoError(t, err)
	assert.Equal(t, "2022-12-21T15:00:00Z", w.StartKey())
	assert.Equal(t, "2022-12-24T21:00:00Z", w.EndKey())
}

func TestMeetingWindowChanges(t *testing.T) {
	m := sampleMeeting()
	m.MinStartHour = 9
	w, err := MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-21T14:00:00Z", w.StartKey())

	m.MaxEndHour = 17
	w, err = MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-24T22:00:00Z", w.EndKey())

	m.Timezone = "America/Los_Angeles"
	w, err = MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-21T17:00:00Z", w.StartKey())
	assert.Equal(t, "2022-12-25T01:00:00Z", w.EndKey())
}

func TestMeetingWindowFractionalHours(t *testing.T) {
	m := sampleMeeting()
	m.MinStartHour = 9.5
	m.MaxEndHour = 16.25
	w, err := MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-21T14:30:00Z", w.StartKey())
	assert.Equal(t, "2022-12-24T21:15:00Z", w.EndKey())
}

func TestMeetingWindowWrapsPastMidnight(t *testing.T) {
	m := sampleMeeting()
	m.MinStartHour = 22
	m.MaxEndHour = 2
	w, err := MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-22T03:00:00Z", w.StartKey())
	assert.Equal(t, "2022-12-25T07:00:00Z", w.EndKey())
}

func TestMeetingWindowEqualFractionalHoursSpansFullDay(t *testing.T) {
	m := sampleMeeting()
	m.TentativeDates = []string{"2022-12-21"}
	m.MinStartHour = 9.5
	m.MaxEndHour = 9.5
	w, err := MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, w.End.Sub(w.Start))
}

func TestMeetingWindowAcrossDST(t *testing.T) {
	m := &models.Meeting{
		Timezone:       "America/New_York",
		MinStartHour:   9,
		MaxEndHour:     17,
		TentativeDates: []string{"2023-03-11", "2023-03-13"},
	}
	w, err := MeetingWindow(m)
	require.NoError(t, err)
	assert.Equal(t, "2023-03-11T14:00:00Z", w.StartKey())
	assert.Equal(t, "2023-03-13T21:00:00Z", w.EndKey())
}

func TestMeetingWindowErrors(t *testing.T) {
	m := sampleMeeting()
	m.Timezone = "Not/AZone"
	_, err := MeetingWindow(m)
	assert.Error(t, err)

	m = sampleMeeting()
	m.TentativeDates = nil
	_, err = MeetingWindow(m)
	assert.Error(t, err)
}
