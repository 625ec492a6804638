package ics

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaarna/internal/models"
)

func TestEncode(t *testing.T) {
	start := time.Date(2022, 12, 21, 15, 0, 0, 0, time.UTC)
	events := []models.Event{
		{ID: "event-1", Summary: "Standup", Start: start, End: start.Add(30 * time.Minute)},
		{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, events, "-//kaarna//EN"))

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	prodID, err := cal.Props.Text(ical.PropProductID)
	require.NoError(t, err)
	assert.Equal(t, "-//kaarna//EN", prodID)

	vevents := cal.Events()
	require.Len(t, vevents, 2)

	uid, err := vevents[0].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "event-1", uid)
	summary, err := vevents[0].Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Standup", summary)
	dtStart, err := vevents[0].DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Equal(dtStart))
	dtEnd, err := vevents[0].DateTimeEnd(time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Add(30*time.Minute).Equal(dtEnd))

	// Events without an ID still get a UID and carry no summary.
	uid, err = vevents[1].Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.NotEmpty(t, uid)
	assert.Nil(t, vevents[1].Props.Get(ical.PropSummary))
}
