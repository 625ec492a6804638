// Package lifecycle carries meeting lifecycle notifications from the meeting
// layer to the components that mirror meetings into external calendars.
package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	MeetingScheduled   Kind = "scheduled"
	MeetingRescheduled Kind = "rescheduled"
	MeetingEdited      Kind = "edited"
	MeetingUnscheduled Kind = "unscheduled"
	// MeetingDeleting is published before the meeting row is deleted.
	MeetingDeleting  Kind = "deleting"
	RespondentJoined Kind = "respondent_joined"
	// RespondentLeaving is published before the respondent row is deleted.
	RespondentLeaving Kind = "respondent_leaving"
)

// Event is a single lifecycle notification.
type Event struct {
	Kind         Kind
	MeetingID    int64
	RespondentID int64 // set for respondent events
}

// Handler reacts to an event. Handlers for MeetingDeleting and
// RespondentLeaving must not return before their work is complete.
type Handler func(ctx context.Context, ev Event) error

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish calls every handler and returns their joined errors.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
