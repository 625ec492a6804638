package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishCallsHandlersInOrder(t *testing.T) {
	bus := NewBus()
	var order []string
	bus.Subscribe(func(_ context.Context, ev Event) error {
		order = append(order, "first:"+string(ev.Kind))
		return errors.New("boom")
	})
	bus.Subscribe(func(_ context.Context, ev Event) error {
		order = append(order, "second:"+string(ev.Kind))
		return nil
	})

	err := bus.Publish(context.Background(), Event{Kind: MeetingScheduled, MeetingID: 1})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []string{"first:scheduled", "second:scheduled"}, order)
}
