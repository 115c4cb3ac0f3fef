package api

import (
	"strings"
	"testing"
	"time"

	"gosens/internal/experiment"

	"github.com/stretchr/testify/assert"
)

func TestSSEEvent_ToSSEFormat(t *testing.T) {
	e := &SSEEvent{
		EventType: EventTypeRunStarted,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      RunStartedEvent{Samples: 10},
	}
	out := e.ToSSEFormat()
	assert.True(t, strings.HasPrefix(out, "event: run_started\ndata: {"))
	assert.Contains(t, out, `"samples":10`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))

	bad := &SSEEvent{EventType: EventTypeRunFailed, Data: make(chan int)}
	assert.Contains(t, bad.ToSSEFormat(), "error marshalling event")
}

func TestProgressEvent(t *testing.T) {
	e := progressEvent(experiment.Progress{Completed: 0, Total: 200})
	data := e.Data.(RunProgressEvent)
	assert.Equal(t, 0.0, data.ProgressPercent)
	assert.False(t, data.RemainingKnown)

	e = progressEvent(experiment.Progress{
		Completed: 50, Total: 200, Elapsed: 10 * time.Second,
		Remaining: 30 * time.Second, RemainingKnown: true,
	})
	data = e.Data.(RunProgressEvent)
	assert.Equal(t, 25.0, data.ProgressPercent)
	assert.Equal(t, 30.0, data.RemainingSeconds)
	assert.Contains(t, data.Message, "50 samples")
}

func TestEventHub(t *testing.T) {
	hub := NewEventHub(1)
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	assert.Equal(t, 2, hub.Subscribers())

	first := newEvent(EventTypeRunStarted, nil)
	hub.Publish(first)
	// b's buffer is full; the second event is dropped for b only after a drains
	assert.Same(t, first, <-a)
	second := newEvent(EventTypeRunCompleted, nil)
	hub.Publish(second)

	assert.Same(t, second, <-a)
	assert.Same(t, first, <-b)

	unsubA()
	unsubA()
	assert.Equal(t, 1, hub.Subscribers())
	_, open := <-a
	assert.False(t, open)

	unsubB()
	assert.Equal(t, 0, hub.Subscribers())
}
