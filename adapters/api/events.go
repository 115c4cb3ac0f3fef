package api

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gosens/domain/core"
	"gosens/internal/experiment"
	"gosens/ports"
)

// SSEEventType defines the types of SSE events for sampling runs
type SSEEventType string

const (
	EventTypeRunStarted   SSEEventType = "run_started"
	EventTypeRunProgress  SSEEventType = "run_progress"
	EventTypeRunCompleted SSEEventType = "run_completed"
	EventTypeRunFailed    SSEEventType = "run_failed"
)

// SSEEvent represents a server-sent event
type SSEEvent struct {
	EventType SSEEventType `json:"event_type"`
	Timestamp time.Time    `json:"timestamp"`
	Data      interface{}  `json:"data"`
}

// ToSSEFormat converts the event to SSE format
func (e *SSEEvent) ToSSEFormat() string {
	jsonData, err := json.Marshal(e)
	if err != nil {
		// Fallback to basic format
		return fmt.Sprintf("event: %s\ndata: %s\n\n", e.EventType, `{"error":"error marshalling event"}`)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.EventType, string(jsonData))
}

// RunStartedEvent data for run start
type RunStartedEvent struct {
	Samples int `json:"samples"`
}

// RunProgressEvent data for progress reports
type RunProgressEvent struct {
	Completed        int     `json:"completed"`
	Total            int     `json:"total"`
	ProgressPercent  float64 `json:"progress_percent"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds,omitempty"`
	RemainingKnown   bool    `json:"remaining_known"`
	Message          string  `json:"message"`
}

// RunCompletedEvent data for a recorded run
type RunCompletedEvent struct {
	RunID     core.RunID `json:"run_id"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Canceled  bool       `json:"canceled"`
}

// RunFailedEvent data for a run that produced no record
type RunFailedEvent struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newEvent(t SSEEventType, data interface{}) *SSEEvent {
	return &SSEEvent{EventType: t, Timestamp: time.Now(), Data: data}
}

func progressEvent(p experiment.Progress) *SSEEvent {
	data := RunProgressEvent{
		Completed:      p.Completed,
		Total:          p.Total,
		ElapsedSeconds: p.Elapsed.Seconds(),
		RemainingKnown: p.RemainingKnown,
		Message:        p.String(),
	}
	if p.Total > 0 {
		data.ProgressPercent = 100 * float64(p.Completed) / float64(p.Total)
	}
	if p.RemainingKnown {
		data.RemainingSeconds = p.Remaining.Seconds()
	}
	return newEvent(EventTypeRunProgress, data)
}

func completedEvent(rec *ports.RunRecord) *SSEEvent {
	return newEvent(EventTypeRunCompleted, RunCompletedEvent{
		RunID:     rec.ID,
		Succeeded: rec.Succeeded,
		Failed:    rec.Failed,
		Canceled:  rec.Canceled,
	})
}

// EventHub fans events out to every connected stream. A subscriber that
// falls behind loses events rather than stalling the run.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan *SSEEvent]struct{}
	buffer int
}

// NewEventHub creates a hub whose subscribers buffer up to buffer events
func NewEventHub(buffer int) *EventHub {
	return &EventHub{subs: make(map[chan *SSEEvent]struct{}), buffer: buffer}
}

// Subscribe registers a new stream; the returned func unregisters it
func (h *EventHub) Subscribe() (<-chan *SSEEvent, func()) {
	ch := make(chan *SSEEvent, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers is the number of connected streams
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish delivers event to every subscriber with room for it
func (h *EventHub) Publish(event *SSEEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
