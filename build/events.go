// ABOUTME: Build lifecycle event fanout for SSE streaming with bounded per-target history.
// ABOUTME: Slow subscribers get dropped events, never a blocked orchestrator.
package build

import (
	"log"
	"sync"
	"time"
)

// EventType labels a build lifecycle event.
type EventType string

const (
	EventStarted   EventType = "build.started"
	EventSucceeded EventType = "build.succeeded"
	EventFailed    EventType = "build.failed"
	EventCached    EventType = "build.cached"
)

// Event is one build lifecycle notification for a target.
type Event struct {
	Type     EventType `json:"type"`
	TargetID string    `json:"target_id"`
	JobID    string    `json:"job_id"`
	Status   Status    `json:"status"`
	Detail   string    `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
}

const (
	historyLimit  = 64
	subscriberBuf = 16
)

// notifier fans build events out to per-target subscribers and retains a
// bounded history so late subscribers can catch up.
type notifier struct {
	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]chan Event
	history map[string][]Event
}

func newNotifier() *notifier {
	return &notifier{
		subs:    make(map[string]map[int]chan Event),
		history: make(map[string][]Event),
	}
}

// subscribe returns the target's event history, a live channel, and an
// unsubscribe func the caller must invoke when done.
func (n *notifier) subscribe(targetID string) ([]Event, <-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	history := make([]Event, len(n.history[targetID]))
	copy(history, n.history[targetID])

	ch := make(chan Event, subscriberBuf)
	id := n.nextID
	n.nextID++
	if n.subs[targetID] == nil {
		n.subs[targetID] = make(map[int]chan Event)
	}
	n.subs[targetID][id] = ch

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if subs, ok := n.subs[targetID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(n.subs, targetID)
			}
		}
	}
	return history, ch, unsubscribe
}

// publish appends to history and delivers to subscribers, dropping events for
// subscribers whose buffers are full.
func (n *notifier) publish(evt Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hist := append(n.history[evt.TargetID], evt)
	if len(hist) > historyLimit {
		hist = hist[len(hist)-historyLimit:]
	}
	n.history[evt.TargetID] = hist

	for _, ch := range n.subs[evt.TargetID] {
		select {
		case ch <- evt:
		default:
			log.Printf("build: dropped event %s for target %s (subscriber full)", evt.Type, evt.TargetID)
		}
	}
}
