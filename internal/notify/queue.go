package notify

import (
	"log/slog"
	"sync"

	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/metrics"
	"github.com/aiox-platform/jarvis/internal/orchestrator"
)

// Queue delivers notifications to slow sinks on its own goroutine, in order.
// A full queue drops the notification instead of blocking the caller.
type Queue struct {
	sessionID string
	jobs      chan func()
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

func NewQueue(sessionID string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{
		sessionID: sessionID,
		jobs:      make(chan func(), size),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case run := <-q.jobs:
			run()
		case <-q.stop:
			// deliver what was accepted before Close
			for {
				select {
				case run := <-q.jobs:
					run()
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) enqueue(kind string, run func()) {
	select {
	case <-q.stop:
		return
	default:
	}
	select {
	case q.jobs <- run:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		slog.Warn("notification queue full, dropping", "kind", kind, "session_id", q.sessionID)
	}
}

// Close stops accepting notifications. Queued ones are still delivered.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stop) })
}

// Done is closed once every accepted notification has been delivered after Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Sink wraps s so that its calls run on the queue.
func (q *Queue) Sink(s orchestrator.NotificationSink) orchestrator.NotificationSink {
	return queuedSink{q: q, sink: s}
}

// Maps wraps m so that its calls run on the queue.
func (q *Queue) Maps(m orchestrator.MapCollaborator) orchestrator.MapCollaborator {
	return queuedMaps{q: q, maps: m}
}

type queuedSink struct {
	q    *Queue
	sink orchestrator.NotificationSink
}

func (s queuedSink) StateChanged(from, to orchestrator.State) {
	s.q.enqueue("state", func() { s.sink.StateChanged(from, to) })
}

func (s queuedSink) Notice(text string) {
	s.q.enqueue("notice", func() { s.sink.Notice(text) })
}

func (s queuedSink) ChatTurn(role conversation.Role, text string) {
	s.q.enqueue("chat", func() { s.sink.ChatTurn(role, text) })
}

type queuedMaps struct {
	q    *Queue
	maps orchestrator.MapCollaborator
}

func (m queuedMaps) ProcessMapRequest(raw string) {
	m.q.enqueue("map", func() { m.maps.ProcessMapRequest(raw) })
}
