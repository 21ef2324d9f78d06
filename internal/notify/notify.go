package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/jarvis/internal/chatlog"
	"github.com/aiox-platform/jarvis/internal/conversation"
	inats "github.com/aiox-platform/jarvis/internal/nats"
	"github.com/aiox-platform/jarvis/internal/orchestrator"
)

const writeTimeout = 2 * time.Second

// Fanout forwards every notification and map request to all registered
// targets, in registration order.
type Fanout struct {
	sinks []orchestrator.NotificationSink
	maps  []orchestrator.MapCollaborator
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// AddSink registers a notification target. Not safe once the session runs.
func (f *Fanout) AddSink(s orchestrator.NotificationSink) *Fanout {
	f.sinks = append(f.sinks, s)
	return f
}

// AddMaps registers a map collaborator. Not safe once the session runs.
func (f *Fanout) AddMaps(m orchestrator.MapCollaborator) *Fanout {
	f.maps = append(f.maps, m)
	return f
}

func (f *Fanout) StateChanged(from, to orchestrator.State) {
	for _, s := range f.sinks {
		s.StateChanged(from, to)
	}
}

func (f *Fanout) Notice(text string) {
	for _, s := range f.sinks {
		s.Notice(text)
	}
}

func (f *Fanout) ChatTurn(role conversation.Role, text string) {
	for _, s := range f.sinks {
		s.ChatTurn(role, text)
	}
}

func (f *Fanout) ProcessMapRequest(raw string) {
	for _, m := range f.maps {
		m.ProcessMapRequest(raw)
	}
}

// ChatAppender is the write side of the chat log.
type ChatAppender interface {
	Append(ctx context.Context, sessionID string, entry chatlog.Entry) error
}

// RoleNotice marks chat log lines that came from the orchestrator rather than a turn.
const RoleNotice = "notice"

// ChatLogSink records chat turns and notices in the session's chat log.
type ChatLogSink struct {
	store     ChatAppender
	sessionID string
	now       func() time.Time
}

func NewChatLogSink(store ChatAppender, sessionID string) *ChatLogSink {
	return &ChatLogSink{store: store, sessionID: sessionID, now: time.Now}
}

func (s *ChatLogSink) StateChanged(_, _ orchestrator.State) {}

func (s *ChatLogSink) Notice(text string) {
	s.append(RoleNotice, text)
}

func (s *ChatLogSink) ChatTurn(role conversation.Role, text string) {
	s.append(string(role), text)
}

func (s *ChatLogSink) append(role, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	entry := chatlog.Entry{Role: role, Text: text, Timestamp: s.now().UTC()}
	if err := s.store.Append(ctx, s.sessionID, entry); err != nil {
		slog.Warn("appending chat log", "error", err, "session_id", s.sessionID)
	}
}

// EventPublisher is the subset of the NATS publisher used for session events.
type EventPublisher interface {
	PublishState(ctx context.Context, ev inats.StateEvent) error
	PublishChat(ctx context.Context, ev inats.ChatEvent) error
	PublishMap(ctx context.Context, ev inats.MapEvent) error
}

// EventSink mirrors state changes, chat turns and map requests onto the event bus.
type EventSink struct {
	pub       EventPublisher
	sessionID string
	now       func() time.Time
}

func NewEventSink(pub EventPublisher, sessionID string) *EventSink {
	return &EventSink{pub: pub, sessionID: sessionID, now: time.Now}
}

func (s *EventSink) StateChanged(from, to orchestrator.State) {
	s.do("state", func(ctx context.Context) error {
		return s.pub.PublishState(ctx, inats.StateEvent{
			SessionID: s.sessionID,
			From:      from.String(),
			To:        to.String(),
			Timestamp: s.now().UTC(),
		})
	})
}

func (s *EventSink) Notice(string) {}

func (s *EventSink) ChatTurn(role conversation.Role, text string) {
	s.do("chat", func(ctx context.Context) error {
		return s.pub.PublishChat(ctx, inats.ChatEvent{
			ID:        uuid.New(),
			SessionID: s.sessionID,
			Role:      string(role),
			Text:      text,
			Timestamp: s.now().UTC(),
		})
	})
}

func (s *EventSink) ProcessMapRequest(raw string) {
	s.do("map", func(ctx context.Context) error {
		return s.pub.PublishMap(ctx, inats.MapEvent{
			ID:        uuid.New(),
			SessionID: s.sessionID,
			Text:      raw,
			Timestamp: s.now().UTC(),
		})
	})
}

func (s *EventSink) do(kind string, publish func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := publish(ctx); err != nil {
		slog.Warn("publishing session event", "kind", kind, "error", err, "session_id", s.sessionID)
	}
}
