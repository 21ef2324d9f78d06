package nats

import (
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents  = "JARVIS_EVENTS"
	StreamControl = "JARVIS_CONTROL"
)

// Subject prefixes; the session ID is appended as the last token.
const (
	SubjectStatePrefix   = "jarvis.events.state" // jarvis.events.state.{session_id}
	SubjectChatPrefix    = "jarvis.events.chat"  // jarvis.events.chat.{session_id}
	SubjectMapPrefix     = "jarvis.events.map"   // jarvis.events.map.{session_id}
	SubjectControlPrefix = "jarvis.control"      // jarvis.control.{session_id}
	SubjectControlAll    = SubjectControlPrefix + ".>"
)

// Streams are the JetStream streams the service declares on connect. Session
// events are kept for replay; control commands are consumed once.
func Streams() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:      StreamEvents,
			Subjects:  []string{"jarvis.events.>"},
			Retention: jetstream.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
		},
		{
			Name:      StreamControl,
			Subjects:  []string{SubjectControlAll},
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    time.Hour,
		},
	}
}

// Control actions accepted on jarvis.control.{session_id}.
const (
	ActionEmergencyStop     = "emergency_stop"
	ActionClearConversation = "clear_conversation"
	ActionSetSystemPrompt   = "set_system_prompt"
)

// StateEvent is published on every orchestrator state transition.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatEvent is published for every displayed chat turn.
type ChatEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MapEvent is published when a response looks like a navigation request.
type MapEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlCommand lets other services steer a session.
type ControlCommand struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Text      string    `json:"text,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}
