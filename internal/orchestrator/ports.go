package orchestrator

import (
	"context"

	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/gateway"
)

// VoiceCapture drives the speech-to-text side of a device. Results come back
// through Orchestrator.WakeWordDetected, SpeechCaptured and CaptureFailed.
type VoiceCapture interface {
	StartWakeWordListening() error
	StopListening() error
	StartCommandCapture() error
	StopCommandCapture() error
}

// VoiceOutput drives text-to-speech. Completion is reported through
// Orchestrator.SpeechFinished with the id given to Speak.
type VoiceOutput interface {
	Speak(id uint64, text string) error
	StopSpeaking() error
}

// MapCollaborator receives responses that look like navigation requests.
type MapCollaborator interface {
	ProcessMapRequest(raw string)
}

// NotificationSink observes the session. It never feeds back into the state machine.
type NotificationSink interface {
	StateChanged(from, to State)
	Notice(text string)
	ChatTurn(role conversation.Role, text string)
}

// Completer sends a conversation snapshot to the AI endpoint.
type Completer interface {
	Send(ctx context.Context, messages []conversation.Message) gateway.Outcome
}

type nopMaps struct{}

func (nopMaps) ProcessMapRequest(string) {}

type nopSink struct{}

func (nopSink) StateChanged(State, State)          {}
func (nopSink) Notice(string)                      {}
func (nopSink) ChatTurn(conversation.Role, string) {}
