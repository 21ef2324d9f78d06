package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing session events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishState publishes an orchestrator state transition.
func (p *Publisher) PublishState(ctx context.Context, ev StateEvent) error {
	return p.publish(ctx, subjectFor(SubjectStatePrefix, ev.SessionID), ev)
}

// PublishChat publishes a displayed chat turn.
func (p *Publisher) PublishChat(ctx context.Context, ev ChatEvent) error {
	return p.publish(ctx, subjectFor(SubjectChatPrefix, ev.SessionID), ev)
}

// PublishMap publishes a navigation request for the map service.
func (p *Publisher) PublishMap(ctx context.Context, ev MapEvent) error {
	return p.publish(ctx, subjectFor(SubjectMapPrefix, ev.SessionID), ev)
}

// PublishControl queues a control command for a session.
func (p *Publisher) PublishControl(ctx context.Context, cmd ControlCommand) error {
	return p.publish(ctx, subjectFor(SubjectControlPrefix, cmd.SessionID), cmd)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func subjectFor(prefix, sessionID string) string {
	return fmt.Sprintf("%s.%s", prefix, sessionID)
}
