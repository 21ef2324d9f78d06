package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerManager handles durable consumer creation and retrieval.
type ConsumerManager struct {
	js jetstream.JetStream
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates or updates a durable consumer on the given stream.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, stream, name, filterSubject string) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", name, stream, err)
	}
	return consumer, nil
}

// ControlHandler applies a control command. Returning an error naks the message.
type ControlHandler func(ctx context.Context, cmd ControlCommand) error

// ConsumeControl fetches control commands until ctx is cancelled.
func (cm *ConsumerManager) ConsumeControl(ctx context.Context, handle ControlHandler) error {
	consumer, err := cm.EnsureConsumer(ctx, StreamControl, "jarvis-control", SubjectControlAll)
	if err != nil {
		return err
	}

	slog.Info("control consumer started", "consumer", "jarvis-control")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching control commands", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			processControl(ctx, msg, handle)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func processControl(ctx context.Context, msg jetstream.Msg, handle ControlHandler) {
	cmd, err := DecodeControl(msg.Subject(), msg.Data())
	if err != nil {
		slog.Error("decoding control command", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}

	if err := handle(ctx, cmd); err != nil {
		slog.Warn("applying control command", "error", err, "session_id", cmd.SessionID, "action", cmd.Action)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// DecodeControl parses a control payload. The session ID defaults to the
// last subject token when the payload omits it.
func DecodeControl(subject string, data []byte) (ControlCommand, error) {
	var cmd ControlCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("unmarshaling control command: %w", err)
	}
	if cmd.SessionID == "" {
		if i := strings.LastIndex(subject, "."); i >= 0 {
			cmd.SessionID = subject[i+1:]
		}
	}
	switch cmd.Action {
	case ActionEmergencyStop, ActionClearConversation, ActionSetSystemPrompt:
	default:
		return cmd, fmt.Errorf("unknown control action %q", cmd.Action)
	}
	if cmd.SessionID == "" {
		return cmd, fmt.Errorf("control command without session")
	}
	return cmd, nil
}
