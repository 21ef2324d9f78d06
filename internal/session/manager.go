package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aiox-platform/jarvis/internal/chatlog"
	"github.com/aiox-platform/jarvis/internal/config"
	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/device"
	"github.com/aiox-platform/jarvis/internal/gateway"
	"github.com/aiox-platform/jarvis/internal/metrics"
	inats "github.com/aiox-platform/jarvis/internal/nats"
	"github.com/aiox-platform/jarvis/internal/notify"
	"github.com/aiox-platform/jarvis/internal/orchestrator"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// notifyQueueSize bounds the chat log and event bus deliveries waiting per session.
const notifyQueueSize = 256

// Session is one device's conversation: its context, gateway, state machine and device bridge.
type Session struct {
	ID           string
	CreatedAt    time.Time
	Orchestrator *orchestrator.Orchestrator
	Bridge       *device.Bridge

	cancel     context.CancelFunc
	queue      *notify.Queue
	lastActive atomic.Int64 // unix nanoseconds
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// idleSince reports whether the session has had no device and no control
// call since cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	return !s.Bridge.Connected() && s.lastActive.Load() <= cutoff.UnixNano()
}

// Info is the read-only view of a session exposed over the API.
type Info struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	Processing      bool      `json:"processing"`
	DeviceConnected bool      `json:"device_connected"`
	Messages        int       `json:"messages"`
	SystemPrompt    string    `json:"system_prompt"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *Session) Info() Info {
	conv := s.Orchestrator.Conversation()
	return Info{
		ID:              s.ID,
		State:           s.Orchestrator.State().String(),
		Processing:      s.Orchestrator.Processing(),
		DeviceConnected: s.Bridge.Connected(),
		Messages:        conv.Len(),
		SystemPrompt:    conv.SystemPrompt(),
		CreatedAt:       s.CreatedAt,
	}
}

// Options are the optional collaborators of a Manager.
type Options struct {
	ChatLog    *chatlog.Store
	Events     notify.EventPublisher
	HTTPClient *http.Client
}

// Manager owns every open session. Sessions share no mutable state.
type Manager struct {
	cfg        *config.Config
	chat       *chatlog.Store
	events     notify.EventPublisher
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	return &Manager{
		cfg:        cfg,
		chat:       opts.ChatLog,
		events:     opts.Events,
		httpClient: opts.HTTPClient,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// Open returns the session with id, creating and starting it if needed.
func (m *Manager) Open(id string) (*Session, error) {
	if !validID.MatchString(id) {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.touch(m.now())
		return s, nil
	}

	s := m.build(id)
	s.touch(m.now())
	m.sessions[id] = s
	metrics.ActiveSessions.Inc()
	slog.Info("session opened", "session_id", id)
	return s, nil
}

func (m *Manager) build(id string) *Session {
	cfg := m.cfg

	conv := conversation.New(cfg.AI.SystemPrompt, cfg.Conversation.MaxHistory)
	bridge := device.NewBridge(device.Settings{
		SessionID:        id,
		WakeWords:        cfg.Voice.WakeWords,
		Language:         cfg.Voice.Language,
		SpeechRate:       cfg.Voice.SpeechRate,
		SpeechPitch:      cfg.Voice.SpeechPitch,
		SpeechVolume:     cfg.Voice.SpeechVol,
		CaptureTimeoutMs: cfg.Voice.Timeout.Milliseconds(),
	})
	gw := gateway.New(cfg.AI, gateway.Options{
		HTTPClient: m.httpClient,
		OnPartial:  bridge.Partial,
	})

	// Redis and NATS writes run on the queue so they never hold up the loop.
	queue := notify.NewQueue(id, notifyQueueSize)
	fan := notify.NewFanout().AddSink(bridge).AddMaps(bridge)
	if m.chat != nil {
		fan.AddSink(queue.Sink(notify.NewChatLogSink(m.chat, id)))
	}
	if m.events != nil {
		es := notify.NewEventSink(m.events, id)
		fan.AddSink(queue.Sink(es)).AddMaps(queue.Maps(es))
	}

	orch := orchestrator.New(orchestrator.Config{
		SessionID:       id,
		VoiceTimeout:    cfg.Voice.Timeout,
		MaintainContext: cfg.Conversation.MaintainContext,
	}, orchestrator.Deps{
		Conversation: conv,
		Completer:    gw,
		Capture:      bridge,
		Output:       bridge,
		Maps:         fan,
		Sink:         fan,
	})
	bridge.Bind(orch)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := orch.Run(ctx); err != nil {
			slog.Error("session loop stopped", "error", err, "session_id", id)
		}
	}()
	orch.Start()

	return &Session{
		ID:           id,
		CreatedAt:    time.Now().UTC(),
		Orchestrator: orch,
		Bridge:       bridge,
		cancel:       cancel,
		queue:        queue,
	}
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns all sessions ordered by ID.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close stops the session's loop, disconnects its device and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return m.shutdown(ctx, s)
}

func (m *Manager) shutdown(ctx context.Context, s *Session) error {
	metrics.ActiveSessions.Dec()
	defer s.queue.Close()
	s.cancel()
	s.Bridge.Close()

	select {
	case <-s.Orchestrator.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s to stop: %w", s.ID, ctx.Err())
	}
	slog.Info("session closed", "session_id", s.ID)
	return nil
}

// ReapIdle closes every session that has had no device connected and no
// control call for the configured idle timeout. It returns how many it closed.
func (m *Manager) ReapIdle(ctx context.Context) int {
	timeout := m.cfg.Session.IdleTimeout
	if timeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-timeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, id)
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		metrics.SessionsReapedTotal.Inc()
		slog.Info("closing idle session", "session_id", s.ID, "idle_timeout", timeout)
		if err := m.shutdown(ctx, s); err != nil {
			slog.Warn("closing idle session", "error", err, "session_id", s.ID)
		}
	}
	return len(idle)
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapCtx, cancel := context.WithTimeout(ctx, controlTimeout)
			m.ReapIdle(reapCtx)
			cancel()
		}
	}
}

// control returns the session for a control call and marks it active.
func (m *Manager) control(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// released marks the end of a device connection as activity, so the idle
// timeout starts when the device leaves.
func (m *Manager) released(s *Session) {
	m.mu.Lock()
	s.touch(m.now())
	m.mu.Unlock()
}

// CloseAll closes every session; used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("closing session", "error", err, "session_id", id)
		}
	}
}

// ChatLog returns the session's displayed chat history; empty without a chat store.
func (m *Manager) ChatLog(ctx context.Context, id string, limit int) ([]chatlog.Entry, error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}
	if m.chat == nil {
		return []chatlog.Entry{}, nil
	}
	return m.chat.Recent(ctx, id, limit)
}

// ClearConversation resets the session's context and its chat log.
func (m *Manager) ClearConversation(ctx context.Context, id string) error {
	s, err := m.control(id)
	if err != nil {
		return err
	}
	if err := s.Orchestrator.ClearConversation(ctx); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	if m.chat != nil {
		if err := m.chat.Clear(ctx, id); err != nil {
			return fmt.Errorf("clearing chat log: %w", err)
		}
	}
	return nil
}

// HandleControl applies a command received from the event bus. Commands for
// unknown sessions are dropped.
func (m *Manager) HandleControl(ctx context.Context, cmd inats.ControlCommand) error {
	s, err := m.control(cmd.SessionID)
	if err != nil {
		slog.Warn("control command for unknown session", "session_id", cmd.SessionID, "action", cmd.Action)
		return nil
	}

	switch cmd.Action {
	case inats.ActionEmergencyStop:
		return s.Orchestrator.EmergencyStop(ctx)
	case inats.ActionClearConversation:
		return m.ClearConversation(ctx, cmd.SessionID)
	case inats.ActionSetSystemPrompt:
		if cmd.Text == "" {
			return fmt.Errorf("set_system_prompt without text")
		}
		return s.Orchestrator.SetSystemPrompt(ctx, cmd.Text)
	}
	return fmt.Errorf("unknown control action %q", cmd.Action)
}
