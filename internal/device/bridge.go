package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/metrics"
	"github.com/aiox-platform/jarvis/internal/orchestrator"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxFrameBytes  = 64 << 10
	controlTimeout = 5 * time.Second
)

// ErrNotConnected is returned by ports that need a device to act.
var ErrNotConnected = errors.New("no device connected")

// Controller receives the device's voice events. *orchestrator.Orchestrator implements it.
type Controller interface {
	State() orchestrator.State
	WakeWordDetected()
	SpeechCaptured(text string)
	CaptureFailed(err error)
	SpeechFinished(id uint64)
	EmergencyStop(ctx context.Context) error
}

// Bridge connects one session to at most one device WebSocket. It implements
// the orchestrator's voice, map and notification ports by sending frames,
// and turns inbound frames into Controller calls.
type Bridge struct {
	settings Settings
	log      *slog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
	ctrl Controller
}

func NewBridge(settings Settings) *Bridge {
	return &Bridge{
		settings: settings,
		log:      slog.With("session_id", settings.SessionID),
	}
}

// Bind sets the controller that inbound frames are dispatched to.
func (b *Bridge) Bind(ctrl Controller) {
	b.mu.Lock()
	b.ctrl = ctrl
	b.mu.Unlock()
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// NewUpgrader accepts the listed origins, or any origin when the list contains "*".
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
}

// Run attaches conn, replacing any previous device, and reads frames until
// the connection closes or ctx is cancelled. On return the device is
// detached and an unfinished turn is abandoned.
func (b *Bridge) Run(ctx context.Context, conn *websocket.Conn) error {
	ctrl, err := b.attach(conn)
	if ctrl == nil {
		_ = conn.Close()
		return err
	}
	defer b.detach(conn, ctrl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.keepAlive(ctx, conn)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				b.log.Warn("device connection lost", "error", err)
			}
			return nil
		}
		b.dispatch(ctx, ctrl, f)
	}
}

func (b *Bridge) attach(conn *websocket.Conn) (Controller, error) {
	b.mu.Lock()
	ctrl := b.ctrl
	if ctrl == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("bridge for session %s has no controller", b.settings.SessionID)
	}
	prev := b.conn
	b.conn = conn
	settings := b.settings
	err := b.writeLocked(Frame{Type: TypeHello, Settings: &settings})
	if err == nil && ctrl.State() == orchestrator.Listening {
		err = b.writeLocked(Frame{Type: TypeListenStart})
	}
	b.mu.Unlock()

	if prev != nil {
		b.log.Info("device replaced by a new connection")
		_ = prev.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "replaced by a new connection"),
			time.Now().Add(writeWait))
		_ = prev.Close()
	} else {
		metrics.DevicesConnected.Inc()
	}
	if err != nil {
		return ctrl, fmt.Errorf("greeting device: %w", err)
	}
	b.log.Info("device connected", "remote", conn.RemoteAddr().String())
	return ctrl, nil
}

func (b *Bridge) detach(conn *websocket.Conn, ctrl Controller) {
	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
	}
	b.mu.Unlock()
	_ = conn.Close()

	if !current {
		return
	}
	metrics.DevicesConnected.Dec()
	b.log.Info("device disconnected")

	switch ctrl.State() {
	case orchestrator.Idle, orchestrator.Listening:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := ctrl.EmergencyStop(ctx); err != nil && !errors.Is(err, orchestrator.ErrStopped) {
		b.log.Warn("stopping turn after disconnect", "error", err)
	}
}

func (b *Bridge) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ctrl Controller, f Frame) {
	switch f.Type {
	case TypeWakeWord:
		ctrl.WakeWordDetected()
	case TypeSpeech:
		ctrl.SpeechCaptured(f.Text)
	case TypeCaptureError:
		msg := f.Error
		if msg == "" {
			msg = "unknown capture error"
		}
		ctrl.CaptureFailed(errors.New(msg))
	case TypeSpeechFinished:
		ctrl.SpeechFinished(f.ID)
	case TypeEmergencyStop:
		stopCtx, cancel := context.WithTimeout(ctx, controlTimeout)
		defer cancel()
		if err := ctrl.EmergencyStop(stopCtx); err != nil {
			b.log.Warn("emergency stop from device", "error", err)
		}
	default:
		b.log.Debug("unknown device frame", "type", f.Type)
		_ = b.send(Frame{Type: TypeError, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

// send writes f to the device. Without a device it returns ErrNotConnected.
func (b *Bridge) send(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return ErrNotConnected
	}
	return b.writeLocked(f)
}

func (b *Bridge) writeLocked(f Frame) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Type, err)
	}
	return nil
}

// notify sends a frame nobody waits on; a missing device is not an error.
func (b *Bridge) notify(f Frame) {
	if err := b.send(f); err != nil && !errors.Is(err, ErrNotConnected) {
		b.log.Debug("notifying device", "type", f.Type, "error", err)
	}
}

func (b *Bridge) optional(f Frame) error {
	if err := b.send(f); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (b *Bridge) StartWakeWordListening() error { return b.optional(Frame{Type: TypeListenStart}) }

func (b *Bridge) StopListening() error { return b.optional(Frame{Type: TypeListenStop}) }

// StartCommandCapture needs a device; without one the turn cannot proceed.
func (b *Bridge) StartCommandCapture() error { return b.send(Frame{Type: TypeCaptureStart}) }

func (b *Bridge) StopCommandCapture() error { return b.optional(Frame{Type: TypeCaptureStop}) }

// Speak needs a device, otherwise the session would wait for a
// speech_finished that never comes. The device echoes id in speech_finished.
func (b *Bridge) Speak(id uint64, text string) error {
	return b.send(Frame{Type: TypeSpeak, ID: id, Text: text})
}

func (b *Bridge) StopSpeaking() error { return b.optional(Frame{Type: TypeSpeakStop}) }

func (b *Bridge) StateChanged(from, to orchestrator.State) {
	b.notify(Frame{Type: TypeState, From: from.String(), To: to.String()})
}

func (b *Bridge) Notice(text string) { b.notify(Frame{Type: TypeNotice, Text: text}) }

func (b *Bridge) ChatTurn(role conversation.Role, text string) {
	b.notify(Frame{Type: TypeChat, Role: string(role), Text: text})
}

func (b *Bridge) ProcessMapRequest(raw string) { b.notify(Frame{Type: TypeMap, Text: raw}) }

// Partial forwards a streamed completion delta unless its request was
// abandoned. The check and the write share the write lock, so no delta
// follows the frames of the stop that cancelled ctx.
func (b *Bridge) Partial(ctx context.Context, delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || ctx.Err() != nil {
		return
	}
	if err := b.writeLocked(Frame{Type: TypePartial, Text: delta}); err != nil {
		b.log.Debug("notifying device", "type", TypePartial, "error", err)
	}
}

// Close disconnects the current device, if any.
func (b *Bridge) Close() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}
