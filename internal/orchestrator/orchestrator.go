package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/gateway"
	"github.com/aiox-platform/jarvis/internal/metrics"
)

const (
	FallbackMessage = "Sorry, I encountered an error. Please try again."
	TimeoutNotice   = "I didn't hear anything. Try again."
	RecoveryNotice  = "Voice input failed. Listening again."

	defaultVoiceTimeout = 5 * time.Second
	eventBuffer         = 64
)

// ErrStopped is returned by calls that need the event loop after Run has returned.
var ErrStopped = errors.New("orchestrator stopped")

type eventKind int

const (
	evStart eventKind = iota
	evWakeWord
	evSpeech
	evCaptureFailed
	evCaptureTimeout
	evAIResult
	evSpeechFinished
	evEmergencyStop
	evSetSystemPrompt
	evClearConversation
)

type event struct {
	kind    eventKind
	text    string
	err     error
	epoch   uint64
	outcome gateway.Outcome
	ack     chan struct{}
}

type Config struct {
	SessionID       string
	VoiceTimeout    time.Duration
	MaintainContext bool
}

// Deps are the collaborators an Orchestrator drives. Maps and Sink are optional.
type Deps struct {
	Conversation *conversation.Context
	Completer    Completer
	Capture      VoiceCapture
	Output       VoiceOutput
	Maps         MapCollaborator
	Sink         NotificationSink
}

// Orchestrator is the turn-taking state machine of one session. All state
// lives in the goroutine running Run; public methods only post events to it.
type Orchestrator struct {
	cfg     Config
	conv    *conversation.Context
	ai      Completer
	capture VoiceCapture
	output  VoiceOutput
	maps    MapCollaborator
	sink    NotificationSink
	log     *slog.Logger

	events chan event
	done   chan struct{}

	mu         sync.RWMutex
	state      State
	processing bool

	// owned by the loop
	runCtx        context.Context
	captureEpoch  uint64
	captureTimer  *time.Timer
	requestEpoch  uint64
	requestCancel context.CancelFunc
	speakEpoch    uint64
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.VoiceTimeout <= 0 {
		cfg.VoiceTimeout = defaultVoiceTimeout
	}
	o := &Orchestrator{
		cfg:     cfg,
		conv:    deps.Conversation,
		ai:      deps.Completer,
		capture: deps.Capture,
		output:  deps.Output,
		maps:    deps.Maps,
		sink:    deps.Sink,
		log:     slog.With("session_id", cfg.SessionID),
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		state:   Idle,
	}
	if o.maps == nil {
		o.maps = nopMaps{}
	}
	if o.sink == nil {
		o.sink = nopSink{}
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Processing reports whether a turn is in progress (wake word seen, not yet
// back to listening).
func (o *Orchestrator) Processing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.processing
}

func (o *Orchestrator) Conversation() *conversation.Context {
	return o.conv
}

// Done is closed once Run has returned.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Start leaves Idle and begins wake-word listening.
func (o *Orchestrator) Start() { o.post(event{kind: evStart}) }

func (o *Orchestrator) WakeWordDetected() { o.post(event{kind: evWakeWord}) }

func (o *Orchestrator) SpeechCaptured(text string) { o.post(event{kind: evSpeech, text: text}) }

func (o *Orchestrator) CaptureFailed(err error) { o.post(event{kind: evCaptureFailed, err: err}) }

// SpeechFinished reports the end of the utterance that Speak was given id for.
func (o *Orchestrator) SpeechFinished(id uint64) {
	o.post(event{kind: evSpeechFinished, epoch: id})
}

// EmergencyStop abandons whatever the session is doing and returns it to
// Listening. It is safe from any state and waits until the loop applied it.
func (o *Orchestrator) EmergencyStop(ctx context.Context) error {
	return o.call(ctx, event{kind: evEmergencyStop})
}

func (o *Orchestrator) SetSystemPrompt(ctx context.Context, text string) error {
	return o.call(ctx, event{kind: evSetSystemPrompt, text: text})
}

// ClearConversation drops all turns, keeping the system prompt.
func (o *Orchestrator) ClearConversation(ctx context.Context) error {
	return o.call(ctx, event{kind: evClearConversation})
}

func (o *Orchestrator) post(ev event) bool {
	select {
	case o.events <- ev:
		return true
	case <-o.done:
		return false
	}
}

func (o *Orchestrator) call(ctx context.Context, ev event) error {
	ev.ack = make(chan struct{})
	select {
	case o.events <- ev:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ev.ack:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	defer close(o.done)
	defer o.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) handle(ev event) {
	if ev.ack != nil {
		defer close(ev.ack)
	}

	switch ev.kind {
	case evStart:
		o.onStart()
	case evWakeWord:
		o.onWakeWord()
	case evSpeech:
		o.onSpeech(ev.text)
	case evCaptureFailed:
		o.onCaptureFailed(ev.err)
	case evCaptureTimeout:
		o.onCaptureTimeout(ev.epoch)
	case evAIResult:
		o.onAIResult(ev.epoch, ev.outcome)
	case evSpeechFinished:
		o.onSpeechFinished(ev.epoch)
	case evEmergencyStop:
		o.onEmergencyStop()
	case evSetSystemPrompt:
		o.conv.SetSystemPrompt(ev.text)
	case evClearConversation:
		o.conv.Clear()
	}
}

func (o *Orchestrator) onStart() {
	if o.State() != Idle {
		return
	}
	o.enterListening()
}

func (o *Orchestrator) onWakeWord() {
	if o.Processing() || o.State() != Listening {
		o.log.Debug("wake word ignored", "state", o.State())
		return
	}

	o.setProcessing(true)
	o.setState(WakeDetected)

	if err := o.capture.StartCommandCapture(); err != nil {
		o.recoverFrom("starting command capture", err)
		return
	}

	o.captureEpoch++
	epoch := o.captureEpoch
	o.captureTimer = time.AfterFunc(o.cfg.VoiceTimeout, func() {
		o.post(event{kind: evCaptureTimeout, epoch: epoch})
	})
	o.setState(Capturing)
}

func (o *Orchestrator) onSpeech(text string) {
	if o.State() != Capturing {
		o.log.Debug("speech ignored", "state", o.State())
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	o.cancelCapture()
	if err := o.capture.StopCommandCapture(); err != nil {
		o.log.Warn("stopping command capture", "error", err)
	}
	o.setState(AwaitingAI)

	o.conv.AppendUser(text)
	o.sink.ChatTurn(conversation.RoleUser, text)
	snapshot := o.conv.Snapshot(o.cfg.MaintainContext, text)

	o.requestEpoch++
	epoch := o.requestEpoch
	reqCtx, cancel := context.WithCancel(o.runCtx)
	o.requestCancel = cancel

	go func() {
		out := o.ai.Send(reqCtx, snapshot)
		o.post(event{kind: evAIResult, epoch: epoch, outcome: out})
	}()
}

func (o *Orchestrator) onCaptureTimeout(epoch uint64) {
	if epoch != o.captureEpoch || o.State() != Capturing {
		return
	}
	o.captureTimer = nil
	o.captureEpoch++
	metrics.CaptureTimeoutsTotal.Inc()

	if err := o.capture.StopCommandCapture(); err != nil {
		o.log.Warn("stopping command capture", "error", err)
	}
	o.sink.Notice(TimeoutNotice)
	o.enterListening()
}

func (o *Orchestrator) onCaptureFailed(err error) {
	switch o.State() {
	case WakeDetected, Capturing:
	default:
		return
	}
	o.cancelCapture()
	o.recoverFrom("voice capture", err)
}

func (o *Orchestrator) onAIResult(epoch uint64, out gateway.Outcome) {
	if epoch != o.requestEpoch || o.State() != AwaitingAI {
		o.log.Debug("discarding stale ai result", "epoch", epoch, "current", o.requestEpoch)
		return
	}
	if o.requestCancel != nil {
		o.requestCancel()
		o.requestCancel = nil
	}

	if !out.OK() {
		if out.Failure.Kind == gateway.KindRateLimited {
			o.log.Info("ai request dropped", "reason", out.Failure.Message)
			o.enterListening()
			return
		}
		o.log.Warn("ai request failed", "kind", out.Failure.Kind, "error", out.Failure.Message)
		o.sink.Notice(FallbackMessage)
		o.speak(FallbackMessage)
		return
	}

	o.conv.AppendAssistant(out.Raw)
	o.sink.ChatTurn(conversation.RoleAssistant, out.Text)
	if ContainsMapIntent(out.Raw) {
		o.maps.ProcessMapRequest(out.Raw)
	}
	o.speak(out.Text)
}

func (o *Orchestrator) speak(text string) {
	o.speakEpoch++
	o.setState(Speaking)
	if err := o.output.Speak(o.speakEpoch, text); err != nil {
		o.recoverFrom("speaking", err)
	}
}

func (o *Orchestrator) onSpeechFinished(id uint64) {
	if id != o.speakEpoch || o.State() != Speaking {
		o.log.Debug("discarding stale speech finished", "id", id, "current", o.speakEpoch)
		return
	}
	o.enterListening()
}

func (o *Orchestrator) onEmergencyStop() {
	metrics.EmergencyStopsTotal.Inc()
	prev := o.State()

	o.cancelCapture()
	o.cancelRequest()
	o.speakEpoch++

	switch prev {
	case WakeDetected, Capturing:
		if err := o.capture.StopCommandCapture(); err != nil {
			o.log.Warn("stopping command capture", "error", err)
		}
	case Speaking:
		if err := o.output.StopSpeaking(); err != nil {
			o.log.Warn("stopping speech", "error", err)
		}
	}

	o.log.Info("emergency stop", "state", prev)
	if prev == Listening {
		o.setProcessing(false)
		return
	}
	o.enterListening()
}

// recoverFrom handles a capture or playback port failure: notify, then listen again.
func (o *Orchestrator) recoverFrom(op string, err error) {
	o.log.Error("port failure", "op", op, "error", err)
	o.setState(ErrorRecovery)
	if stopErr := o.capture.StopCommandCapture(); stopErr != nil {
		o.log.Debug("stopping command capture", "error", stopErr)
	}
	o.sink.Notice(RecoveryNotice)
	o.enterListening()
}

func (o *Orchestrator) enterListening() {
	o.setProcessing(false)
	o.setState(Listening)
	if err := o.capture.StartWakeWordListening(); err != nil {
		o.log.Error("starting wake word listening", "error", err)
	}
}

// cancelCapture invalidates any pending capture timeout.
func (o *Orchestrator) cancelCapture() {
	o.captureEpoch++
	if o.captureTimer != nil {
		o.captureTimer.Stop()
		o.captureTimer = nil
	}
}

// cancelRequest abandons the in-flight AI request; its result will be stale.
func (o *Orchestrator) cancelRequest() {
	o.requestEpoch++
	if o.requestCancel != nil {
		o.requestCancel()
		o.requestCancel = nil
	}
}

func (o *Orchestrator) shutdown() {
	o.cancelCapture()
	o.cancelRequest()
	if o.State() != Idle {
		if err := o.capture.StopListening(); err != nil {
			o.log.Debug("stopping listening", "error", err)
		}
	}
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if from == to {
		return
	}
	o.log.Debug("state changed", "from", from, "to", to)
	metrics.StateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	o.sink.StateChanged(from, to)
}

func (o *Orchestrator) setProcessing(v bool) {
	o.mu.Lock()
	o.processing = v
	o.mu.Unlock()
}
