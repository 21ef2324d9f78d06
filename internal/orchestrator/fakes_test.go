package orchestrator

import (
	"context"
	"sync"

	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/gateway"
)

// recorder keeps one ordered log of every port call across fakes.
type recorder struct {
	mu  sync.Mutex
	log []string

	captureStartErr error
	speakErr        error

	spoken      []string
	speakID     uint64
	mapRequests []string
	notices     []string
	transitions [][2]State
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	r.log = append(r.log, entry)
	r.mu.Unlock()
}

func (r *recorder) count(entry string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.log {
		if e == entry {
			n++
		}
	}
	return n
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) spokenTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func (r *recorder) lastSpeakID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speakID
}

func (r *recorder) noticeTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func (r *recorder) visited(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transitions {
		if tr[1] == s {
			return true
		}
	}
	return false
}

type fakeCapture struct{ rec *recorder }

func (f fakeCapture) StartWakeWordListening() error { f.rec.add("listen_start"); return nil }
func (f fakeCapture) StopListening() error          { f.rec.add("listen_stop"); return nil }
func (f fakeCapture) StartCommandCapture() error {
	f.rec.add("capture_start")
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	return f.rec.captureStartErr
}
func (f fakeCapture) StopCommandCapture() error { f.rec.add("capture_stop"); return nil }

type fakeOutput struct{ rec *recorder }

func (f fakeOutput) Speak(id uint64, text string) error {
	f.rec.add("speak:" + text)
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	f.rec.spoken = append(f.rec.spoken, text)
	f.rec.speakID = id
	return f.rec.speakErr
}

func (f fakeOutput) StopSpeaking() error { f.rec.add("speak_stop"); return nil }

type fakeMaps struct{ rec *recorder }

func (f fakeMaps) ProcessMapRequest(raw string) {
	f.rec.add("map:" + raw)
	f.rec.mu.Lock()
	f.rec.mapRequests = append(f.rec.mapRequests, raw)
	f.rec.mu.Unlock()
}

type fakeSink struct{ rec *recorder }

func (f fakeSink) StateChanged(from, to State) {
	f.rec.mu.Lock()
	f.rec.transitions = append(f.rec.transitions, [2]State{from, to})
	f.rec.mu.Unlock()
}

func (f fakeSink) Notice(text string) {
	f.rec.mu.Lock()
	f.rec.notices = append(f.rec.notices, text)
	f.rec.mu.Unlock()
}

func (f fakeSink) ChatTurn(role conversation.Role, text string) {
	f.rec.add("chat:" + string(role) + ":" + text)
}

type fakeCompleter struct {
	mu      sync.Mutex
	calls   [][]conversation.Message
	respond func(ctx context.Context, msgs []conversation.Message) gateway.Outcome
}

func (f *fakeCompleter) Send(ctx context.Context, msgs []conversation.Message) gateway.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, msgs)
	respond := f.respond
	f.mu.Unlock()
	return respond(ctx, msgs)
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) lastCall() []conversation.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func reply(text string) func(context.Context, []conversation.Message) gateway.Outcome {
	return func(context.Context, []conversation.Message) gateway.Outcome {
		return gateway.Outcome{Text: gateway.ProcessResponse(text), Raw: text}
	}
}

func fail(kind gateway.Kind) func(context.Context, []conversation.Message) gateway.Outcome {
	return func(context.Context, []conversation.Message) gateway.Outcome {
		return gateway.Outcome{Failure: &gateway.Failure{Kind: kind, Message: string(kind)}}
	}
}
