package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/jarvis/internal/config"
	"github.com/aiox-platform/jarvis/internal/conversation"
)

func testConfig(url string) config.AIConfig {
	return config.AIConfig{
		APIKey:         "sk-test",
		APIURL:         url,
		Model:          "gpt-4o-mini",
		MaxTokens:      500,
		Temperature:    0.7,
		RequestTimeout: 2 * time.Second,
	}
}

func testMessages() []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleSystem, Content: "be brief"},
		{Role: conversation.RoleUser, Content: "what time is it"},
	}
}

func okHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`, content)
	}
}

func TestGateway_Send_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		okHandler("It is **noon**.")(w, r)
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), Options{})
	out := g.Send(context.Background(), testMessages())

	require.True(t, out.OK(), "unexpected failure: %v", out.Failure)
	assert.Equal(t, "It is noon.", out.Text)
	assert.Equal(t, "It is **noon**.", out.Raw)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, out.Usage)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "what time is it"}, got.Messages[1])

	assert.False(t, g.Limiter().Outstanding(), "outstanding flag must be cleared")
}

func TestGateway_Send_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantKind Kind
		wantMsg  string
	}{
		{
			name: "structured api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","param":null,"code":"invalid_api_key"}}`))
			},
			wantKind: KindAPIError,
			wantMsg:  "Incorrect API key provided",
		},
		{
			name: "unstructured error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("upstream unavailable"))
			},
			wantKind: KindNetworkError,
			wantMsg:  "upstream unavailable",
		},
		{
			name: "empty error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantKind: KindNetworkError,
			wantMsg:  "HTTP 503 Service Unavailable",
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			wantKind: KindNoChoices,
		},
		{
			name: "malformed success body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not-json"))
			},
			wantKind: KindParseError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			g := New(testConfig(srv.URL), Options{})
			out := g.Send(context.Background(), testMessages())

			require.False(t, out.OK())
			assert.Equal(t, tt.wantKind, out.Failure.Kind)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, out.Failure.Message)
			}
			assert.Empty(t, out.Text)
			assert.False(t, g.Limiter().Outstanding())
		})
	}
}

func TestGateway_Send_APIErrorFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"requests","code":429}}`))
	}))
	defer srv.Close()

	out := New(testConfig(srv.URL), Options{}).Send(context.Background(), testMessages())
	require.NotNil(t, out.Failure)
	assert.Equal(t, "requests", out.Failure.Type)
	assert.Equal(t, "429", out.Failure.Code)
	assert.Equal(t, http.StatusTooManyRequests, out.Failure.StatusCode)
	assert.EqualError(t, out.Failure, "api_error: slow down (code: 429)")
}

func TestGateway_Send_NetworkError(t *testing.T) {
	srv := httptest.NewServer(okHandler("unused"))
	url := srv.URL
	srv.Close()

	out := New(testConfig(url), Options{}).Send(context.Background(), testMessages())
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindNetworkError, out.Failure.Kind)
}

func TestGateway_Send_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	g := New(cfg, Options{})

	out := g.Send(context.Background(), testMessages())
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindTimeout, out.Failure.Kind)
	assert.False(t, g.Limiter().Outstanding())
}

func TestGateway_Send_Cancelled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() { done <- g.Send(ctx, testMessages()) }()

	<-started
	cancel()

	select {
	case out := <-done:
		require.NotNil(t, out.Failure)
		assert.Equal(t, KindCancelled, out.Failure.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after cancellation")
	}
	assert.False(t, g.Limiter().Outstanding())
}

func TestGateway_Send_RateLimited(t *testing.T) {
	srv := httptest.NewServer(okHandler("hi"))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	cfg := testConfig(srv.URL)
	cfg.MinRequestInterval = time.Second
	g := New(cfg, Options{Now: clock})

	first := g.Send(context.Background(), testMessages())
	require.True(t, first.OK())
	stamp := g.Limiter().LastRequest()

	mu.Lock()
	now = now.Add(300 * time.Millisecond)
	mu.Unlock()

	second := g.Send(context.Background(), testMessages())
	require.NotNil(t, second.Failure)
	assert.Equal(t, KindRateLimited, second.Failure.Kind)
	assert.Equal(t, stamp, g.Limiter().LastRequest(), "rejected send must not move the timestamp")

	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()

	third := g.Send(context.Background(), testMessages())
	assert.True(t, third.OK())
}

func TestGateway_Send_RejectsWhileOutstanding(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		okHandler("done")(w, r)
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), Options{})

	done := make(chan Outcome, 1)
	go func() { done <- g.Send(context.Background(), testMessages()) }()
	<-entered

	second := g.Send(context.Background(), testMessages())
	require.NotNil(t, second.Failure)
	assert.Equal(t, KindRateLimited, second.Failure.Kind)

	close(release)
	first := <-done
	assert.True(t, first.OK())
	assert.Equal(t, "done", first.Text)
}

func TestGateway_Send_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Turn \"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"*left*.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var partials []string
	cfg := testConfig(srv.URL)
	cfg.Stream = true
	g := New(cfg, Options{OnPartial: func(_ context.Context, delta string) { partials = append(partials, delta) }})

	out := g.Send(context.Background(), testMessages())
	require.True(t, out.OK(), "unexpected failure: %v", out.Failure)
	assert.Equal(t, []string{"Turn ", "*left*."}, partials)
	assert.Equal(t, "Turn *left*.", out.Raw)
	assert.Equal(t, "Turn left.", out.Text)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}

func TestGateway_Send_StreamCancelledStopsPartials(t *testing.T) {
	more := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-more
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\" second\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var partials []string
	cfg := testConfig(srv.URL)
	cfg.Stream = true
	g := New(cfg, Options{OnPartial: func(_ context.Context, delta string) {
		mu.Lock()
		partials = append(partials, delta)
		mu.Unlock()
		// the session abandons the request after the first delta
		cancel()
		close(more)
	}})

	g.Send(ctx, testMessages())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first"}, partials)
}

func TestGateway_Send_StreamWithoutChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Stream = true
	out := New(cfg, Options{}).Send(context.Background(), testMessages())
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindNoChoices, out.Failure.Kind)
}
