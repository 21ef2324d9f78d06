package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aiox-platform/jarvis/internal/config"
	"github.com/aiox-platform/jarvis/internal/conversation"
	"github.com/aiox-platform/jarvis/internal/metrics"
)

const maxBodyBytes = 1 << 20

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   any    `json:"param"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Options customizes a Gateway. Zero values select the defaults.
type Options struct {
	HTTPClient *http.Client
	// OnPartial receives each streamed text delta with the request's context.
	// Only used when streaming.
	OnPartial func(ctx context.Context, delta string)
	Now       func() time.Time
}

// Gateway sends conversation snapshots to a chat-completions endpoint,
// one request at a time.
type Gateway struct {
	cfg        config.AIConfig
	httpClient *http.Client
	limiter    *RateLimiter
	onPartial  func(context.Context, string)
	now        func() time.Time
}

func New(cfg config.AIConfig, opts Options) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		httpClient: opts.HTTPClient,
		limiter:    NewRateLimiter(cfg.MinRequestInterval),
		onPartial:  opts.OnPartial,
		now:        opts.Now,
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Gateway) Limiter() *RateLimiter {
	return g.limiter
}

// Send issues one completion request for messages and always returns exactly
// one Outcome. A call made while another is outstanding, or sooner than the
// minimum interval after the previous one, fails with KindRateLimited without
// touching the limiter.
func (g *Gateway) Send(ctx context.Context, messages []conversation.Message) Outcome {
	if !g.limiter.Acquire(g.now()) {
		metrics.AIRequestsTotal.WithLabelValues(string(KindRateLimited)).Inc()
		return failed(KindRateLimited, "request dropped, another request is in flight or too recent")
	}
	defer g.limiter.Release()

	start := time.Now()
	out := g.send(ctx, messages)
	metrics.AIRequestsTotal.WithLabelValues(out.Label()).Inc()
	metrics.AIRequestDuration.Observe(time.Since(start).Seconds())

	if out.OK() {
		slog.Info("ai response received",
			"prompt_tokens", out.Usage.PromptTokens,
			"completion_tokens", out.Usage.CompletionTokens,
			"total_tokens", out.Usage.TotalTokens,
			"duration", time.Since(start),
		)
	}
	return out
}

func (g *Gateway) send(ctx context.Context, messages []conversation.Message) Outcome {
	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	payload := chatRequest{
		Model:       g.cfg.Model,
		Messages:    make([]chatMessage, 0, len(messages)),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Stream:      g.cfg.Stream,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failed(KindParseError, "marshaling request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return failed(KindNetworkError, "building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if g.cfg.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transportFailure(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return transportFailure(ctx, err)
		}
		return statusFailure(resp.StatusCode, raw)
	}

	if g.cfg.Stream {
		return g.readStream(ctx, resp.Body)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportFailure(ctx, err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		slog.Debug("unparseable ai response", "error", err, "body", string(raw))
		return failed(KindParseError, "decoding response: %v", err)
	}
	if len(cr.Choices) == 0 {
		return failed(KindNoChoices, "response contained no choices")
	}

	text := cr.Choices[0].Message.Content
	return Outcome{Text: ProcessResponse(text), Raw: text, Usage: cr.Usage}
}

// transportFailure classifies an error raised while talking to the endpoint.
// ctx is the per-request context, so its error tells a timeout from a caller
// cancellation.
func transportFailure(ctx context.Context, err error) Outcome {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return failed(KindTimeout, "request timed out")
	case errors.Is(ctx.Err(), context.Canceled):
		return failed(KindCancelled, "request cancelled")
	}
	return failed(KindNetworkError, "%v", err)
}

// statusFailure turns a non-2xx response into APIError when the body carries
// a structured error, NetworkError otherwise.
func statusFailure(status int, raw []byte) Outcome {
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return Outcome{Failure: &Failure{
			Kind:       KindAPIError,
			Message:    er.Error.Message,
			Type:       er.Error.Type,
			Code:       stringify(er.Error.Code),
			StatusCode: status,
		}}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return Outcome{Failure: &Failure{Kind: KindNetworkError, Message: msg, StatusCode: status}}
}

// Codes come back as strings from OpenAI and as numbers from some compatible servers.
func stringify(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%g", c)
	}
	return fmt.Sprint(v)
}
