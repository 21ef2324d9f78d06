package gateway

import "fmt"

// Kind classifies why a request produced no usable completion.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindNetworkError Kind = "network_error"
	KindAPIError     Kind = "api_error"
	KindNoChoices    Kind = "no_choices"
	KindParseError   Kind = "parse_error"
)

// Failure is the error half of an Outcome. Type and Code carry the
// endpoint's structured error fields when the body could be parsed.
type Failure struct {
	Kind       Kind
	Message    string
	Type       string
	Code       string
	StatusCode int
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", f.Kind, f.Message, f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func failed(kind Kind, format string, args ...any) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}}
}

// Usage reports token accounting returned by the endpoint.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Outcome is the single result of one Send: either Text/Raw/Usage or Failure.
type Outcome struct {
	Text    string
	Raw     string
	Usage   Usage
	Failure *Failure
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	if o.Failure == nil {
		return "success"
	}
	return string(o.Failure.Kind)
}
