package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var defaultWakeWords = []string{"hey jarvis", "jarvis"}

// Validate checks Config for problems that would prevent the service from running.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fieldMessage(fe))
		}
	}

	if c.Conversation.MaxHistory < 2 && c.Conversation.MaintainContext {
		errs = append(errs, "CONVERSATION_MAX_HISTORY must allow at least one user/assistant pair")
	}

	// API key: warn only
	if c.AI.APIKey == "" {
		slog.Warn("AI_API_KEY is empty, the AI endpoint will reject requests")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

// Clamp pulls tunables back into their supported ranges, logging every adjustment.
func (c *Config) Clamp() {
	c.AI.MaxTokens = clampInt("AI_MAX_TOKENS", c.AI.MaxTokens, 50, 2000)
	c.AI.Temperature = clampFloat("AI_TEMPERATURE", c.AI.Temperature, 0, 2)
	c.Voice.SpeechRate = clampFloat("VOICE_SPEECH_RATE", c.Voice.SpeechRate, 0.1, 3)
	c.Voice.SpeechPitch = clampFloat("VOICE_SPEECH_PITCH", c.Voice.SpeechPitch, 0.1, 2)
	c.Voice.SpeechVol = clampFloat("VOICE_SPEECH_VOLUME", c.Voice.SpeechVol, 0, 1)
	c.Chat.MaxMessages = clampInt("CHAT_MAX_MESSAGES", c.Chat.MaxMessages, 10, 200)

	if len(c.Voice.WakeWords) == 0 {
		c.Voice.WakeWords = append([]string(nil), defaultWakeWords...)
	}
}

func fieldMessage(fe validator.FieldError) string {
	name := envName(fe.Namespace())
	if strings.HasSuffix(name, "_SECRET") && fe.Tag() == "min" {
		return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", name, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", name, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL, got %q", name, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %q validation", name, fe.Tag())
}

// envName turns "Config.AI.MaxTokens" into "AI_MAX_TOKENS".
func envName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(snakeUpper(p))
	}
	return b.String()
}

func snakeUpper(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if i > 0 && upper {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

func clampInt(name string, v, lo, hi int) int {
	switch {
	case v < lo:
		slog.Warn("config value clamped", "key", name, "value", v, "clamped", lo)
		return lo
	case v > hi:
		slog.Warn("config value clamped", "key", name, "value", v, "clamped", hi)
		return hi
	}
	return v
}

func clampFloat(name string, v, lo, hi float64) float64 {
	switch {
	case v < lo:
		slog.Warn("config value clamped", "key", name, "value", v, "clamped", lo)
		return lo
	case v > hi:
		slog.Warn("config value clamped", "key", name, "value", v, "clamped", hi)
		return hi
	}
	return v
}
