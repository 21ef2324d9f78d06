package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		AI: AIConfig{
			APIKey:             "sk-test",
			APIURL:             "https://api.openai.com/v1/chat/completions",
			Model:              "gpt-4o-mini",
			MaxTokens:          500,
			Temperature:        0.7,
			RequestTimeout:     30 * time.Second,
			MinRequestInterval: time.Second,
		},
		Conversation: ConversationConfig{MaxHistory: 20, MaintainContext: true},
		Voice:        VoiceConfig{Timeout: 5 * time.Second},
		Chat:         ChatConfig{MaxMessages: 50, TTL: 24 * time.Hour},
		RateLimit:    RateLimitConfig{Requests: 30, Window: time.Minute},
		Auth:         AuthConfig{Secret: "0123456789abcdef0123456789abcdef", TokenTTL: time.Hour},
		Session:      SessionConfig{IdleTimeout: 10 * time.Minute, ReapInterval: time.Minute},
		Log:          LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate_RateLimitWindow(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Window = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_WINDOW") {
		t.Fatalf("expected RATE_LIMIT_WINDOW error, got: %v", err)
	}
}

func TestValidate_AuthSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Secret = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_SECRET is required") {
		t.Fatalf("expected AUTH_SECRET error, got: %v", err)
	}

	cfg.Auth.Secret = "short"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AUTH_SECRET must be at least 32") {
		t.Fatalf("expected AUTH_SECRET length error, got: %v", err)
	}
	if strings.Contains(err.Error(), "short") {
		t.Fatalf("secret value leaked into error: %v", err)
	}
}

func TestValidate_SessionIdleTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Session.IdleTimeout = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SESSION_IDLE_TIMEOUT") {
		t.Fatalf("expected SESSION_IDLE_TIMEOUT error, got: %v", err)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_ServerPortOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("expected SERVER_PORT error, got: %v", err)
	}
}

func TestValidate_RedisPortZero(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Port = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "REDIS_PORT") {
		t.Fatalf("expected REDIS_PORT error, got: %v", err)
	}
}

func TestValidate_APIURLMustBeURL(t *testing.T) {
	cfg := validConfig()
	cfg.AI.APIURL = "not a url"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AI_API_URL") {
		t.Fatalf("expected AI_API_URL error, got: %v", err)
	}
}

func TestValidate_ModelRequired(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Model = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AI_MODEL is required") {
		t.Fatalf("expected AI_MODEL required error, got: %v", err)
	}
}

func TestValidate_RequestTimeoutMustBePositive(t *testing.T) {
	cfg := validConfig()
	cfg.AI.RequestTimeout = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "AI_REQUEST_TIMEOUT") {
		t.Fatalf("expected AI_REQUEST_TIMEOUT error, got: %v", err)
	}
}

func TestValidate_NATSURLOptional(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.URL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty NATS_URL should be accepted, got: %v", err)
	}
	cfg.NATS.URL = "nats://localhost:4222"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid NATS_URL, got: %v", err)
	}
}

func TestValidate_LogLevelOneOf(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "LOG_LEVEL") {
		t.Fatalf("expected LOG_LEVEL error, got: %v", err)
	}
}

func TestValidate_HistoryTooSmallForContext(t *testing.T) {
	cfg := validConfig()
	cfg.Conversation.MaxHistory = 1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CONVERSATION_MAX_HISTORY") {
		t.Fatalf("expected CONVERSATION_MAX_HISTORY error, got: %v", err)
	}

	cfg.Conversation.MaintainContext = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("stateless mode should accept small history, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.AI.Model = ""
	cfg.Chat.TTL = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"SERVER_PORT", "AI_MODEL", "CHAT_TTL"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %s, got: %s", want, msg)
		}
	}
}

func TestClamp(t *testing.T) {
	cfg := validConfig()
	cfg.AI.Temperature = 3.5
	cfg.AI.MaxTokens = 10
	cfg.Voice.SpeechRate = 9
	cfg.Voice.SpeechPitch = 0
	cfg.Voice.SpeechVol = 1.5
	cfg.Chat.MaxMessages = 1000

	cfg.Clamp()

	if cfg.AI.Temperature != 2 {
		t.Errorf("temperature = %g, want 2", cfg.AI.Temperature)
	}
	if cfg.AI.MaxTokens != 50 {
		t.Errorf("max tokens = %d, want 50", cfg.AI.MaxTokens)
	}
	if cfg.Voice.SpeechRate != 3 {
		t.Errorf("speech rate = %g, want 3", cfg.Voice.SpeechRate)
	}
	if cfg.Voice.SpeechPitch != 0.1 {
		t.Errorf("speech pitch = %g, want 0.1", cfg.Voice.SpeechPitch)
	}
	if cfg.Voice.SpeechVol != 1 {
		t.Errorf("speech volume = %g, want 1", cfg.Voice.SpeechVol)
	}
	if cfg.Chat.MaxMessages != 200 {
		t.Errorf("chat max messages = %d, want 200", cfg.Chat.MaxMessages)
	}
	if len(cfg.Voice.WakeWords) != 2 || cfg.Voice.WakeWords[0] != "hey jarvis" {
		t.Errorf("wake words = %v, want defaults", cfg.Voice.WakeWords)
	}
}

func TestEnvName(t *testing.T) {
	cases := map[string]string{
		"Config.AI.MaxTokens":            "AI_MAX_TOKENS",
		"Config.Server.Port":             "SERVER_PORT",
		"Config.AI.API_URL":              "AI_API_URL",
		"Config.Conversation.MaxHistory": "CONVERSATION_MAX_HISTORY",
		"Config.AI.MinRequestInterval":   "AI_MIN_REQUEST_INTERVAL",
	}
	for in, want := range cases {
		if got := envName(in); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}
