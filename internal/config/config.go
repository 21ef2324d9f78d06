package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const defaultSystemPrompt = "You are Jarvis, a helpful AI assistant for AR glasses. You provide concise, helpful responses and can assist with navigation, information lookup, and general questions. Keep responses brief but informative, suitable for voice interaction."

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	NATS         NATSConfig
	AI           AIConfig
	Conversation ConversationConfig
	Voice        VoiceConfig
	Chat         ChatConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig
	Auth         AuthConfig
	Session      SessionConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host string
	Port int `validate:"min=1,max=65535"`
}

type RedisConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	Password string
	DB       int `validate:"min=0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig holds the event bus connection. An empty URL disables publishing.
type NATSConfig struct {
	URL string `validate:"omitempty,url"`
}

// AIConfig describes the chat-completions endpoint and request shape.
type AIConfig struct {
	APIKey             string
	APIURL             string  `validate:"required,url" env:"API_URL"`
	Model              string  `validate:"required"`
	MaxTokens          int     `validate:"gt=0"`
	Temperature        float64 `validate:"gte=0,lte=2"`
	SystemPrompt       string
	Stream             bool
	RequestTimeout     time.Duration `validate:"gt=0"`
	MinRequestInterval time.Duration `validate:"gte=0"`
}

type ConversationConfig struct {
	MaxHistory      int
	MaintainContext bool
}

type VoiceConfig struct {
	Timeout     time.Duration `validate:"gt=0"`
	WakeWords   []string
	Language    string
	SpeechRate  float64
	SpeechPitch float64
	SpeechVol   float64
}

type ChatConfig struct {
	MaxMessages int
	TTL         time.Duration `validate:"gt=0"`
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds per-IP device connects and control calls.
type RateLimitConfig struct {
	Requests int           `validate:"gt=0"`
	Window   time.Duration `validate:"gt=0"`
}

// AuthConfig signs the device and operator tokens the session routes require.
type AuthConfig struct {
	Secret   string        `validate:"required,min=32"`
	TokenTTL time.Duration `validate:"gt=0"`
}

// SessionConfig controls how long a session survives without a device.
type SessionConfig struct {
	IdleTimeout  time.Duration `validate:"gt=0"`
	ReapInterval time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn error"`
	Format string `validate:"omitempty,oneof=text json"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		AI: AIConfig{
			APIKey:       k.String("ai.api.key"),
			APIURL:       k.String("ai.api.url"),
			Model:        k.String("ai.model"),
			MaxTokens:    k.Int("ai.max.tokens"),
			Temperature:  k.Float64("ai.temperature"),
			SystemPrompt: k.String("ai.system.prompt"),
			Stream:       k.Bool("ai.stream"),
		},
		Conversation: ConversationConfig{
			MaxHistory:      k.Int("conversation.max.history"),
			MaintainContext: true,
		},
		Voice: VoiceConfig{
			WakeWords:   splitList(k.String("voice.wake.words")),
			Language:    k.String("voice.language"),
			SpeechRate:  k.Float64("voice.speech.rate"),
			SpeechPitch: k.Float64("voice.speech.pitch"),
			SpeechVol:   k.Float64("voice.speech.volume"),
		},
		Chat: ChatConfig{
			MaxMessages: k.Int("chat.max.messages"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		RateLimit: RateLimitConfig{
			Requests: k.Int("rate.limit.requests"),
		},
		Auth: AuthConfig{
			Secret: k.String("auth.secret"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	if k.Exists("conversation.maintain.context") {
		cfg.Conversation.MaintainContext = k.Bool("conversation.maintain.context")
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.AI.APIURL == "" {
		cfg.AI.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "gpt-4o-mini"
	}
	if !k.Exists("ai.max.tokens") {
		cfg.AI.MaxTokens = 500
	}
	if !k.Exists("ai.temperature") {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.SystemPrompt == "" {
		cfg.AI.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Conversation.MaxHistory == 0 {
		cfg.Conversation.MaxHistory = 20
	}
	if cfg.Voice.Language == "" {
		cfg.Voice.Language = "en-US"
	}
	if !k.Exists("voice.speech.rate") {
		cfg.Voice.SpeechRate = 1.0
	}
	if !k.Exists("voice.speech.pitch") {
		cfg.Voice.SpeechPitch = 1.0
	}
	if !k.Exists("voice.speech.volume") {
		cfg.Voice.SpeechVol = 0.8
	}
	if cfg.Chat.MaxMessages == 0 {
		cfg.Chat.MaxMessages = 50
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"ai.request.timeout", "30s", &cfg.AI.RequestTimeout},
		{"ai.min.request.interval", "1s", &cfg.AI.MinRequestInterval},
		{"voice.timeout", "5s", &cfg.Voice.Timeout},
		{"chat.ttl", "24h", &cfg.Chat.TTL},
		{"rate.limit.window", "1m", &cfg.RateLimit.Window},
		{"auth.token.ttl", "720h", &cfg.Auth.TokenTTL},
		{"session.idle.timeout", "10m", &cfg.Session.IdleTimeout},
		{"session.reap.interval", "1m", &cfg.Session.ReapInterval},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dest, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	cfg.Clamp()
	return cfg, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
