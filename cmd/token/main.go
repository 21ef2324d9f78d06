package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/aiox-platform/jarvis/internal/auth"
	"github.com/aiox-platform/jarvis/internal/config"
)

// token prints a signed device or operator token using AUTH_SECRET.
func main() {
	role := flag.String("role", string(auth.RoleDevice), "token role: device or operator")
	sessionID := flag.String("session", "", "session id the token grants, or * for an operator on every session")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	token, err := tokens.Issue(auth.Role(*role), *sessionID)
	if err != nil {
		slog.Error("issuing token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
