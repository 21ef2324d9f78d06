package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	// RoleDevice may drive exactly one session.
	RoleDevice Role = "device"
	// RoleOperator may observe and control sessions. AllSessions grants every one.
	RoleOperator Role = "operator"
)

// AllSessions as an operator's session claim grants access to every session.
const AllSessions = "*"

const issuer = "jarvis"

type Claims struct {
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// Allows reports whether the token may act on sessionID.
func (c *Claims) Allows(sessionID string) bool {
	if c.Role == RoleOperator && c.SessionID == AllSessions {
		return true
	}
	return c.SessionID != "" && c.SessionID == sessionID
}

type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

func (m *TokenManager) Issue(role Role, sessionID string) (string, error) {
	switch role {
	case RoleDevice:
		if sessionID == "" || sessionID == AllSessions {
			return "", errors.New("device token needs a concrete session id")
		}
	case RoleOperator:
		if sessionID == "" {
			return "", errors.New("operator token needs a session id or *")
		}
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Role != RoleDevice && claims.Role != RoleOperator {
		return nil, fmt.Errorf("invalid token role %q", claims.Role)
	}
	return claims, nil
}
