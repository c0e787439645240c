package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller as reported by the auth service.
type Identity struct {
	UserID uint64 `json:"user_id"`
	Role   string `json:"role"`
}

// AuthVerifier resolves a bearer token to an identity.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// HTTPAuthVerifier calls the auth service's verify endpoint.  Callers wrap
// it with a circuit breaker and retry policy; the adapter itself only
// translates the HTTP exchange.
type HTTPAuthVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAuthVerifier builds a verifier against the auth service base URL
// (e.g. "http://auth-service:8000").
func NewHTTPAuthVerifier(baseURL string) *HTTPAuthVerifier {
	return &HTTPAuthVerifier{baseURL: baseURL, client: newHTTPClient()}
}

func (v *HTTPAuthVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/verify", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("verify request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var id Identity
		if err := json.NewDecoder(res.Body).Decode(&id); err != nil {
			return Identity{}, fmt.Errorf("decode verify response: %w", err)
		}
		return id, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return Identity{}, ErrInvalidToken
	default:
		return Identity{}, fmt.Errorf("verify: unexpected status %d", res.StatusCode)
	}
}

// LocalVerifier validates HS256 access tokens locally with the shared
// signing secret, skipping the network round trip.  The auth service signs
// tokens with the same secret, so both verification modes accept the same
// credentials.
type LocalVerifier struct {
	secret string
}

// NewLocalVerifier builds a verifier for tokens signed with secret.
func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: secret}
}

func (v *LocalVerifier) Verify(_ context.Context, token string) (Identity, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.secret), nil
	})
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return Identity{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return Identity{UserID: uint64(sub), Role: role}, nil
}
