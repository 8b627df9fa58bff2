package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/leadstream/leadstream/internal/domain"
)

// tokenClaims is the JWT claim shape minted by the auth service.
type tokenClaims struct {
	UserID  string   `json:"user_id"`
	Tenants []string `json:"tenants"`
	Role    string   `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens locally against a shared secret.
type JWTVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

func NewJWTVerifier(secret string, clock clockwork.Clock) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), clock: clock}
}

// Verify parses and validates the token. Any parse, signature, or expiry
// failure maps to domain.ErrInvalidToken: callers only need to know the
// connection stays unauthenticated.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.Claims, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock.Now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, domain.ErrInvalidToken
	}

	return &domain.Claims{
		UserID:  claims.UserID,
		Tenants: claims.Tenants,
		Admin:   claims.Role == "admin",
	}, nil
}

// RemoteVerifier delegates verification to the external auth service over
// HTTP. Calls go through a circuit breaker so a dead auth service degrades
// admissions to unauthenticated instead of hanging every upgrade.
type RemoteVerifier struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

func NewRemoteVerifier(endpoint string) *RemoteVerifier {
	settings := gobreaker.Settings{
		Name:    "auth-verifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Verifier circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &RemoteVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid   bool     `json:"valid"`
	UserID  string   `json:"user_id"`
	Tenants []string `json:"tenants"`
	Role    string   `json:"role"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*domain.Claims, error) {
	result, err := v.breaker.Execute(func() (any, error) {
		return v.verify(ctx, token)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: %s", domain.ErrVerifierUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	claims := result.(*domain.Claims)
	if claims == nil {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (v *RemoteVerifier) verify(ctx context.Context, token string) (*domain.Claims, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 401 means the token is bad, not that the service is down. Returning
	// nil error to the breaker keeps bad tokens from tripping it.
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify service returned status %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !vr.Valid || vr.UserID == "" {
		return nil, nil
	}

	return &domain.Claims{
		UserID:  vr.UserID,
		Tenants: vr.Tenants,
		Admin:   vr.Role == "admin",
	}, nil
}
