package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject     string   `json:"sub"`
	Roles       []string `json:"roles"`
	Scopes      []string `json:"scopes"`
	AccessLevel int      `json:"accessLevel"`

	// ExpiresAt is the token's exp; zero when the token carries none.
	ExpiresAt time.Time `json:"-"`
}

// ContextKey is used for storing claims in request context.
type ContextKey string

const (
	ClaimsKey ContextKey = "claims"
)

// CorrelationHeader carries the request correlation ID.
const CorrelationHeader = "X-Correlation-ID"

const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// Middleware handles authentication and authorization.
type Middleware struct {
	verifier             TokenVerifier
	minimumOperatorLevel int
}

// NewMiddleware creates auth middleware. Callers need an access level above
// minimumOperatorLevel to pass RequireOperator.
func NewMiddleware(verifier TokenVerifier, minimumOperatorLevel int) *Middleware {
	return &Middleware{
		verifier:             verifier,
		minimumOperatorLevel: minimumOperatorLevel,
	}
}

// RequireAuth rejects requests without a valid bearer token.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		if m.verifier == nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}
		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireScope requires every listed scope.
func (m *Middleware) RequireScope(requiredScopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return m.require(func(c *Claims) bool { return hasAllScopes(c, requiredScopes) })
}

// RequireRole requires any of the listed roles.
func (m *Middleware) RequireRole(requiredRoles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return m.require(func(c *Claims) bool { return hasAnyRole(c, requiredRoles) })
}

// RequireOperator requires the control scope and an access level above the
// configured minimum.
func (m *Middleware) RequireOperator() func(http.HandlerFunc) http.HandlerFunc {
	return m.require(m.IsOperator)
}

func (m *Middleware) require(allowed func(*Claims) bool) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromRequest(r)
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if !allowed(claims) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}
			next(w, r)
		}
	}
}

// IsOperator reports whether claims may operate a robot.
func (m *Middleware) IsOperator(claims *Claims) bool {
	return claims != nil &&
		claims.AccessLevel > m.minimumOperatorLevel &&
		hasAllScopes(claims, []string{ScopeControl})
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

func hasAllScopes(claims *Claims, required []string) bool {
	if claims == nil {
		return false
	}
	for _, scope := range required {
		if !slices.Contains(claims.Scopes, scope) {
			return false
		}
	}
	return true
}

func hasAnyRole(claims *Claims, required []string) bool {
	if claims == nil {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, role := range required {
		if slices.Contains(claims.Roles, role) {
			return true
		}
	}
	return false
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetClaimsFromRequest extracts claims from the request context.
func GetClaimsFromRequest(r *http.Request) *Claims {
	claims, ok := r.Context().Value(ClaimsKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// writeError writes an error response in the API envelope, reusing the
// correlation ID already set on the response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	id := w.Header().Get(CorrelationHeader)
	if id == "" {
		id = uuid.NewString()
		w.Header().Set(CorrelationHeader, id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": id,
	})
}
