package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	return NewMiddleware(newHS256Verifier(t), 1)
}

func bearer(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := IssueHS256(testSecret, claims, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func serve(h http.HandlerFunc, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	m := newTestMiddleware(t)
	h := m.RequireAuth(okHandler)

	if rec := serve(h, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without token = %d", rec.Code)
	}
	if rec := serve(h, "/api/v1/robots", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
	if rec := serve(h, "/api/v1/robots", "Basic abc"); rec.Code != http.StatusUnauthorized {
		t.Errorf("basic auth = %d", rec.Code)
	}
	if rec := serve(h, "/api/v1/robots", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d", rec.Code)
	}
	if rec := serve(h, "/api/v1/robots", bearer(t, operatorClaims())); rec.Code != http.StatusOK {
		t.Errorf("valid token = %d", rec.Code)
	}
}

func TestRequireAuthWithoutVerifier(t *testing.T) {
	h := NewMiddleware(nil, 1).RequireAuth(okHandler)
	if rec := serve(h, "/api/v1/robots", bearer(t, operatorClaims())); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUnauthorizedEnvelope(t *testing.T) {
	h := newTestMiddleware(t).RequireAuth(okHandler)
	rec := serve(h, "/api/v1/robots", "")

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["result"] != "error" || body["code"] != "UNAUTHORIZED" || body["correlationId"] == "" {
		t.Errorf("body = %v", body)
	}
}

func TestRequireOperatorBoundary(t *testing.T) {
	m := newTestMiddleware(t)
	h := m.RequireAuth(m.RequireOperator()(okHandler))

	tests := []struct {
		name   string
		level  int
		scopes []string
		want   int
	}{
		{"level at minimum", 1, []string{ScopeRead, ScopeControl}, http.StatusForbidden},
		{"level above minimum", 2, []string{ScopeRead, ScopeControl}, http.StatusOK},
		{"no control scope", 5, []string{ScopeRead}, http.StatusForbidden},
		{"level zero", 0, []string{ScopeControl}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := Claims{Subject: "u", Roles: []string{RoleOperator}, Scopes: tt.scopes, AccessLevel: tt.level}
			if rec := serve(h, "/api/v1/robots/1/connect", bearer(t, claims)); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireScopeAndRole(t *testing.T) {
	m := newTestMiddleware(t)
	viewer := Claims{Subject: "v", Roles: []string{RoleViewer}, Scopes: []string{ScopeRead}}
	admin := Claims{Subject: "a", Roles: []string{RoleAdmin}, Scopes: []string{ScopeRead, ScopeTelemetry}, AccessLevel: 3}

	telemetry := m.RequireAuth(m.RequireScope(ScopeTelemetry)(okHandler))
	if rec := serve(telemetry, "/api/v1/telemetry", bearer(t, viewer)); rec.Code != http.StatusForbidden {
		t.Errorf("viewer telemetry = %d", rec.Code)
	}
	if rec := serve(telemetry, "/api/v1/telemetry", bearer(t, admin)); rec.Code != http.StatusOK {
		t.Errorf("admin telemetry = %d", rec.Code)
	}

	adminOnly := m.RequireAuth(m.RequireRole(RoleAdmin)(okHandler))
	if rec := serve(adminOnly, "/api/v1/robots/select", bearer(t, viewer)); rec.Code != http.StatusForbidden {
		t.Errorf("viewer select = %d", rec.Code)
	}
	if rec := serve(adminOnly, "/api/v1/robots/select", bearer(t, admin)); rec.Code != http.StatusOK {
		t.Errorf("admin select = %d", rec.Code)
	}

	// Without RequireAuth there are no claims.
	if rec := serve(m.RequireScope(ScopeRead)(okHandler), "/x", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing claims = %d", rec.Code)
	}
}

func TestClaimsInContext(t *testing.T) {
	m := newTestMiddleware(t)
	var got *Claims
	h := m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaimsFromRequest(r)
	})
	serve(h, "/api/v1/robots", bearer(t, operatorClaims()))
	if got == nil || got.Subject != "alice" {
		t.Errorf("claims = %+v", got)
	}
	if !m.IsOperator(got) {
		t.Errorf("IsOperator wrong for %+v", got)
	}
}

func TestErrorReusesCorrelationID(t *testing.T) {
	m := newTestMiddleware(t)
	h := m.RequireAuth(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/robots", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(CorrelationHeader, "req-7")
	h(rec, req)

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["correlationId"] != "req-7" {
		t.Errorf("correlationId = %v, want req-7", body["correlationId"])
	}

	// Without one set, the generated ID lands in both places.
	rec = serve(h, "/api/v1/robots", "")
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if id := rec.Header().Get(CorrelationHeader); id == "" || body["correlationId"] != id {
		t.Errorf("header %q, body %v", id, body["correlationId"])
	}
}
