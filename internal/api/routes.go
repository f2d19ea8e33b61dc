package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/auth"
	"github.com/robot-control/rcp/internal/command"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/session"
)

const (
	apiV1        = "/api/v1"
	robotsPrefix = apiV1 + "/robots/"
	maxBodyBytes = 1 << 20
)

// RegisterRoutes registers every v1 endpoint.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	m := s.middleware()

	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.HandleFunc(apiV1+"/robots", m.RequireAuth(m.RequireScope(auth.ScopeRead)(s.handleRobots)))
	mux.HandleFunc(apiV1+"/robots/select", m.RequireAuth(m.RequireRole(auth.RoleAdmin)(s.handleSelectRobot)))
	mux.HandleFunc(robotsPrefix, m.RequireAuth(s.handleRobotEndpoints))
	mux.HandleFunc(apiV1+"/telemetry", m.RequireAuth(m.RequireScope(auth.ScopeTelemetry)(s.handleTelemetry)))
	mux.HandleFunc(apiV1+"/session/end", m.RequireAuth(s.handleSessionEnd))
}

// middleware falls back to one that rejects every token.
func (s *Server) middleware() *auth.Middleware {
	if s.deps.Auth != nil {
		return s.deps.Auth
	}
	return auth.NewMiddleware(nil, 0)
}

// handleRobots handles GET /robots
func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, s.deps.Robots.List())
}

// handleSelectRobot handles POST /robots/select
func (s *Server) handleSelectRobot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		RobotID string `json:"robotId"`
	}
	if !decodeStrict(w, r, &req, false) {
		return
	}
	if req.RobotID == "" || req.RobotID == robot.ActiveAlias {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "robotId must name a robot", nil)
		return
	}

	if err := s.deps.Robots.SetActive(r.Context(), req.RobotID); err != nil {
		WriteErr(w, err)
		return
	}
	log.Printf("api: %s selected robot %s as active", subject(r), req.RobotID)
	WriteSuccess(w, map[string]string{"activeRobotId": req.RobotID})
}

// handleRobotEndpoints routes /robots/{id}[/action] with per-action authorization.
func (s *Server) handleRobotEndpoints(w http.ResponseWriter, r *http.Request) {
	robotID, action, ok := parseRobotPath(r.URL.Path)
	if !ok {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
		return
	}

	s.renewSession(r)

	m := s.middleware()
	read := m.RequireScope(auth.ScopeRead)
	operate := m.RequireOperator()

	with := func(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { h(w, r, robotID) }
	}

	switch action {
	case "":
		if allowMethod(w, r, http.MethodGet) {
			read(with(s.handleGetRobot))(w, r)
		}
	case "connect":
		if allowMethod(w, r, http.MethodPost) {
			operate(with(s.handleConnect))(w, r)
		}
	case "disconnect":
		if allowMethod(w, r, http.MethodPost) {
			operate(with(s.handleDisconnect))(w, r)
		}
	case "mode":
		switch r.Method {
		case http.MethodGet:
			read(with(s.handleGetMode))(w, r)
		case http.MethodPost:
			operate(with(s.handleSwitchMode))(w, r)
		default:
			WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
				"Only GET and POST methods are allowed", nil)
		}
	case "commands":
		if allowMethod(w, r, http.MethodPost) {
			operate(with(s.handleCommand))(w, r)
		}
	case "joints":
		if allowMethod(w, r, http.MethodGet) {
			read(with(s.handleJoints))(w, r)
		}
	default:
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	}
}

// renewSession carries a refreshed token's expiry over to the caller's leases.
func (s *Server) renewSession(r *http.Request) {
	claims := auth.GetClaimsFromRequest(r)
	if claims == nil || claims.ExpiresAt.IsZero() {
		return
	}
	if err := s.deps.Arbiter.RenewSession(r.Context(), claims.Subject, claims.ExpiresAt); err != nil {
		log.Printf("api: failed to renew session of %s: %v", claims.Subject, err)
	}
}

type robotView struct {
	robot.Robot
	Active           bool         `json:"active"`
	Connected        bool         `json:"connected"`
	OwnerUserID      *string      `json:"ownerUserId"`
	SessionExpiresAt *time.Time   `json:"sessionExpiresAt,omitempty"`
	Automatic        bool         `json:"automatic"`
	Mode             arbiter.Mode `json:"mode"`
}

// handleGetRobot handles GET /robots/{id}
func (s *Server) handleGetRobot(w http.ResponseWriter, r *http.Request, robotID string) {
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	state, err := s.deps.Arbiter.State(r.Context(), rb.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}

	view := robotView{
		Robot:     *rb,
		Active:    s.deps.Robots.List().ActiveRobotID == rb.ID,
		Connected: state.Connected,
		Automatic: state.Automatic,
		Mode:      state.Mode(),
	}
	if state.Connected && state.OwnerUserID != "" {
		owner := state.OwnerUserID
		view.OwnerUserID = &owner
		if !state.ExpiresAt.IsZero() {
			expires := state.ExpiresAt
			view.SessionExpiresAt = &expires
		}
	}
	WriteSuccess(w, view)
}

// handleConnect handles POST /robots/{id}/connect. The lease ends with the
// caller's token.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, robotID string) {
	var expiresAt time.Time
	if claims := auth.GetClaimsFromRequest(r); claims != nil {
		expiresAt = claims.ExpiresAt
	}
	lease, err := s.deps.Arbiter.ConnectUntil(r.Context(), robotID, subject(r), expiresAt)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, lease)
}

// handleDisconnect handles POST /robots/{id}/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, robotID string) {
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if err := s.deps.Arbiter.Disconnect(r.Context(), rb.ID, subject(r)); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"robotId": rb.ID, "connected": false})
}

// handleGetMode handles GET /robots/{id}/mode
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request, robotID string) {
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	mode, err := s.deps.Arbiter.CurrentMode(r.Context(), rb.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	scripts := []string{}
	if s.deps.Scripts != nil {
		scripts = s.deps.Scripts.Scripts()
	}
	WriteSuccess(w, map[string]interface{}{"robotId": rb.ID, "mode": mode, "scripts": scripts})
}

// handleSwitchMode handles POST /robots/{id}/mode
func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request, robotID string) {
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	mode, err := s.deps.Arbiter.SwitchMode(r.Context(), rb.ID, subject(r))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"robotId": rb.ID, "mode": mode})
}

type commandRequest struct {
	Kind       string `json:"kind"`
	JointIndex int    `json:"jointIndex,omitempty"`
	Direction  string `json:"direction,omitempty"`
	Values     []int  `json:"values,omitempty"`
	Script     string `json:"script,omitempty"`
}

// handleCommand handles POST /robots/{id}/commands
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, robotID string) {
	var req commandRequest
	if !decodeStrict(w, r, &req, false) {
		return
	}
	kind, err := command.ParseKind(req.Kind)
	if err != nil {
		WriteErr(w, err)
		return
	}
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}

	cmd := command.Command{
		Kind:       kind,
		UserID:     subject(r),
		RobotID:    rb.ID,
		Timestamp:  time.Now().UTC(),
		JointIndex: req.JointIndex,
		Direction:  command.Direction(req.Direction),
		Values:     req.Values,
		Script:     req.Script,
	}
	if err := s.deps.Dispatcher.Dispatch(r.Context(), cmd); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"robotId":     rb.ID,
		"kind":        kind,
		"description": cmd.Describe(),
	})
}

// handleJoints handles GET /robots/{id}/joints
func (s *Server) handleJoints(w http.ResponseWriter, r *http.Request, robotID string) {
	rb, err := s.deps.Robots.GetRobot(robotID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	snapshot, err := s.deps.Joints.Joints(r.Context(), rb.ID)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, snapshot)
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.deps.Telemetry.Subscribe(r.Context(), w, r); err != nil {
		log.Printf("api: telemetry stream for %s ended: %v", subject(r), err)
	}
}

// handleSessionEnd handles POST /session/end
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	// The body is optional and takes no fields; the audit text is fixed.
	var req struct{}
	if !decodeStrict(w, r, &req, true) {
		return
	}
	if s.deps.Sessions == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service not available", nil)
		return
	}

	user := subject(r)
	if err := s.deps.Sessions.End(r.Context(), user, session.DefaultReason); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"userId": user, "ended": true})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	subsystems := map[string]bool{
		"robots":     s.deps.Robots != nil,
		"arbiter":    s.deps.Arbiter != nil,
		"dispatcher": s.deps.Dispatcher != nil,
		"telemetry":  s.deps.Telemetry != nil,
		"joints":     s.deps.Joints != nil,
		"sessions":   s.deps.Sessions != nil,
	}
	status := "ok"
	for _, up := range subsystems {
		if !up {
			status = "degraded"
		}
	}

	health := map[string]interface{}{
		"status":     status,
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    s.deps.Version,
		"subsystems": subsystems,
	}
	if status == "ok" {
		WriteSuccess(w, health)
		return
	}
	WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

// parseRobotPath splits /api/v1/robots/{id}[/action].
func parseRobotPath(path string) (robotID, action string, ok bool) {
	rest, found := strings.CutPrefix(path, robotsPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"Only "+method+" method is allowed", nil)
	return false
}

// decodeStrict decodes one JSON object, rejecting unknown fields and trailing
// data. With optional set, an empty body leaves v untouched.
func decodeStrict(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "Trailing data after JSON object", nil)
		return false
	}
	return true
}

func subject(r *http.Request) string {
	if claims := auth.GetClaimsFromRequest(r); claims != nil {
		return claims.Subject
	}
	return ""
}
