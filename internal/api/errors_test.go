package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/channel"
	"github.com/robot-control/rcp/internal/command"
	"github.com/robot-control/rcp/internal/robot"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"already owned", arbiter.ErrAlreadyOwned, http.StatusConflict, "ALREADY_OWNED"},
		{"not owner wrapped", fmt.Errorf("robot 1: %w", arbiter.ErrNotOwner), http.StatusForbidden, "NOT_OWNER"},
		{"mode mismatch", command.ErrModeMismatch, http.StatusConflict, "MODE_MISMATCH"},
		{"unknown joint", command.ErrUnknownJoint, http.StatusBadRequest, "UNKNOWN_JOINT"},
		{"wrong length", command.ErrWrongLength, http.StatusBadRequest, "WRONG_LENGTH"},
		{"out of range", &command.OutOfRangeError{Index: 2, Value: 500, Limit: robot.JointLimit{Lower: -40, Upper: 140}}, http.StatusBadRequest, "OUT_OF_RANGE"},
		{"unknown script", command.ErrUnknownScript, http.StatusBadRequest, "UNKNOWN_SCRIPT"},
		{"invalid parameter", command.ErrInvalidParameter, http.StatusBadRequest, "BAD_REQUEST"},
		{"invalid user", arbiter.ErrInvalidUser, http.StatusBadRequest, "BAD_REQUEST"},
		{"not found", fmt.Errorf("robot 9: %w", robot.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", arbiter.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"dispatch unavailable", fmt.Errorf("%w: %w", command.ErrDispatchChannelUnavailable, channel.ErrUnavailable), http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"channel unavailable", channel.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"audit failed", command.ErrAuditFailed, http.StatusInternalServerError, "INTERNAL"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
		{"api error passthrough", NewAPIError("TEAPOT", "short and stout", http.StatusTeapot, nil), http.StatusTeapot, "TEAPOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			if got.StatusCode != tt.status || got.Code != tt.code {
				t.Errorf("ToAPIError() = %d %s, want %d %s", got.StatusCode, got.Code, tt.status, tt.code)
			}
		})
	}

	if ToAPIError(nil) != nil {
		t.Error("ToAPIError(nil) should be nil")
	}
}

func TestOutOfRangeDetails(t *testing.T) {
	got := ToAPIError(&command.OutOfRangeError{Index: 1, Value: 61, Limit: robot.JointLimit{Lower: -30, Upper: 60}})
	details, ok := got.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details = %#v", got.Details)
	}
	if details["index"] != 1 || details["value"] != 61 || details["lower"] != -30 || details["upper"] != 60 {
		t.Errorf("details = %v", details)
	}
}

func TestUnknownErrorDoesNotLeak(t *testing.T) {
	got := ToAPIError(errors.New("password=hunter2"))
	if got.Details != nil || got.Message != "Internal server error" {
		t.Errorf("leaked: %+v", got)
	}
}

func TestStoreTimeoutIsNotBlamedOnChannel(t *testing.T) {
	store := ToAPIError(fmt.Errorf("failed to load control state for robot 1: %w", context.DeadlineExceeded))
	if store.Message == "Robot control channel is unavailable" {
		t.Errorf("store timeout message = %q", store.Message)
	}

	publish := ToAPIError(fmt.Errorf("%w: %w", command.ErrDispatchChannelUnavailable, context.DeadlineExceeded))
	if publish.Message != "Robot control channel is unavailable" {
		t.Errorf("publish timeout message = %q", publish.Message)
	}
}
