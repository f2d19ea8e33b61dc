package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/channel"
	"github.com/robot-control/rcp/internal/command"
	"github.com/robot-control/rcp/internal/robot"
)

// APIError is an error with its wire code and HTTP status.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps a core error to its wire form. Unknown errors become
// INTERNAL without leaking their text.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var oor *command.OutOfRangeError
	if errors.As(err, &oor) {
		return NewAPIError("OUT_OF_RANGE", "Joint value is outside its limits", http.StatusBadRequest,
			map[string]interface{}{
				"index": oor.Index,
				"value": oor.Value,
				"lower": oor.Limit.Lower,
				"upper": oor.Limit.Upper,
			})
	}

	switch {
	case errors.Is(err, arbiter.ErrAlreadyOwned):
		return NewAPIError("ALREADY_OWNED", "Robot is already connected to a user", http.StatusConflict, nil)
	case errors.Is(err, arbiter.ErrNotOwner):
		return NewAPIError("NOT_OWNER", "You do not hold the connection to this robot", http.StatusForbidden, nil)
	case errors.Is(err, command.ErrModeMismatch):
		return NewAPIError("MODE_MISMATCH", "Command is not allowed in the robot's current mode", http.StatusConflict, nil)
	case errors.Is(err, command.ErrUnknownJoint):
		return NewAPIError("UNKNOWN_JOINT", "Joint index is not defined for this robot", http.StatusBadRequest, nil)
	case errors.Is(err, command.ErrWrongLength):
		return NewAPIError("WRONG_LENGTH", "Target must have one value per joint", http.StatusBadRequest, nil)
	case errors.Is(err, command.ErrUnknownScript):
		return NewAPIError("UNKNOWN_SCRIPT", "Script is not on the allow-list", http.StatusBadRequest, nil)
	case errors.Is(err, command.ErrInvalidParameter), errors.Is(err, arbiter.ErrInvalidUser):
		return NewAPIError("BAD_REQUEST", "Malformed or missing required parameter", http.StatusBadRequest, nil)
	case errors.Is(err, robot.ErrNotFound):
		return NewAPIError("NOT_FOUND", "Robot not found", http.StatusNotFound, nil)
	case errors.Is(err, arbiter.ErrConflict):
		return NewAPIError("CONFLICT", "Robot state changed concurrently, reload and retry", http.StatusConflict, nil)
	case errors.Is(err, command.ErrDispatchChannelUnavailable),
		errors.Is(err, channel.ErrUnavailable):
		return NewAPIError("UNAVAILABLE", "Robot control channel is unavailable", http.StatusServiceUnavailable, nil)

	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError("UNAVAILABLE", "Robot state storage did not respond in time", http.StatusServiceUnavailable, nil)
	case errors.Is(err, command.ErrAuditFailed):
		return NewAPIError("INTERNAL", "Command could not be recorded and was not sent", http.StatusInternalServerError, nil)
	default:
		return NewAPIError("INTERNAL", "Internal server error", http.StatusInternalServerError, nil)
	}
}
