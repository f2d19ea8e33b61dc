package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized channel errors.
var (
	ErrUnavailable = errors.New("UNAVAILABLE")
	ErrInternal    = errors.New("INTERNAL")
)

// unavailableTokens mark transport failures that mean the robot side is unreachable.
var unavailableTokens = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"use of closed network connection",
	"bad handshake",
	"websocket: close",
	"eof",
}

// TransportError wraps a transport failure with its normalized code.
type TransportError struct {
	Code     error
	Original error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v (transport: %v)", e.Code, e.Original)
}

func (e *TransportError) Unwrap() error {
	return e.Code
}

// Normalize maps a transport error to ErrUnavailable or ErrInternal.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrInternal) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransportError{Code: ErrUnavailable, Original: err}
	}

	msg := strings.ToLower(err.Error())
	for _, token := range unavailableTokens {
		if strings.Contains(msg, token) {
			return &TransportError{Code: ErrUnavailable, Original: err}
		}
	}
	return &TransportError{Code: ErrInternal, Original: err}
}
