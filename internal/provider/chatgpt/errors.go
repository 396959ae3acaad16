package chatgpt

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrSessionUnavailable means no usable session could be obtained.
	ErrSessionUnavailable = errors.New("chatgpt: no session available")
	// ErrUnsupportedChallenge means the backend demanded arkose, turnstile
	// or a login instead of proof-of-work.
	ErrUnsupportedChallenge = errors.New("chatgpt: unsupported challenge")
	// ErrUpstreamTransport covers connection level failures.
	ErrUpstreamTransport = errors.New("chatgpt: upstream transport error")
	// ErrUpstreamProtocol covers non-2xx answers from the backend.
	ErrUpstreamProtocol = errors.New("chatgpt: upstream protocol error")
	// ErrUpstreamStream is an error payload received mid-stream.
	ErrUpstreamStream = errors.New("chatgpt: upstream stream error")
	// ErrUpstreamTimeout is a handshake or conversation deadline expiring.
	ErrUpstreamTimeout = errors.New("chatgpt: upstream timeout")
	// ErrMalformedFrame is an event frame that is not valid JSON.
	ErrMalformedFrame = errors.New("chatgpt: malformed frame")
)

// ChallengeError reports the unsupported challenge kind that ended a
// handshake. It matches both ErrSessionUnavailable and
// ErrUnsupportedChallenge.
type ChallengeError struct {
	Kind string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("chatgpt: backend requires %s challenge", e.Kind)
}

func (e *ChallengeError) Unwrap() []error {
	return []error{ErrSessionUnavailable, ErrUnsupportedChallenge}
}

// ProtocolError is a non-2xx conversation or handshake response.
type ProtocolError struct {
	StatusCode int
	Message    string
	// Body is the raw (truncated) response body, for logs only.
	Body string
	// FallbackProof is set when the request carried the fallback proof
	// token produced after the solver exhausted its budget.
	FallbackProof bool
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("chatgpt: backend HTTP %d", e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.FallbackProof {
		msg += " (fallback proof token)"
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return ErrUpstreamProtocol }

// StreamError carries the error text the backend sent inside the stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "chatgpt: stream error: " + e.Message }

func (e *StreamError) Unwrap() error { return ErrUpstreamStream }

// transportError classifies a failed round trip as a timeout or a plain
// transport failure.
func transportError(op string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamTransport, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
