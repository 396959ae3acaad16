package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Challenge is a proof-of-work challenge issued with a session.
type Challenge struct {
	Seed       string
	Difficulty string
}

// Session is one handshake's worth of credentials. It authorizes exactly
// one conversation request.
type Session struct {
	DeviceID string
	Token    string
	// Challenge is nil when the backend did not ask for proof-of-work.
	Challenge  *Challenge
	AcquiredAt time.Time
}

// SessionSource hands out sessions to the request pipeline.
type SessionSource interface {
	Session(ctx context.Context) (*Session, error)
	// Invalidate tells the source the backend rejected s.
	Invalidate(s *Session)
}

type chatRequirementsReq struct {
	P string `json:"p,omitempty"`
}

type chatRequirementsResp struct {
	Token       string `json:"token"`
	ProofOfWork struct {
		Required   bool   `json:"required"`
		Seed       string `json:"seed"`
		Difficulty string `json:"difficulty"`
	} `json:"proofofwork"`
	Arkose struct {
		Required bool `json:"required"`
	} `json:"arkose"`
	Turnstile struct {
		Required bool `json:"required"`
	} `json:"turnstile"`
	ForceLogin bool `json:"force_login"`
}

// Session acquires a fresh session with the configured retry count.
func (p *Provider) Session(ctx context.Context) (*Session, error) {
	return p.Acquire(ctx, p.maxRetries)
}

// Invalidate is a no-op: uncached sessions are never handed out twice.
func (p *Provider) Invalidate(*Session) {}

// Acquire performs the chat-requirements handshake, retrying up to
// maxRetries times after the first attempt with a new device id each time.
// Unsupported challenges end the loop immediately.
func (p *Provider) Acquire(ctx context.Context, maxRetries int) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		deviceID := uuid.NewString()
		sess, err := p.handshake(ctx, deviceID)
		if err == nil {
			p.logf("[chatgpt] session acquired (attempt %d, pow=%t)", attempt+1, sess.Challenge != nil)
			return sess, nil
		}
		if errors.Is(err, ErrUnsupportedChallenge) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		lastErr = err
		p.logf("[chatgpt] handshake attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrSessionUnavailable, maxRetries+1, lastErr)
}

func (p *Provider) handshake(ctx context.Context, deviceID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, p.handshakeTimeout)
	defer cancel()

	reqBody, err := json.Marshal(chatRequirementsReq{})
	if err != nil {
		return nil, fmt.Errorf("marshalling handshake: %w", err)
	}

	url := p.baseURL + requirementsPath
	p.logf("[chatgpt] POST %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("handshake request: %w", err)
	}
	p.setBrowserHeaders(req)
	req.Header.Set("OAI-Device-Id", deviceID)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError("handshake", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readProtocolError(resp)
	}

	var cresp chatRequirementsResp
	if err := json.NewDecoder(resp.Body).Decode(&cresp); err != nil {
		if isTimeout(err) {
			return nil, transportError("handshake", err)
		}
		return nil, fmt.Errorf("%w: decoding chat requirements: %w", ErrUpstreamProtocol, err)
	}

	switch {
	case cresp.Arkose.Required:
		return nil, &ChallengeError{Kind: "arkose"}
	case cresp.Turnstile.Required:
		return nil, &ChallengeError{Kind: "turnstile"}
	case cresp.ForceLogin:
		return nil, &ChallengeError{Kind: "login"}
	}
	if cresp.Token == "" {
		return nil, fmt.Errorf("%w: empty requirements token", ErrUpstreamProtocol)
	}

	sess := &Session{
		DeviceID:   deviceID,
		Token:      cresp.Token,
		AcquiredAt: time.Now(),
	}
	if cresp.ProofOfWork.Required {
		sess.Challenge = &Challenge{
			Seed:       cresp.ProofOfWork.Seed,
			Difficulty: cresp.ProofOfWork.Difficulty,
		}
	}
	return sess, nil
}

// backendError is the JSON error shape the backend uses on failures.
type backendError struct {
	Detail json.RawMessage `json:"detail"`
	Error  json.RawMessage `json:"error"`
}

// readProtocolError drains a bounded part of a failed response into a
// ProtocolError.
func readProtocolError(resp *http.Response) *ProtocolError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	perr := &ProtocolError{StatusCode: resp.StatusCode, Body: string(body)}

	var be backendError
	if err := json.Unmarshal(body, &be); err == nil {
		if msg := errorText(be.Detail); msg != "" {
			perr.Message = msg
		} else {
			perr.Message = errorText(be.Error)
		}
	}
	return perr
}

// errorText extracts a message from a string or {"message": ...} value.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Code != "" {
			return obj.Code
		}
	}
	return string(raw)
}
