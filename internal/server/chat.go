package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kyupark/freegpt/internal/ledger"
	"github.com/kyupark/freegpt/internal/openai"
	"github.com/kyupark/freegpt/internal/provider/chatgpt"
	"github.com/kyupark/freegpt/internal/sse"
)

// State is a step of one completion request.
type State int

const (
	StateAcquiringSession State = iota
	StateSolving
	StateDispatching
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAcquiringSession:
		return "AcquiringSession"
	case StateSolving:
		return "Solving"
	case StateDispatching:
		return "Dispatching"
	case StateStreaming:
		return "Streaming"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// run tracks one request through the states. Failed and Completed absorb.
type run struct {
	id    string
	state State
	logf  func(string, ...any)
}

func (r *run) to(next State) {
	if r.state == StateFailed || r.state == StateCompleted {
		return
	}
	r.state = next
	r.logf("[chat] req=%s state=%s", r.id, next)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errTypeInvalidRequest, "Request body must be a JSON chat completion request.")
		return
	}
	if msg := validate(req); msg != "" {
		s.respondError(w, http.StatusBadRequest, errTypeInvalidRequest, msg)
		return
	}

	ctx := r.Context()
	rn := &run{id: middleware.GetReqID(ctx), logf: s.logf}
	mode := ledger.ModeBuffered
	if req.Stream {
		mode = ledger.ModeStream
	}
	s.logf("[chat] req=%s %d messages (%s)", rn.id, len(req.Messages), mode)

	rn.to(StateAcquiringSession)
	sess, err := s.sessions.Session(ctx)
	if err != nil {
		s.fail(w, rn, err)
		return
	}

	rn.to(StateSolving)
	proof, err := s.upstream.Prove(ctx, sess)
	if err != nil {
		s.fail(w, rn, err)
		return
	}

	rn.to(StateDispatching)
	body, err := s.upstream.Dispatch(ctx, req.Messages, chatgpt.Credentials{
		Session:       sess,
		ProofToken:    proof.Token,
		FallbackProof: !proof.Solved,
	})
	if err != nil {
		var perr *chatgpt.ProtocolError
		if errors.As(err, &perr) && (perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden) {
			s.sessions.Invalidate(sess)
		}
		s.fail(w, rn, err)
		return
	}
	defer body.Close()

	rn.to(StateStreaming)
	tr := chatgpt.NewTranslator(req.Messages, s.tokens, s.logf)
	header := openai.NewHeader(s.cfg.ModelLabel)
	promptTokens := chatgpt.PromptTokens(s.tokens, req.Messages)
	frames := sse.Frames(body)

	if req.Stream {
		if err := s.stream(w, tr, header, frames); err != nil {
			rn.to(StateFailed)
			if ctx.Err() != nil {
				s.logf("[chat] req=%s client went away: %v", rn.id, err)
				return
			}
			log.Printf("[chat] req=%s stream aborted: %v", rn.id, err)
			// Headers are out; the only signal left is a broken connection.
			panic(http.ErrAbortHandler)
		}
	} else {
		resp, err := tr.Aggregate(header, frames, promptTokens)
		if err != nil {
			s.fail(w, rn, err)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}

	rn.to(StateCompleted)
	s.record(ctx, ledger.Entry{
		RequestID:        header.ID,
		Mode:             mode,
		PromptTokens:     int64(promptTokens),
		CompletionTokens: int64(tr.CompletionTokens()),
		FinishReason:     deref(tr.FinishReason()),
	})
}

// stream relays translated chunks as server-sent events.
func (s *Server) stream(w http.ResponseWriter, tr *chatgpt.Translator, h openai.Header, frames iter.Seq2[string, error]) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported by response writer")
	}
	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk, err := range tr.Chunks(h, frames) {
		if err != nil {
			return err
		}
		if err := sendSSEChunk(w, flusher, chunk); err != nil {
			return err
		}
	}
	return sendSSEDone(w, flusher)
}

func (s *Server) fail(w http.ResponseWriter, rn *run, err error) {
	rn.to(StateFailed)
	log.Printf("[chat] req=%s failed: %v", rn.id, err)
	status := statusFor(err)
	if status == http.StatusGatewayTimeout {
		s.respondError(w, status, errTypeInvalidRequest, "The upstream service timed out. Please retry the request.")
		return
	}
	s.respondError(w, status, errTypeInvalidRequest, genericFailure)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var perr *chatgpt.ProtocolError
	switch {
	case errors.Is(err, chatgpt.ErrSessionUnavailable):
		// Exhausted acquisition stays unavailable even when every attempt timed out.
		return http.StatusServiceUnavailable
	case errors.Is(err, chatgpt.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &perr) && perr.StatusCode == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case errors.Is(err, chatgpt.ErrUpstreamProtocol), errors.Is(err, chatgpt.ErrUpstreamTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validate(req openai.ChatCompletionRequest) string {
	if len(req.Messages) == 0 {
		return "The messages field must contain at least one message."
	}
	for i, m := range req.Messages {
		if !openai.ValidRole(m.Role) {
			return fmt.Sprintf("messages[%d].role %q is not one of system, user, assistant.", i, m.Role)
		}
	}
	return ""
}

func (s *Server) record(ctx context.Context, e ledger.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(context.WithoutCancel(ctx), e); err != nil {
		log.Printf("[ledger] record %s: %v", e.RequestID, err)
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
