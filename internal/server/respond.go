package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/kyupark/freegpt/internal/openai"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeRateLimit      = "rate_limit_error"
	errTypeAuthentication = "authentication_error"

	genericFailure = "An error occurred. Please check the server console to confirm it is ready and free of errors. Additionally, ensure that your request complies with OpenAI's policy."
)

// respondJSON writes payload with the given status.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to write json response: %v", err)
	}
}

// respondError writes the caller-facing error envelope.
func (s *Server) respondError(w http.ResponseWriter, status int, errType, message string) {
	respondJSON(w, status, openai.ErrorBody{
		Status:  false,
		Error:   openai.ErrorDetail{Message: message, Type: errType},
		Support: s.cfg.SupportURL,
	})
}

// setupSSEHeaders prepares w for an event stream.
func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sendSSEChunk writes one "data: <json>" event and flushes it.
func sendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// sendSSEDone writes the stream terminator.
func sendSSEDone(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
