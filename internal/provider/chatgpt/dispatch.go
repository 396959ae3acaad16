package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"

	"github.com/kyupark/freegpt/internal/openai"
)

type author struct {
	Role string `json:"role"`
}

type content struct {
	ContentType string   `json:"content_type"`
	Parts       []string `json:"parts"`
}

type message struct {
	ID      string  `json:"id"`
	Author  author  `json:"author"`
	Content content `json:"content"`
}

type conversationMode struct {
	Kind string `json:"kind"`
}

type conversationRequest struct {
	Action                     string           `json:"action"`
	Messages                   []message        `json:"messages"`
	ParentMessageID            string           `json:"parent_message_id"`
	Model                      string           `json:"model"`
	TimezoneOffsetMin          int              `json:"timezone_offset_min"`
	Suggestions                []string         `json:"suggestions"`
	HistoryAndTrainingDisabled bool             `json:"history_and_training_disabled"`
	ConversationMode           conversationMode `json:"conversation_mode"`
	WebsocketRequestID         string           `json:"websocket_request_id"`
}

// wssRedirect is the body returned when the backend delivers the answer
// over a websocket instead of the response stream.
type wssRedirect struct {
	WssURL string `json:"wss_url"`
}

// Credentials authorize one conversation request.
type Credentials struct {
	Session    *Session
	ProofToken string
	// FallbackProof marks ProofToken as the unsolved fallback form.
	FallbackProof bool
}

func newConversationRequest(model string, msgs []openai.ChatMessage) conversationRequest {
	req := conversationRequest{
		Action:                     "next",
		Messages:                   make([]message, 0, len(msgs)),
		ParentMessageID:            uuid.NewString(),
		Model:                      model,
		TimezoneOffsetMin:          -180,
		Suggestions:                []string{},
		HistoryAndTrainingDisabled: true,
		ConversationMode:           conversationMode{Kind: "primary_assistant"},
		WebsocketRequestID:         uuid.NewString(),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, message{
			ID:      uuid.NewString(),
			Author:  author{Role: m.Role},
			Content: content{ContentType: "text", Parts: []string{m.Content}},
		})
	}
	return req
}

// Dispatch opens the streaming conversation request and returns its event
// stream. The caller must close the returned reader.
func (p *Provider) Dispatch(ctx context.Context, msgs []openai.ChatMessage, creds Credentials) (io.ReadCloser, error) {
	payload, err := json.Marshal(newConversationRequest(p.model, msgs))
	if err != nil {
		return nil, fmt.Errorf("marshalling conversation: %w", err)
	}

	url := p.baseURL + conversationPath
	p.logf("[chatgpt] POST %s (%d messages)", url, len(msgs))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating conversation request: %w", err)
	}
	p.setBrowserHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OAI-Device-Id", creds.Session.DeviceID)
	req.Header.Set("OpenAI-Sentinel-Chat-Requirements-Token", creds.Session.Token)
	if creds.ProofToken != "" {
		req.Header.Set("OpenAI-Sentinel-Proof-Token", creds.ProofToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError("conversation", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		perr := readProtocolError(resp)
		perr.FallbackProof = creds.FallbackProof
		p.logf("[chatgpt] conversation rejected: HTTP %d: %s", perr.StatusCode, perr.Body)
		return nil, perr
	}

	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/event-stream" {
		return resp.Body, nil
	}

	// Anything else must be a websocket redirect.
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, transportError("conversation", err)
	}
	var redirect wssRedirect
	if err := json.Unmarshal(body, &redirect); err != nil || redirect.WssURL == "" {
		p.logf("[chatgpt] unexpected conversation response (%s): %.512s", resp.Header.Get("Content-Type"), body)
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Message: "unexpected response content type", Body: string(body)}
	}
	p.logf("[chatgpt] answer delivered over websocket")
	return p.openWebsocket(ctx, redirect.WssURL)
}
