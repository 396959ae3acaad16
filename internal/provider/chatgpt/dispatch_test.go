package chatgpt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/kyupark/freegpt/internal/openai"
	"github.com/kyupark/freegpt/internal/sse"
)

func TestDispatchSendsConversation(t *testing.T) {
	var got conversationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != conversationPath || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		checks := map[string]string{
			"OAI-Device-Id":                          "dev-1",
			"OpenAI-Sentinel-Chat-Requirements-Token": "req-token",
			"OpenAI-Sentinel-Proof-Token":            "gAAAAABproof",
			"Accept":                                 "text/event-stream",
			"User-Agent":                             DefaultUserAgent,
		}
		for k, v := range checks {
			if r.Header.Get(k) != v {
				t.Errorf("header %s = %q, want %q", k, r.Header.Get(k), v)
			}
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		_, _ = io.WriteString(w, "data: {\"x\":1}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	msgs := []openai.ChatMessage{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}}
	body, err := p.Dispatch(context.Background(), msgs, Credentials{
		Session:    &Session{DeviceID: "dev-1", Token: "req-token"},
		ProofToken: "gAAAAABproof",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	defer body.Close()

	var frames []string
	for f, err := range sse.Frames(body) {
		if err != nil {
			t.Fatalf("frames: %v", err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 1 || frames[0] != `{"x":1}` {
		t.Fatalf("unexpected frames %q", frames)
	}

	if got.Action != "next" || got.Model != DefaultBackendModel || !got.HistoryAndTrainingDisabled {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.ParentMessageID == "" || got.WebsocketRequestID == "" || got.ParentMessageID == got.WebsocketRequestID {
		t.Fatalf("expected fresh ids, got %q and %q", got.ParentMessageID, got.WebsocketRequestID)
	}
	if got.ConversationMode.Kind != "primary_assistant" {
		t.Fatalf("unexpected conversation mode %q", got.ConversationMode.Kind)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	m := got.Messages[1]
	if m.Author.Role != "user" || m.Content.ContentType != "text" || len(m.Content.Parts) != 1 || m.Content.Parts[0] != "hi" {
		t.Fatalf("unexpected message shape %+v", m)
	}
}

func TestDispatchProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"detail":"Unusual activity has been detected"}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.Dispatch(context.Background(), []openai.ChatMessage{{Role: "user", Content: "hi"}}, Credentials{
		Session:       &Session{DeviceID: "d", Token: "t"},
		ProofToken:    FallbackToken("s"),
		FallbackProof: true,
	})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.StatusCode != http.StatusForbidden || !perr.FallbackProof || perr.Message != "Unusual activity has been detected" {
		t.Fatalf("unexpected protocol error %+v", perr)
	}
	if errors.Is(err, ErrUpstreamTransport) {
		t.Fatalf("protocol error must not look like a transport error")
	}
}

func TestDispatchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestProvider(t, url)
	_, err := p.Dispatch(context.Background(), []openai.ChatMessage{{Role: "user", Content: "hi"}}, Credentials{
		Session: &Session{DeviceID: "d", Token: "t"},
	})
	if !errors.Is(err, ErrUpstreamTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		t.Fatalf("transport error must not carry a ProtocolError")
	}
}

func TestDispatchFollowsWebsocketRedirect(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{wssSubprotocol}}
	acks := make(chan int, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		bodies := []string{"da", "ta: {\"a\":1}\n\n", "data: [DONE]\n\n"}
		for i, b := range bodies {
			msg := map[string]any{
				"sequenceId": i + 1,
				"data":       map[string]any{"body": base64.StdEncoding.EncodeToString([]byte(b))},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			var ack wssAck
			if err := conn.ReadJSON(&ack); err != nil {
				return
			}
			acks <- ack.SequenceID
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc(conversationPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		_ = json.NewEncoder(w).Encode(map[string]string{"wss_url": wsURL})
	})

	p := newTestProvider(t, srv.URL)
	body, err := p.Dispatch(context.Background(), []openai.ChatMessage{{Role: "user", Content: "hi"}}, Credentials{
		Session: &Session{DeviceID: "d", Token: "t"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	defer body.Close()

	var frames []string
	for f, err := range sse.Frames(body) {
		if err != nil {
			t.Fatalf("frames: %v", err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 1 || frames[0] != `{"a":1}` {
		t.Fatalf("unexpected frames %q", frames)
	}
	if first := <-acks; first != 1 {
		t.Fatalf("expected ack for sequence 1, got %d", first)
	}
}

func TestDispatchRejectsUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>challenge</html>")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.Dispatch(context.Background(), []openai.ChatMessage{{Role: "user", Content: "hi"}}, Credentials{
		Session: &Session{DeviceID: "d", Token: "t"},
	})
	if !errors.Is(err, ErrUpstreamProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
