package chatgpt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const wssSubprotocol = "json.reliable.webpubsub.azure.v1"

type wssMessage struct {
	SequenceID int `json:"sequenceId"`
	Data       struct {
		Body string `json:"body"`
	} `json:"data"`
}

type wssAck struct {
	Type       string `json:"type"`
	SequenceID int    `json:"sequenceId"`
}

// wssStream exposes the base64 bodies of websocket messages as one byte
// stream in the same SSE framing the HTTP path returns.
type wssStream struct {
	*io.PipeReader
	conn *websocket.Conn
	once sync.Once
}

func (s *wssStream) Close() error {
	s.once.Do(func() {
		_ = s.conn.Close()
	})
	return s.PipeReader.Close()
}

func (p *Provider) openWebsocket(ctx context.Context, wssURL string) (io.ReadCloser, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{wssSubprotocol},
		HandshakeTimeout: p.handshakeTimeout,
		NetDialContext:   p.dial,
	}
	header := http.Header{}
	header.Set("User-Agent", p.userAgent)

	conn, _, err := dialer.DialContext(ctx, wssURL, header)
	if err != nil {
		return nil, transportError("websocket", err)
	}

	pr, pw := io.Pipe()
	stream := &wssStream{PipeReader: pr, conn: conn}

	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	go func() {
		defer stop()
		pw.CloseWithError(p.pumpWebsocket(conn, pw))
	}()
	return stream, nil
}

// pumpWebsocket copies message bodies into w until the stream reports
// [DONE] or the connection closes. A nil return means a clean end.
func (p *Provider) pumpWebsocket(conn *websocket.Conn, w io.Writer) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return transportError("websocket", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		var msg wssMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logf("[chatgpt] skipping websocket message: %v", err)
			continue
		}
		if msg.Data.Body == "" {
			continue
		}
		body, err := base64.StdEncoding.DecodeString(msg.Data.Body)
		if err != nil {
			p.logf("[chatgpt] skipping websocket body: %v", err)
			continue
		}
		if _, err := w.Write(body); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
		_ = conn.WriteJSON(wssAck{Type: "sequenceAck", SequenceID: msg.SequenceID})

		if strings.Contains(string(body), "data: [DONE]") {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}
