package chatgpt

import (
	"encoding/json"
	"iter"
	"regexp"
	"strings"

	"github.com/kyupark/freegpt/internal/openai"
	"github.com/kyupark/freegpt/internal/tokenizer"
)

// heartbeatFrame matches the bare timestamps the backend sends to keep the
// stream open.
var heartbeatFrame = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}$`)

// StreamFailureText replaces the backend's own error text in what callers
// see; the raw text is only logged.
const StreamFailureText = "The upstream service reported an error while generating this response. Please retry the request."

const (
	statusInProgress = "in_progress"
	statusFinished   = "finished_successfully"
	finishMaxTokens  = "max_tokens"
)

type finishDetails struct {
	Type string `json:"type"`
}

type frameMetadata struct {
	FinishDetails *finishDetails `json:"finish_details"`
}

type frameMessage struct {
	Content struct {
		Parts []any `json:"parts"`
	} `json:"content"`
	Status   string        `json:"status"`
	Metadata frameMetadata `json:"metadata"`
}

type conversationFrame struct {
	Message  *frameMessage   `json:"message"`
	Metadata frameMetadata   `json:"metadata"`
	Error    json.RawMessage `json:"error"`
}

// Translator turns the backend's cumulative message frames into deltas.
// It holds the state of exactly one request and is not safe for
// concurrent use.
type Translator struct {
	history map[string]struct{}
	counter tokenizer.Counter
	logf    func(string, ...any)

	full             string
	finish           string
	text             strings.Builder
	completionTokens int
	streamErr        *StreamError
	done             bool
}

// NewTranslator prepares a translator for a request whose caller history
// is msgs. Frames restating any history message verbatim are treated as
// echoes and produce no output.
func NewTranslator(msgs []openai.ChatMessage, counter tokenizer.Counter, logf func(string, ...any)) *Translator {
	if counter == nil {
		counter = tokenizer.Estimate{}
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	history := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		history[m.Content] = struct{}{}
	}
	return &Translator{history: history, counter: counter, logf: logf}
}

// PromptTokens counts the caller messages once per request.
func PromptTokens(counter tokenizer.Counter, msgs []openai.ChatMessage) int {
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Content
	}
	return tokenizer.CountAll(counter, texts...)
}

// Step applies one frame. emit reports whether a chunk carrying delta (and
// the current finish reason) should be sent; delta may be empty when the
// frame only restates the message.
func (t *Translator) Step(frame string) (delta string, emit bool) {
	if t.done || heartbeatFrame.MatchString(frame) {
		return "", false
	}

	var f conversationFrame
	if err := json.Unmarshal([]byte(frame), &f); err != nil {
		t.logf("[chatgpt] %v: %v", ErrMalformedFrame, err)
		return "", false
	}
	if msg := errorText(f.Error); msg != "" {
		t.logf("[chatgpt] backend error in stream: %s", msg)
		t.streamErr = &StreamError{Message: msg}
		t.finish = openai.FinishReasonStop
		t.done = true
		return "", false
	}
	if f.Message == nil {
		return "", false
	}

	content := firstTextPart(f.Message.Content.Parts)
	if _, echo := t.history[content]; echo {
		content = ""
	}
	t.finish = finishReason(f.Message.Status, f.finishType())
	if content == "" {
		return "", false
	}

	if len(content) >= len(t.full) {
		delta = strings.TrimPrefix(content, t.full)
	}
	if len(content) > len(t.full) {
		t.full = content
	}
	if delta != "" {
		t.completionTokens += t.counter.Count(delta)
		t.text.WriteString(delta)
	}
	return delta, true
}

// FinishReason is the last mapped finish reason, nil while unfinished.
func (t *Translator) FinishReason() *string { return openai.FinishReason(t.finish) }

// CompletionTokens is the sum of the token counts of every delta.
func (t *Translator) CompletionTokens() int { return t.completionTokens }

// Content is the accumulated answer, or StreamFailureText when the stream
// carried an error frame.
func (t *Translator) Content() string {
	if t.streamErr != nil {
		return StreamFailureText
	}
	return t.text.String()
}

// Err returns the *StreamError recorded from an error frame, if any.
func (t *Translator) Err() error {
	if t.streamErr != nil {
		return t.streamErr
	}
	return nil
}

// Chunks translates frames into streaming chunks. After the frames end it
// yields one StreamFailureText chunk if the backend sent an error frame,
// then a final chunk with an empty delta and the last finish reason. A read
// error is yielded once, classified as a transport failure or timeout, and
// ends the sequence without the final chunk.
func (t *Translator) Chunks(h openai.Header, frames iter.Seq2[string, error]) iter.Seq2[openai.ChatCompletionChunk, error] {
	return func(yield func(openai.ChatCompletionChunk, error) bool) {
		for frame, err := range frames {
			if err != nil {
				yield(openai.ChatCompletionChunk{}, transportError("conversation stream", err))
				return
			}
			delta, emit := t.Step(frame)
			if emit && !yield(openai.NewChunk(h, delta, t.FinishReason()), nil) {
				return
			}
			if t.done {
				break
			}
		}
		if t.streamErr != nil {
			if !yield(openai.NewChunk(h, StreamFailureText, t.FinishReason()), nil) {
				return
			}
		}
		yield(openai.NewChunk(h, "", t.FinishReason()), nil)
	}
}

// Aggregate consumes frames into a single buffered response. Read errors
// are classified like those of Chunks.
func (t *Translator) Aggregate(h openai.Header, frames iter.Seq2[string, error], promptTokens int) (openai.ChatCompletionResponse, error) {
	for frame, err := range frames {
		if err != nil {
			return openai.ChatCompletionResponse{}, transportError("conversation stream", err)
		}
		t.Step(frame)
		if t.done {
			break
		}
	}
	usage := openai.NewUsage(promptTokens, t.completionTokens)
	return openai.NewCompletionResponse(h, t.Content(), t.FinishReason(), usage), nil
}

func (f *conversationFrame) finishType() string {
	if fd := f.Message.Metadata.FinishDetails; fd != nil {
		return fd.Type
	}
	if fd := f.Metadata.FinishDetails; fd != nil {
		return fd.Type
	}
	return ""
}

func finishReason(status, detail string) string {
	switch status {
	case statusInProgress:
		return ""
	case statusFinished:
		if detail == finishMaxTokens {
			return openai.FinishReasonLength
		}
		return openai.FinishReasonStop
	default:
		return ""
	}
}

func firstTextPart(parts []any) string {
	if len(parts) == 0 {
		return ""
	}
	s, _ := parts[0].(string)
	return s
}
