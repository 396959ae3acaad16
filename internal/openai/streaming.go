package openai

// ChatCompletionChunk represents a chunk in an SSE streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
	Logprobs     interface{}      `json:"logprobs"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// NewChunk builds a single-choice chunk for h.
func NewChunk(h Header, content string, finish *string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      h.ID,
		Object:  ObjectChatCompletionChunk,
		Created: h.Created,
		Model:   h.Model,
		Choices: []ChatCompletionChunkChoice{{
			Index:        0,
			Delta:        ChatMessageDelta{Content: content},
			FinishReason: finish,
		}},
	}
}

// Content returns the delta text of the first choice.
func (c *ChatCompletionChunk) Content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// Model is an entry of the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ErrorBody is the error envelope returned to callers.
type ErrorBody struct {
	Status  bool        `json:"status"`
	Error   ErrorDetail `json:"error"`
	Support string      `json:"support,omitempty"`
}

// ErrorDetail carries the caller-facing message and OpenAI error type.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
