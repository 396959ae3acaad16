// Package openai holds the OpenAI-compatible wire types served by the proxy.
package openai

import (
	"math/rand/v2"
	"time"
)

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"

	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)

// Roles accepted from callers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompletionRequest captures the subset of OpenAI's request the proxy honours.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// ChatMessage follows OpenAI's role/content schema, plain text only.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one the backend understands.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatCompletionResponse mirrors the OpenAI schema with a single choice.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   UsageBreakdown         `json:"usage"`
}

// ChatCompletionChoice contains the generated message.
type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason"`
	Logprobs     interface{} `json:"logprobs"`
}

// UsageBreakdown provides token accounting.
type UsageBreakdown struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage fills in the total.
func NewUsage(prompt, completion int) UsageBreakdown {
	return UsageBreakdown{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Header identifies one completion; every chunk of a stream shares it.
type Header struct {
	ID      string
	Created int64
	Model   string
}

// NewHeader stamps a fresh completion id and creation time.
func NewHeader(model string) Header {
	return Header{
		ID:      NewCompletionID("chatcmpl-"),
		Created: time.Now().Unix(),
		Model:   model,
	}
}

// NewCompletionResponse builds a buffered response carrying message.
func NewCompletionResponse(h Header, content string, finish *string, usage UsageBreakdown) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      h.ID,
		Object:  ObjectChatCompletion,
		Created: h.Created,
		Model:   h.Model,
		Choices: []ChatCompletionChoice{{
			Index:        0,
			Message:      ChatMessage{Role: RoleAssistant, Content: content},
			FinishReason: finish,
		}},
		Usage: usage,
	}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewCompletionID returns prefix followed by 28 random alphanumerics.
func NewCompletionID(prefix string) string {
	b := make([]byte, 28)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return prefix + string(b)
}

// FinishReason returns a pointer suitable for the nullable finish_reason field.
func FinishReason(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}
