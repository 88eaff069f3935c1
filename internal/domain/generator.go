package domain

import (
	"context"
	"errors"
	"fmt"
)

// Generator is the interface every text-generation collaborator implements.
// The engine hands it a fully composed request and never inspects how the
// text is produced.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	Name() string
	Healthy(ctx context.Context) error
}

// StreamingGenerator is an optional extension for generators that can deliver
// text as an incremental fragment sequence. Implementations close out when
// they return.
type StreamingGenerator interface {
	Generator
	GenerateStream(ctx context.Context, req GenerationRequest, out chan<- StreamEvent) error
}

// StreamEventType classifies a streaming event.
type StreamEventType string

const (
	StreamFragment StreamEventType = "fragment"
	StreamDone     StreamEventType = "done"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one element of a streamed generation. The final event has
// Type StreamDone and carries the full text.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	PersonaID string          `json:"persona_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// GenerationRequest is the sole artifact passed to a Generator: a system
// framing (persona, strategy, tone) and a user framing (what to respond to).
type GenerationRequest struct {
	PersonaID   string
	Target      string
	Strategy    string
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
	Stream      bool
}

type GenerationResult struct {
	Text         string
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationErrorKind separates failures the caller may want to treat
// differently.
type GenerationErrorKind string

const (
	KindUnreachable       GenerationErrorKind = "unreachable"
	KindMalformedRequest  GenerationErrorKind = "malformed_request"
	KindMalformedResponse GenerationErrorKind = "malformed_response"
)

var (
	ErrUnreachable       = errors.New("generation service unreachable")
	ErrMalformedRequest  = errors.New("generation request malformed")
	ErrMalformedResponse = errors.New("generation response malformed")
)

// GenerationError wraps a generator failure with its kind.
// errors.Is matches it against the Err* sentinels of the same kind.
type GenerationError struct {
	Kind     GenerationErrorKind
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrMalformedRequest:
		return e.Kind == KindMalformedRequest
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

func Unreachable(provider string, err error) error {
	return &GenerationError{Kind: KindUnreachable, Provider: provider, Err: err}
}

func MalformedRequest(provider string, err error) error {
	return &GenerationError{Kind: KindMalformedRequest, Provider: provider, Err: err}
}

func MalformedResponse(provider string, err error) error {
	return &GenerationError{Kind: KindMalformedResponse, Provider: provider, Err: err}
}
