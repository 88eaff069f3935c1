package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"flatshare/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
)

// Ollama generates persona lines through a local or remote Ollama server.
type Ollama struct {
	apiBase      string
	defaultModel string
	retries      int
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	MaxRetries   int
	Client       *http.Client // nil = SharedHTTPClient
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		retries:      cfg.MaxRetries,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return domain.Unreachable(o.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Unreachable(o.Name(), fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// ollamaRequest matches the Ollama /api/chat request body.
type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMsg `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error,omitempty"`
}

func (o *Ollama) body(req domain.GenerationRequest, stream bool) ([]byte, error) {
	if strings.TrimSpace(req.User) == "" {
		return nil, domain.MalformedRequest(o.Name(), errors.New("empty user framing"))
	}
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	body := ollamaRequest{
		Model: model,
		Messages: []ollamaMsg{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Stream:  stream,
		Options: map[string]any{},
	}
	if req.Temperature > 0 {
		body.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, domain.MalformedRequest(o.Name(), fmt.Errorf("marshal request: %w", err))
	}
	return data, nil
}

func (o *Ollama) post(ctx context.Context, data []byte) (*http.Response, error) {
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, o.retries, o.logger)
	return resp, classify(o.Name(), err)
}

func (o *Ollama) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	data, err := o.body(req, false)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := o.post(ctx, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var or ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.MalformedResponse(o.Name(), fmt.Errorf("decode response: %w", err))
	}
	if or.Error != "" {
		return nil, domain.MalformedResponse(o.Name(), errors.New(or.Error))
	}
	text := strings.TrimSpace(or.Message.Content)
	if text == "" {
		return nil, domain.MalformedResponse(o.Name(), errors.New("empty content"))
	}
	return &domain.GenerationResult{
		Text:         text,
		FinishReason: or.DoneReason,
		Usage: domain.Usage{
			PromptTokens:     or.PromptEvalCount,
			CompletionTokens: or.EvalCount,
			TotalTokens:      or.PromptEvalCount + or.EvalCount,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream reads the NDJSON chunk stream of /api/chat and forwards
// each content piece as a fragment. It closes out on return.
func (o *Ollama) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	data, err := o.body(req, true)
	if err != nil {
		return err
	}
	resp, err := o.post(ctx, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for decoder.More() {
		var chunk ollamaResponse
		if err := decoder.Decode(&chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if full.Len() > 0 {
				break // partial success
			}
			return domain.MalformedResponse(o.Name(), fmt.Errorf("stream decode: %w", err))
		}
		if chunk.Error != "" {
			return domain.MalformedResponse(o.Name(), errors.New(chunk.Error))
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if !send(ctx, out, domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: chunk.Message.Content}) {
				return ctx.Err()
			}
		}
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return domain.MalformedResponse(o.Name(), errors.New("empty stream"))
	}
	send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, PersonaID: req.PersonaID, Content: text})
	return nil
}

// send delivers ev unless ctx ends first.
func send(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
