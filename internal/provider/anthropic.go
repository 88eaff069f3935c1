package provider

import (
	"bufio"
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
	anthropicDefaultBase  = "https://api.anthropic.com/v1"
	anthropicAPIVersion   = "2023-06-01"
	anthropicDefaultModel = "claude-3-5-haiku-latest"
	anthropicMaxTokens    = 256
)

// Anthropic generates persona lines through the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	apiBase string
	model   string
	retries int
	client  *http.Client
	logger  *slog.Logger
}

type AnthropicConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	MaxRetries int
	Client     *http.Client // nil = SharedHTTPClient
	Logger     *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = anthropicDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
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
	return &Anthropic{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		retries: cfg.MaxRetries,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

// Healthy only checks configuration; the API has no free probe endpoint.
func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return domain.Unreachable(a.Name(), errors.New("no API key configured"))
	}
	return nil
}

type anthropicRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []anthropicMsg `json:"messages"`
	Temperature float64        `json:"temperature,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

// anthropicEvent is one server-sent event of a streamed message.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *Anthropic) body(req domain.GenerationRequest, stream bool) ([]byte, error) {
	if strings.TrimSpace(req.User) == "" {
		return nil, domain.MalformedRequest(a.Name(), errors.New("empty user framing"))
	}
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	data, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropicMsg{{Role: "user", Content: req.User}},
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, domain.MalformedRequest(a.Name(), fmt.Errorf("marshal request: %w", err))
	}
	return data, nil
}

func (a *Anthropic) post(ctx context.Context, data []byte) (*http.Response, error) {
	resp, err := doWithRetry(ctx, a.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/messages", bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", a.apiKey)
		r.Header.Set("anthropic-version", anthropicAPIVersion)
		return r, nil
	}, a.retries, a.logger)
	return resp, classify(a.Name(), err)
}

func (a *Anthropic) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	data, err := a.body(req, false)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := a.post(ctx, data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.MalformedResponse(a.Name(), fmt.Errorf("decode response: %w", err))
	}
	var parts []string
	for _, b := range ar.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return nil, domain.MalformedResponse(a.Name(), errors.New("no text content"))
	}
	return &domain.GenerationResult{
		Text:         text,
		FinishReason: ar.StopReason,
		Usage: domain.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream reads the event stream of a streamed message and forwards
// every text delta as a fragment. It closes out on return.
func (a *Anthropic) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	data, err := a.body(req, true)
	if err != nil {
		return err
	}
	resp, err := a.post(ctx, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			full.WriteString(ev.Delta.Text)
			if !send(ctx, out, domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: ev.Delta.Text}) {
				return ctx.Err()
			}
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return domain.MalformedResponse(a.Name(), errors.New(msg))
		}
		if ev.Type == "message_stop" {
			break
		}
	}
	if err := scanner.Err(); err != nil && full.Len() == 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.Unreachable(a.Name(), fmt.Errorf("read stream: %w", err))
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return domain.MalformedResponse(a.Name(), errors.New("empty stream"))
	}
	send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, PersonaID: req.PersonaID, Content: text})
	return nil
}
