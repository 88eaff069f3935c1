package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"flatshare/internal/domain"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI generates persona lines through any OpenAI-compatible chat
// completions endpoint (OpenAI itself, LM Studio, vLLM, ...).
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	MaxRetries int
	Client     *http.Client // nil = SharedHTTPClient
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = openAIDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
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

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.APIBase, "/") + "/"),
		option.WithHTTPClient(cfg.Client),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(opts...)

	return &OpenAI{
		client: &client,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return o.classify(err)
	}
	return nil
}

func (o *OpenAI) params(req domain.GenerationRequest) (openai.ChatCompletionNewParams, error) {
	if strings.TrimSpace(req.User) == "" {
		return openai.ChatCompletionNewParams{}, domain.MalformedRequest(o.Name(), errors.New("empty user framing"))
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params, nil
}

func (o *OpenAI) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	params, err := o.params(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, o.classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, domain.MalformedResponse(o.Name(), errors.New("no choices"))
	}

	choice := resp.Choices[0]
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, domain.MalformedResponse(o.Name(), errors.New("empty content"))
	}
	return &domain.GenerationResult{
		Text:         text,
		FinishReason: string(choice.FinishReason),
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// GenerateStream forwards streamed completion deltas as fragments. It closes
// out on return.
func (o *OpenAI) GenerateStream(ctx context.Context, req domain.GenerationRequest, out chan<- domain.StreamEvent) error {
	defer close(out)

	params, err := o.params(req)
	if err != nil {
		return err
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() {
		if err := stream.Close(); err != nil {
			o.logger.Debug("close stream", "err", err)
		}
	}()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if !send(ctx, out, domain.StreamEvent{Type: domain.StreamFragment, PersonaID: req.PersonaID, Content: delta}) {
			return ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		if full.Len() == 0 {
			return o.classify(err)
		}
		o.logger.Warn("stream ended early", "persona", req.PersonaID, "err", err)
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return domain.MalformedResponse(o.Name(), errors.New("empty stream"))
	}
	send(ctx, out, domain.StreamEvent{Type: domain.StreamDone, PersonaID: req.PersonaID, Content: text})
	return nil
}

func (o *OpenAI) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		se := &statusError{statusCode: apiErr.StatusCode, body: apiErr.Message}
		return classify(o.Name(), se)
	}
	return domain.Unreachable(o.Name(), fmt.Errorf("openai: %w", err))
}
