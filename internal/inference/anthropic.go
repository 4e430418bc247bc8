package inference

import (
	"context"
	"errors"
	"fmt"
	"io"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/izik-adio/zik-back-sub000/internal/config"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
)

// AnthropicDriver streams from the Anthropic Messages API. Its server-sent
// events already use the block protocol, so each event is passed through
// from its raw JSON.
type AnthropicDriver struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicDriver constructs the driver. An empty API key falls back to
// the SDK's ANTHROPIC_API_KEY lookup.
func NewAnthropicDriver(cfg config.InferenceConfig) *AnthropicDriver {
	opts := []anthropicopt.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, anthropicopt.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" && cfg.Provider == "anthropic" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicDriver{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

// Stream sends the payload and returns the event stream.
func (d *AnthropicDriver) Stream(ctx context.Context, payload *models.InvocationPayload) (stream.Source, error) {
	params := anthropicParams(d.model, d.maxTokens, payload)
	st := d.client.Messages.NewStreaming(ctx, params)
	if err := st.Err(); err != nil {
		st.Close()
		return nil, errs.Wrap(errs.KindInference, "inference.anthropic", err)
	}
	return &anthropicSource{events: st, closeFn: func() { st.Close() }}, nil
}

func anthropicParams(model string, defaultMax int, payload *models.InvocationPayload) anthropic.MessageNewParams {
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMax
	}

	msgs := make([]anthropic.MessageParam, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	tools := make([]anthropic.ToolUnionParam, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		var required []string
		if req, ok := t.InputSchema["required"].([]string); ok {
			required = req
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.InputSchema["properties"],
				Required:   required,
			},
		}})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Tools:     tools,
	}
	if payload.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: payload.System}}
	}
	return params
}

// sdkEventStream is the subset of the SDK's SSE stream the source reads.
type sdkEventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

type anthropicSource struct {
	events  sdkEventStream
	closeFn func()
}

func (s *anthropicSource) Next(ctx context.Context) (stream.Event, error) {
	if err := ctx.Err(); err != nil {
		return stream.Event{}, err
	}
	if !s.events.Next() {
		if err := s.events.Err(); err != nil && !errors.Is(err, io.EOF) {
			return stream.Event{}, fmt.Errorf("anthropic stream: %w", err)
		}
		return stream.Event{}, io.EOF
	}
	return stream.ParseEvent([]byte(s.events.Current().RawJSON()))
}

func (s *anthropicSource) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
