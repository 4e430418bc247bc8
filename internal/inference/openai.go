package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/izik-adio/zik-back-sub000/internal/config"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIDriver streams from any OpenAI-compatible chat completions
// endpoint and re-frames the deltas as block-protocol events.
type OpenAIDriver struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIDriver constructs the driver from cfg.
func NewOpenAIDriver(cfg config.InferenceConfig) *OpenAIDriver {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" && cfg.Provider == "openai" {
		oc.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIDriver{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

func (d *OpenAIDriver) Stream(ctx context.Context, payload *models.InvocationPayload) (stream.Source, error) {
	req := openAIRequest(d.model, d.maxTokens, payload)
	st, err := d.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.KindInference, "inference.openai", err)
	}
	src := NewChunkSource(st)
	src.closeFn = func() { st.Close() }
	return src, nil
}

func openAIRequest(model string, defaultMax int, payload *models.InvocationPayload) openai.ChatCompletionRequest {
	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMax
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(payload.Messages)+1)
	if payload.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: payload.System})
	}
	for _, m := range payload.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	tools := make([]openai.Tool, 0, len(payload.Tools))
	for _, t := range payload.Tools {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model:     model,
		Messages:  msgs,
		Tools:     tools,
		MaxTokens: maxTokens,
		Stream:    true,
	}
}

// ChunkReceiver yields chat completion chunks; io.EOF ends the stream.
// *openai.ChatCompletionStream satisfies it.
type ChunkReceiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

// ChunkSource translates chat completion chunks into block events.
// Content deltas stream out as one text block. Tool call deltas may
// interleave across call indexes, so their arguments are buffered per
// index and each call is emitted as a complete tool_use block, in order of
// first appearance, when the stream ends.
type ChunkSource struct {
	recv    ChunkReceiver
	closeFn func()

	pending  []stream.Event
	index    int  // last block index handed out
	textOpen bool // the text block is open
	calls    []*toolCall
	byIndex  map[int]*toolCall
	finished bool
	received bool
}

type toolCall struct {
	id, name string
	args     strings.Builder
}

// NewChunkSource wraps a chunk receiver.
func NewChunkSource(recv ChunkReceiver) *ChunkSource {
	return &ChunkSource{recv: recv, index: -1, byIndex: make(map[int]*toolCall)}
}

func (s *ChunkSource) Next(ctx context.Context) (stream.Event, error) {
	for len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return stream.Event{}, err
		}
		if s.finished {
			return stream.Event{}, io.EOF
		}
		if err := s.fill(); err != nil {
			return stream.Event{}, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// fill reads one chunk and queues the events it implies.
func (s *ChunkSource) fill() error {
	chunk, err := s.recv.Recv()
	if errors.Is(err, io.EOF) {
		s.finished = true
		if !s.received {
			// Nothing arrived: leave the stream empty so the decoder
			// reports an empty body.
			return nil
		}
		s.flush()
		return nil
	}
	if err != nil {
		return fmt.Errorf("openai stream: %w", err)
	}
	if !s.received {
		s.received = true
		s.pending = append(s.pending, stream.Event{Type: stream.EventMessageStart})
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.Content != "" {
			if !s.textOpen {
				s.index++
				s.textOpen = true
				s.pending = append(s.pending, stream.TextStart(s.index))
			}
			s.pending = append(s.pending, stream.TextDelta(s.index, choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			callIdx := 0
			if tc.Index != nil {
				callIdx = *tc.Index
			}
			call, ok := s.byIndex[callIdx]
			if !ok {
				call = &toolCall{}
				s.byIndex[callIdx] = call
				s.calls = append(s.calls, call)
			}
			if call.id == "" {
				call.id = tc.ID
			}
			if call.name == "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
	}
	return nil
}

// flush closes the text block, emits the buffered tool calls and ends the
// message.
func (s *ChunkSource) flush() {
	if s.textOpen {
		s.pending = append(s.pending, stream.BlockStop(s.index))
		s.textOpen = false
	}
	for _, call := range s.calls {
		s.index++
		s.pending = append(s.pending, stream.ToolStart(s.index, call.id, call.name))
		if call.args.Len() > 0 {
			s.pending = append(s.pending, stream.InputDelta(s.index, call.args.String()))
		}
		s.pending = append(s.pending, stream.BlockStop(s.index))
	}
	s.calls = nil
	s.pending = append(s.pending, stream.MessageStop())
}

func (s *ChunkSource) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
