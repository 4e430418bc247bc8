// Package stream decodes the block-oriented streaming protocol of the
// inference service into a plain-text answer and tool invocations.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// EventType is the discriminant of a protocol event.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

// BlockType tags a content block.
type BlockType string

const (
	BlockText    BlockType = "text"
	BlockToolUse BlockType = "tool_use"
)

// DeltaType tags a content block delta.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// Event is one protocol event. Only the fields relevant to Type are set.
type Event struct {
	Type         EventType     `json:"type"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Error        *ErrorDetail  `json:"error,omitempty"`
}

// ContentBlock opens a block. A tool_use block carries the tool name and
// an empty input; the input arrives later as input_json_delta fragments.
type ContentBlock struct {
	Type BlockType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
	Text string    `json:"text,omitempty"`
}

// Delta appends to the open block. PartialJSON is a raw fragment and is
// not parseable on its own.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
}

// ErrorDetail is carried by an in-band error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseEvent decodes one JSON-encoded protocol event.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("parse stream event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("parse stream event: missing type")
	}
	return ev, nil
}

// ── Sources ─────────────────────────────────────────────────

// Source yields protocol events in arrival order from a single producer.
// Next returns io.EOF once the producer has nothing more to deliver.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// SliceSource replays a fixed list of events. It backs the static driver
// and tests.
type SliceSource struct {
	events []Event
	pos    int
	closed bool
}

// NewSliceSource returns a Source over events.
func NewSliceSource(events ...Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.closed || s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceSource) Close() error {
	s.closed = true
	return nil
}

// Consumed reports how many events have been read.
func (s *SliceSource) Consumed() int { return s.pos }

// ── Event constructors ──────────────────────────────────────

// TextStart opens a text block.
func TextStart(index int) Event {
	return Event{Type: EventContentBlockStart, Index: index, ContentBlock: &ContentBlock{Type: BlockText}}
}

// ToolStart opens a tool_use block for the named tool.
func ToolStart(index int, id, name string) Event {
	return Event{Type: EventContentBlockStart, Index: index, ContentBlock: &ContentBlock{Type: BlockToolUse, ID: id, Name: name}}
}

// TextDelta appends text to the open text block.
func TextDelta(index int, text string) Event {
	return Event{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaText, Text: text}}
}

// InputDelta appends a JSON fragment to the open tool_use block.
func InputDelta(index int, fragment string) Event {
	return Event{Type: EventContentBlockDelta, Index: index, Delta: &Delta{Type: DeltaInputJSON, PartialJSON: fragment}}
}

// BlockStop closes the open block.
func BlockStop(index int) Event {
	return Event{Type: EventContentBlockStop, Index: index}
}

// MessageStop terminates the stream.
func MessageStop() Event {
	return Event{Type: EventMessageStop}
}
