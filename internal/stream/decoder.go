package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// ErrProtocol marks an event sequence the decoder cannot accept, such as a
// nested block or a delta with no open block.
var ErrProtocol = errors.New("stream protocol violation")

// Result is the decoded turn: the sanitized answer plus every tool
// invocation whose input parsed as a JSON object.
type Result struct {
	Text            string
	ToolInvocations []models.ToolInvocation
	// Dropped counts tool blocks discarded because their input was malformed.
	Dropped int
}

type state int

const (
	stateIdle state = iota
	stateTextOpen
	stateToolOpen
	stateDone
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateTextOpen:
		return "text_open"
	case stateToolOpen:
		return "tool_open"
	default:
		return "done"
	}
}

// Decoder is the block state machine. It is fed events one at a time by a
// single consumer and is not safe for concurrent use.
//
//	Idle → TextOpen → Idle
//	Idle → ToolOpen(name, buf="") → ToolOpen(buf+=fragment)* → Idle (+invocation)
//	Idle → Done (message_stop)
type Decoder struct {
	state       state
	toolName    string
	buf         strings.Builder
	text        strings.Builder
	invocations []models.ToolInvocation
	dropped     int
}

// NewDecoder returns a decoder in the Idle state.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Done reports whether message_stop has been consumed.
func (d *Decoder) Done() bool { return d.state == stateDone }

// Feed applies one event. A non-nil error is an inference error; the
// decoder must not be fed again after one.
func (d *Decoder) Feed(ev Event) error {
	if d.state == stateDone {
		return violation("event %q after message_stop", ev.Type)
	}

	switch ev.Type {
	case EventContentBlockStart:
		return d.start(ev)
	case EventContentBlockDelta:
		return d.delta(ev)
	case EventContentBlockStop:
		return d.stop()
	case EventMessageStop:
		if d.state != stateIdle {
			return violation("message_stop while %s", d.state)
		}
		d.state = stateDone
		return nil
	case EventMessageStart, EventMessageDelta, EventPing:
		return nil
	case EventError:
		msg := "inference service reported an error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Type + ": " + ev.Error.Message
		}
		return errs.Wrap(errs.KindInference, "stream.decode", errors.New(msg))
	default:
		log.Debug().Str("type", string(ev.Type)).Msg("Ignoring unknown stream event")
		return nil
	}
}

func (d *Decoder) start(ev Event) error {
	if d.state != stateIdle {
		return violation("content_block_start while %s", d.state)
	}
	if ev.ContentBlock == nil {
		return violation("content_block_start without content_block")
	}

	switch ev.ContentBlock.Type {
	case BlockText:
		d.text.WriteString(ev.ContentBlock.Text)
		d.state = stateTextOpen
	case BlockToolUse:
		d.toolName = ev.ContentBlock.Name
		d.buf.Reset()
		d.state = stateToolOpen
	default:
		return violation("unknown content block type %q", ev.ContentBlock.Type)
	}
	return nil
}

func (d *Decoder) delta(ev Event) error {
	if ev.Delta == nil {
		return violation("content_block_delta without delta")
	}

	switch {
	case d.state == stateTextOpen && ev.Delta.Type == DeltaText:
		d.text.WriteString(ev.Delta.Text)
	case d.state == stateToolOpen && ev.Delta.Type == DeltaInputJSON:
		// Fragments are concatenated verbatim; parsing waits for the stop.
		d.buf.WriteString(ev.Delta.PartialJSON)
	case d.state == stateIdle:
		return violation("%s with no open block", ev.Delta.Type)
	default:
		return violation("%s while %s", ev.Delta.Type, d.state)
	}
	return nil
}

func (d *Decoder) stop() error {
	switch d.state {
	case stateTextOpen:
		d.state = stateIdle
		return nil
	case stateToolOpen:
		d.closeTool()
		d.state = stateIdle
		return nil
	default:
		return violation("content_block_stop with no open block")
	}
}

// closeTool parses the accumulated input. A malformed input drops this
// one invocation and never aborts the turn.
func (d *Decoder) closeTool() {
	raw := d.buf.String()
	d.buf.Reset()

	input, err := parseToolInput(raw)
	if err != nil {
		d.dropped++
		log.Warn().
			Str("tool", d.toolName).
			Int("bytes", len(raw)).
			Err(err).
			Msg("⚠️ Dropping tool invocation with malformed input")
		return
	}
	d.invocations = append(d.invocations, models.ToolInvocation{
		ToolName: d.toolName,
		Input:    input,
	})
}

func parseToolInput(raw string) (map[string]any, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("tool input is not a JSON object")
	}
	var input map[string]any
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// Result returns the decoded turn. It fails unless message_stop was seen.
func (d *Decoder) Result() (*Result, error) {
	if d.state != stateDone {
		return nil, errs.Wrap(errs.KindInference, "stream.decode", errors.New("stream ended before message_stop"))
	}
	invocations := make([]models.ToolInvocation, len(d.invocations))
	copy(invocations, d.invocations)
	return &Result{
		Text:            Sanitize(d.text.String()),
		ToolInvocations: invocations,
		Dropped:         d.dropped,
	}, nil
}

// Decode consumes src until message_stop. Events after message_stop are
// never read. On cancellation the partial state is discarded.
func Decode(ctx context.Context, src Source) (*Result, error) {
	d := NewDecoder()
	received := 0

	for !d.Done() {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.KindInference, "stream.decode", err)
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			if received == 0 {
				return nil, errs.Wrap(errs.KindInference, "stream.decode", errors.New("empty response body"))
			}
			return nil, errs.Wrap(errs.KindInference, "stream.decode", errors.New("stream ended before message_stop"))
		}
		if err != nil {
			return nil, errs.Wrap(errs.KindInference, "stream.decode", err)
		}
		received++
		if err := d.Feed(ev); err != nil {
			return nil, err
		}
	}
	return d.Result()
}

func violation(format string, args ...any) error {
	return errs.Wrap(errs.KindInference, "stream.decode", fmt.Errorf("%w: "+format, append([]any{ErrProtocol}, args...)...))
}
