package stream_test

import (
	"testing"

	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Hello there  ", "Hello there"},
		{"thinking block", "<thinking>\nuser wants a task\n</thinking>\nAdded it!", "Added it!"},
		{"case insensitive", "<Thinking>x</Thinking>Done.", "Done."},
		{"stray tags", "<answer>All set.</answer>", "All set."},
		{"self closing", "Line<br/>break", "Linebreak"},
		{"keeps comparisons", "3 < 5 and I <3 running", "3 < 5 and I <3 running"},
		{"collapses blank runs", "a\n\n\n\nb", "a\n\nb"},
		{"empty", "<thinking>only thoughts</thinking>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stream.Sanitize(tt.in))
		})
	}
}
