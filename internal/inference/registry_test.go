package inference_test

import (
	"context"
	"testing"

	"github.com/izik-adio/zik-back-sub000/internal/config"
	"github.com/izik-adio/zik-back-sub000/internal/inference"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
)

// mockDriver replays a canned answer.
type mockDriver struct {
	kind string
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Stream(ctx context.Context, payload *models.InvocationPayload) (stream.Source, error) {
	return stream.NewSliceSource(
		stream.TextStart(0),
		stream.TextDelta(0, "mock response from "+d.kind),
		stream.BlockStop(0),
		stream.MessageStop(),
	), nil
}

func newTestRegistry(t *testing.T) *inference.Registry {
	t.Helper()
	return inference.NewRegistry(config.InferenceConfig{
		Provider:  "anthropic",
		Model:     "claude-3-5-sonnet-latest",
		APIKey:    "test-key",
		MaxTokens: 256,
	})
}

func TestBuiltinDriversRegistered(t *testing.T) {
	r := newTestRegistry(t)

	drivers := r.ListDrivers()
	expected := []string{"anthropic", "openai"}

	for _, exp := range expected {
		found := false
		for _, d := range drivers {
			if d == exp {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in driver %q not found in %v", exp, drivers)
		}
	}
	if r.Kind() != "anthropic" {
		t.Errorf("Kind() = %q, want %q", r.Kind(), "anthropic")
	}
}

func TestGetDriver_NotFound(t *testing.T) {
	r := newTestRegistry(t)

	if got := r.GetDriver("nonexistent"); got != nil {
		t.Errorf("GetDriver() for nonexistent should return nil, got %v", got)
	}
	if err := r.Use("nonexistent"); err == nil {
		t.Error("Use() for nonexistent driver should fail")
	}
}

func TestRegisterDriver_OverridesAndStreams(t *testing.T) {
	r := newTestRegistry(t)

	r.RegisterDriver(&mockDriver{kind: "anthropic"})

	src, err := r.Stream(context.Background(), &models.InvocationPayload{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer src.Close()

	res, err := stream.Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if res.Text != "mock response from anthropic" {
		t.Errorf("Decode().Text = %q, want %q", res.Text, "mock response from anthropic")
	}
}

func TestUse_SwitchesActiveDriver(t *testing.T) {
	r := newTestRegistry(t)
	r.RegisterDriver(&mockDriver{kind: "local"})

	if err := r.Use("local"); err != nil {
		t.Fatalf("Use() error = %v", err)
	}
	src, err := r.Stream(context.Background(), &models.InvocationPayload{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	res, err := stream.Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if res.Text != "mock response from local" {
		t.Errorf("Decode().Text = %q", res.Text)
	}
}
