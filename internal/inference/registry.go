// Package inference implements the drivers that open streaming model
// invocations. Each driver translates the provider-neutral
// models.InvocationPayload into its provider's request and exposes the
// response as block-protocol events (stream.Source).
package inference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/izik-adio/zik-back-sub000/internal/config"
	"github.com/izik-adio/zik-back-sub000/internal/errs"
	"github.com/izik-adio/zik-back-sub000/internal/stream"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// Registry holds the available drivers keyed by Kind and the one selected
// for chat turns.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]contracts.InferenceDriver
	active  string
}

// NewRegistry creates a registry with the built-in drivers configured from
// cfg and selects cfg.Provider.
func NewRegistry(cfg config.InferenceConfig) *Registry {
	r := &Registry{drivers: make(map[string]contracts.InferenceDriver)}
	r.RegisterDriver(NewAnthropicDriver(cfg))
	r.RegisterDriver(NewOpenAIDriver(cfg))
	r.active = cfg.Provider
	return r
}

// RegisterDriver adds or replaces a driver.
func (r *Registry) RegisterDriver(d contracts.InferenceDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
	log.Debug().Str("driver", d.Kind()).Msg("Inference driver registered")
}

// GetDriver returns the driver for kind, or nil.
func (r *Registry) GetDriver(kind string) contracts.InferenceDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drivers[kind]
}

// ListDrivers returns the registered kinds, sorted.
func (r *Registry) ListDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Use selects the driver used by Stream.
func (r *Registry) Use(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[kind]; !ok {
		return fmt.Errorf("unknown inference driver %q", kind)
	}
	r.active = kind
	return nil
}

// Kind reports the active driver.
func (r *Registry) Kind() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Stream opens an invocation on the active driver. The registry itself
// satisfies contracts.InferenceDriver so the orchestrator never sees which
// provider answered.
func (r *Registry) Stream(ctx context.Context, payload *models.InvocationPayload) (stream.Source, error) {
	r.mu.RLock()
	d := r.drivers[r.active]
	r.mu.RUnlock()
	if d == nil {
		return nil, errs.Wrap(errs.KindInference, "inference.stream", fmt.Errorf("no driver for %q", r.Kind()))
	}
	return d.Stream(ctx, payload)
}

var _ contracts.InferenceDriver = (*Registry)(nil)
