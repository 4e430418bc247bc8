package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	pkgmw "github.com/izik-adio/zik-back-sub000/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainFunc func(context.Context, *http.Request) (*contracts.Identity, error)

func (f chainFunc) RegisterProvider(contracts.AuthProvider) {}
func (f chainFunc) ListProviders() []string                 { return nil }
func (f chainFunc) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	return f(ctx, r)
}

func ownerEcho(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(pkgmw.Owner(r.Context())))
}

func TestAuthMiddleware(t *testing.T) {
	alice := chainFunc(func(context.Context, *http.Request) (*contracts.Identity, error) {
		return &contracts.Identity{Subject: "alice"}, nil
	})
	anonymous := chainFunc(func(context.Context, *http.Request) (*contracts.Identity, error) { return nil, nil })
	failing := chainFunc(func(context.Context, *http.Request) (*contracts.Identity, error) {
		return nil, errors.New("token expired")
	})

	tests := []struct {
		name     string
		chain    contracts.AuthProviderChain
		require  bool
		wantCode int
		wantBody string
	}{
		{"identity sets owner", alice, true, http.StatusOK, "alice"},
		{"anonymous allowed", anonymous, false, http.StatusOK, ""},
		{"anonymous rejected", anonymous, true, http.StatusUnauthorized, "authentication_required"},
		{"provider error", failing, false, http.StatusUnauthorized, "authentication_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthMiddleware(tt.chain, tt.require).Handler(http.HandlerFunc(ownerEcho))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pkgmw.GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	h := chimw.RequestID(RequestID(Logger(inner)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/health", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, len("short and stout"), entry["bytes"])
	assert.Equal(t, seen, entry["request_id"])
}
