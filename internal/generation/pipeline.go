package generation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/izik-adio/zik-back-sub000/pkg/contracts"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Quest-Signature"

// HTTPPipeline posts jobs to the generation pipeline's webhook.
type HTTPPipeline struct {
	url    string
	secret string
	client *http.Client
}

// NewHTTPPipeline creates a pipeline client. secret may be empty.
func NewHTTPPipeline(url, secret string) *HTTPPipeline {
	return &HTTPPipeline{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Generate posts the job. A 4xx response is permanent and is not retried.
func (p *HTTPPipeline) Generate(ctx context.Context, job *models.GenerationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal job: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Quest-Job", job.ID)
	req.Header.Set("X-Quest-Kind", string(job.Kind))
	if p.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(p.secret, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post job: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return backoff.Permanent(fmt.Errorf("HTTP %d from %s", resp.StatusCode, p.url))
	default:
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, p.url)
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a "sha256=<hex>" signature header against body.
func Verify(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

// LogPipeline accepts every job and only logs it. Used when no pipeline
// URL is configured.
type LogPipeline struct{}

func (LogPipeline) Generate(_ context.Context, job *models.GenerationJob) error {
	log.Info().
		Str("job", job.ID).
		Str("kind", string(job.Kind)).
		Str("owner", job.Owner).
		Str("goal", job.GoalID).
		Int("sequence", job.Sequence).
		Msg("Generation pipeline not configured, job logged only")
	return nil
}

var (
	_ contracts.GenerationPipeline = (*HTTPPipeline)(nil)
	_ contracts.GenerationPipeline = LogPipeline{}
	_ contracts.GenerationQueue    = (*Queue)(nil)
)
