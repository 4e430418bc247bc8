// Package retention periodically purges guardrail audit events and chat
// history older than their retention windows.
//
// Audit events are archived before they are deleted when an archiver is
// configured. Archive failures are fail-safe: nothing is deleted if the
// archive could not be written.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/izik-adio/zik-back-sub000/internal/store"
	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultAuditRetention keeps guardrail rejections for 30 days.
	DefaultAuditRetention = 30 * 24 * time.Hour
	// MinInterval is the shortest sweep interval accepted.
	MinInterval = time.Minute
)

// Archiver stores expired audit events durably before they are purged.
type Archiver interface {
	Kind() string
	ArchiveAuditEvents(ctx context.Context, events []models.AuditEvent) (string, error)
}

// Policy sets the retention windows. A zero MessageRetention keeps chat
// history forever.
type Policy struct {
	AuditRetention   time.Duration
	MessageRetention time.Duration
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	AuditArchived  int
	AuditPurged    int
	MessagesPurged int
	ArchivePath    string
	Errors         []error
}

// Janitor periodically archives and purges expired data.
type Janitor struct {
	store    store.RetentionStore
	archiver Archiver
	policy   Policy
	interval time.Duration

	// Now is the clock used to compute cutoffs.
	Now func() time.Time
}

// NewJanitor creates a janitor. archiver may be nil, in which case expired
// audit events are purged without archiving.
func NewJanitor(s store.RetentionStore, archiver Archiver, policy Policy, interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = time.Hour
	}
	if policy.AuditRetention <= 0 {
		policy.AuditRetention = DefaultAuditRetention
	}
	return &Janitor{
		store:    s,
		archiver: archiver,
		policy:   policy,
		interval: interval,
		Now:      time.Now,
	}
}

// Start runs cycles until ctx is cancelled. It runs one cycle immediately.
func (j *Janitor) Start(ctx context.Context) {
	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("audit_retention", j.policy.AuditRetention).
		Dur("message_retention", j.policy.MessageRetention).
		Str("archiver", archiver).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	now := j.Now()
	var stats CycleStats

	j.sweepAudit(ctx, now.Add(-j.policy.AuditRetention), &stats)

	if j.policy.MessageRetention > 0 {
		n, err := j.store.DeleteMessagesBefore(ctx, now.Add(-j.policy.MessageRetention))
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("purge messages: %w", err))
		}
		stats.MessagesPurged = n
	}

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	if stats.AuditPurged > 0 || stats.MessagesPurged > 0 {
		log.Info().
			Int("audit_archived", stats.AuditArchived).
			Int("audit_purged", stats.AuditPurged).
			Int("messages_purged", stats.MessagesPurged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) sweepAudit(ctx context.Context, cutoff time.Time, stats *CycleStats) {
	if j.archiver != nil {
		expired, err := j.store.ListAuditEventsBefore(ctx, cutoff)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("list expired audit events: %w", err))
			return
		}
		if len(expired) == 0 {
			return
		}
		path, err := j.archiver.ArchiveAuditEvents(ctx, expired)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("archive audit events: %w", err))
			return
		}
		stats.AuditArchived = len(expired)
		stats.ArchivePath = path
	}

	n, err := j.store.DeleteAuditEventsBefore(ctx, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Errorf("purge audit events: %w", err))
		return
	}
	stats.AuditPurged = n
}
