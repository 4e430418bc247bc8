package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on PostgreSQL. Every statement outside the
// retention sweeps filters on owner, so a caller can never read or mutate
// another user's rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, connURL string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres parse config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS quest_goals (
	id             TEXT NOT NULL,
	owner          TEXT NOT NULL,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	roadmap_status TEXT NOT NULL DEFAULT 'none',
	target_date    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner, id)
);

CREATE TABLE IF NOT EXISTS quest_milestones (
	id                      TEXT NOT NULL,
	owner                   TEXT NOT NULL,
	epic_id                 TEXT NOT NULL,
	sequence                INT  NOT NULL,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL,
	estimated_duration_days INT  NOT NULL DEFAULT 0,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner, id),
	UNIQUE (owner, epic_id, sequence),
	FOREIGN KEY (owner, epic_id) REFERENCES quest_goals (owner, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS quest_tasks (
	id           TEXT NOT NULL,
	owner        TEXT NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	due_date     TEXT NOT NULL,
	priority     TEXT NOT NULL,
	status       TEXT NOT NULL,
	goal_id      TEXT NOT NULL DEFAULT '',
	milestone_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS idx_quest_tasks_due ON quest_tasks (owner, due_date);
CREATE INDEX IF NOT EXISTS idx_quest_tasks_milestone ON quest_tasks (owner, milestone_id);

CREATE TABLE IF NOT EXISTS quest_recurrence_rules (
	id           TEXT NOT NULL,
	owner        TEXT NOT NULL,
	goal_id      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	frequency    TEXT NOT NULL,
	days_of_week JSONB NOT NULL DEFAULT '[]',
	active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner, id)
);

CREATE TABLE IF NOT EXISTS quest_messages (
	id        TEXT NOT NULL,
	owner     TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS idx_quest_messages_ts ON quest_messages (owner, ts DESC);

CREATE TABLE IF NOT EXISTS quest_profiles (
	owner        TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	timezone     TEXT NOT NULL DEFAULT '',
	preferences  JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS quest_audit_events (
	id        TEXT PRIMARY KEY,
	ts        TIMESTAMPTZ NOT NULL,
	owner     TEXT NOT NULL,
	action    TEXT NOT NULL,
	resource  TEXT NOT NULL DEFAULT '',
	reason    TEXT NOT NULL DEFAULT '',
	metadata  JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_quest_audit_owner ON quest_audit_events (owner, ts DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL schema up to date")
	return nil
}

// notFound converts pgx.ErrNoRows into ErrNotFound.
func notFound(err error, entity, k string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: entity, Key: k}
	}
	return err
}

// expectOne maps a zero-row mutation to ErrNotFound.
func expectOne(affected int64, entity, k string) error {
	if affected == 0 {
		return &ErrNotFound{Entity: entity, Key: k}
	}
	return nil
}

// ── Goal Store ──────────────────────────────────────────────

const goalColumns = `id, owner, name, description, status, roadmap_status, target_date, created_at, updated_at`

func scanGoal(row pgx.Row) (*models.Goal, error) {
	var g models.Goal
	err := row.Scan(&g.ID, &g.Owner, &g.Name, &g.Description, &g.Status, &g.RoadmapStatus, &g.TargetDate, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, owner, id string) (*models.Goal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM quest_goals WHERE owner = $1 AND id = $2`, owner, id)
	g, err := scanGoal(row)
	if err != nil {
		return nil, notFound(err, "epic", id)
	}
	return g, nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, owner string, status models.GoalStatus) ([]models.Goal, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+goalColumns+` FROM quest_goals
		WHERE owner = $1 AND ($2 = '' OR status = $2) ORDER BY created_at`, owner, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *g)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateGoal(ctx context.Context, g *models.Goal) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		g.ID, g.Owner, g.Name, g.Description, g.Status, g.RoadmapStatus, g.TargetDate, g.CreatedAt, g.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateGoal(ctx context.Context, g *models.Goal) error {
	tag, err := s.pool.Exec(ctx, `UPDATE quest_goals
		SET name = $3, description = $4, status = $5, roadmap_status = $6, target_date = $7, updated_at = NOW()
		WHERE owner = $1 AND id = $2`,
		g.Owner, g.ID, g.Name, g.Description, g.Status, g.RoadmapStatus, g.TargetDate)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "epic", g.ID)
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, owner, id string) error {
	// Milestones cascade through the foreign key.
	tag, err := s.pool.Exec(ctx, `DELETE FROM quest_goals WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "epic", id)
}

// ── Milestone Store ─────────────────────────────────────────

const milestoneColumns = `id, owner, epic_id, sequence, title, description, status, estimated_duration_days, created_at, updated_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	err := row.Scan(&m.ID, &m.Owner, &m.EpicID, &m.Sequence, &m.Title, &m.Description, &m.Status, &m.EstimatedDurationDays, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListMilestones(ctx context.Context, owner, epicID string) ([]models.Milestone, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+milestoneColumns+` FROM quest_milestones
		WHERE owner = $1 AND epic_id = $2 ORDER BY sequence`, owner, epicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetMilestone(ctx context.Context, owner, id string) (*models.Milestone, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM quest_milestones WHERE owner = $1 AND id = $2`, owner, id)
	m, err := scanMilestone(row)
	if err != nil {
		return nil, notFound(err, "milestone", id)
	}
	return m, nil
}

func (s *PostgresStore) GetMilestoneBySequence(ctx context.Context, owner, epicID string, sequence int) (*models.Milestone, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+milestoneColumns+` FROM quest_milestones
		WHERE owner = $1 AND epic_id = $2 AND sequence = $3`, owner, epicID, sequence)
	m, err := scanMilestone(row)
	if err != nil {
		return nil, notFound(err, "milestone", fmt.Sprintf("%s:%d", epicID, sequence))
	}
	return m, nil
}

func (s *PostgresStore) CreateMilestones(ctx context.Context, milestones []models.Milestone) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range milestones {
		batch.Queue(`INSERT INTO quest_milestones (`+milestoneColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (owner, epic_id, sequence) DO NOTHING`,
			m.ID, m.Owner, m.EpicID, m.Sequence, m.Title, m.Description, m.Status, m.EstimatedDurationDays, m.CreatedAt, m.UpdatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range milestones {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return err
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return ErrConflict
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) TransitionMilestone(ctx context.Context, owner, id string, from, to models.MilestoneStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE quest_milestones SET status = $4, updated_at = NOW()
		WHERE owner = $1 AND id = $2 AND status = $3`, owner, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	// Distinguish a lost race from a missing row.
	if _, err := s.GetMilestone(ctx, owner, id); err != nil {
		return err
	}
	return ErrConflict
}

// ── Task Store ──────────────────────────────────────────────

const taskColumns = `id, owner, name, description, due_date, priority, status, goal_id, milestone_id, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Owner, &t.Name, &t.Description, &t.DueDate, &t.Priority, &t.Status, &t.GoalID, &t.MilestoneID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) queryTasks(ctx context.Context, where string, args ...any) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM quest_tasks WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, owner, id string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM quest_tasks WHERE owner = $1 AND id = $2`, owner, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "daily-task", id)
	}
	return t, nil
}

func (s *PostgresStore) ListTasksDue(ctx context.Context, owner, date string) ([]models.Task, error) {
	return s.queryTasks(ctx, `owner = $1 AND due_date = $2`, owner, date)
}

func (s *PostgresStore) ListTasksByMilestone(ctx context.Context, owner, milestoneID string) ([]models.Task, error) {
	return s.queryTasks(ctx, `owner = $1 AND milestone_id = $2`, owner, milestoneID)
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Owner, t.Name, t.Description, t.DueDate, t.Priority, t.Status, t.GoalID, t.MilestoneID, t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *models.Task) error {
	tag, err := s.pool.Exec(ctx, `UPDATE quest_tasks
		SET name = $3, description = $4, due_date = $5, priority = $6, status = $7, goal_id = $8, milestone_id = $9, updated_at = NOW()
		WHERE owner = $1 AND id = $2`,
		t.Owner, t.ID, t.Name, t.Description, t.DueDate, t.Priority, t.Status, t.GoalID, t.MilestoneID)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "daily-task", t.ID)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, owner, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quest_tasks WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "daily-task", id)
}

// ── Recurrence Store ────────────────────────────────────────

func (s *PostgresStore) GetRecurrenceRule(ctx context.Context, owner, id string) (*models.RecurrenceRule, error) {
	var r models.RecurrenceRule
	var days []byte
	err := s.pool.QueryRow(ctx, `SELECT id, owner, goal_id, title, frequency, days_of_week, active, created_at, updated_at
		FROM quest_recurrence_rules WHERE owner = $1 AND id = $2`, owner, id).
		Scan(&r.ID, &r.Owner, &r.GoalID, &r.Title, &r.Frequency, &days, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "recurrence-rule", id)
	}
	if len(days) > 0 {
		if err := json.Unmarshal(days, &r.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("decode days_of_week: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) CreateRecurrenceRule(ctx context.Context, r *models.RecurrenceRule) error {
	days, _ := json.Marshal(nonNil(r.DaysOfWeek))
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_recurrence_rules
		(id, owner, goal_id, title, frequency, days_of_week, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`,
		r.ID, r.Owner, r.GoalID, r.Title, r.Frequency, string(days), r.Active, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateRecurrenceRule(ctx context.Context, r *models.RecurrenceRule) error {
	days, _ := json.Marshal(nonNil(r.DaysOfWeek))
	tag, err := s.pool.Exec(ctx, `UPDATE quest_recurrence_rules
		SET goal_id = $3, title = $4, frequency = $5, days_of_week = $6::jsonb, active = $7, updated_at = NOW()
		WHERE owner = $1 AND id = $2`,
		r.Owner, r.ID, r.GoalID, r.Title, r.Frequency, string(days), r.Active)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "recurrence-rule", r.ID)
}

func (s *PostgresStore) DeleteRecurrenceRule(ctx context.Context, owner, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quest_recurrence_rules WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return err
	}
	return expectOne(tag.RowsAffected(), "recurrence-rule", id)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ── Message Store ───────────────────────────────────────────

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_messages (id, owner, ts, role, content) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Owner, m.Timestamp, m.Role, m.Content)
	return err
}

func (s *PostgresStore) ListRecentMessages(ctx context.Context, owner string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	// Newest N, then flipped to oldest-first.
	rows, err := s.pool.Query(ctx, `SELECT id, owner, ts, role, content FROM (
			SELECT id, owner, ts, role, content FROM quest_messages
			WHERE owner = $1 ORDER BY ts DESC LIMIT $2
		) recent ORDER BY ts ASC`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.Message, 0, limit)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Owner, &m.Timestamp, &m.Role, &m.Content); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// ── Profile Store ───────────────────────────────────────────

func (s *PostgresStore) GetProfile(ctx context.Context, owner string) (*models.Profile, error) {
	var p models.Profile
	var prefs []byte
	err := s.pool.QueryRow(ctx, `SELECT owner, display_name, timezone, preferences FROM quest_profiles WHERE owner = $1`, owner).
		Scan(&p.Owner, &p.DisplayName, &p.Timezone, &prefs)
	if err != nil {
		return nil, notFound(err, "profile", owner)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	prefs, _ := json.Marshal(p.Preferences)
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_profiles (owner, display_name, timezone, preferences)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (owner) DO UPDATE SET display_name = EXCLUDED.display_name,
			timezone = EXCLUDED.timezone, preferences = EXCLUDED.preferences`,
		p.Owner, p.DisplayName, p.Timezone, string(prefs))
	return err
}

// ── Audit Store ─────────────────────────────────────────────

func (s *PostgresStore) CreateAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	meta, _ := json.Marshal(ev.Metadata)
	_, err := s.pool.Exec(ctx, `INSERT INTO quest_audit_events (id, ts, owner, action, resource, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		ev.ID, ev.Timestamp, ev.Owner, ev.Action, ev.Resource, ev.Reason, string(meta))
	return err
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, owner string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT id, ts, owner, action, resource, reason, metadata
		FROM quest_audit_events WHERE ($1 = '' OR owner = $1) ORDER BY ts DESC LIMIT $2`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.AuditEvent, 0)
	for rows.Next() {
		var ev models.AuditEvent
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Owner, &ev.Action, &ev.Resource, &ev.Reason, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// ── Retention ───────────────────────────────────────────────

func (s *PostgresStore) ListAuditEventsBefore(ctx context.Context, before time.Time) ([]models.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ts, owner, action, resource, reason, metadata
		FROM quest_audit_events WHERE ts < $1 ORDER BY ts`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]models.AuditEvent, 0)
	for rows.Next() {
		var ev models.AuditEvent
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Owner, &ev.Action, &ev.Resource, &ev.Reason, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Metadata)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteAuditEventsBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quest_audit_events WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteMessagesBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quest_messages WHERE ts < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
