// Package store: in-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests).
// Supports file-based snapshot persistence so data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/izik-adio/zik-back-sub000/pkg/models"
	"github.com/rs/zerolog/log"
)

// maxAuditEvents bounds the in-memory audit log; oldest entries are dropped.
const maxAuditEvents = 10000

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Goals       map[string]*models.Goal           `json:"goals"`       // key: owner:id
	Milestones  map[string]*models.Milestone      `json:"milestones"`  // key: owner:id
	Tasks       map[string]*models.Task           `json:"tasks"`       // key: owner:id
	Rules       map[string]*models.RecurrenceRule `json:"rules"`       // key: owner:id
	Messages    map[string][]*models.Message      `json:"messages"`    // key: owner
	Profiles    map[string]*models.Profile        `json:"profiles"`    // key: owner
	AuditEvents []*models.AuditEvent              `json:"audit_events"`
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	goals       map[string]*models.Goal
	milestones  map[string]*models.Milestone
	tasks       map[string]*models.Task
	rules       map[string]*models.RecurrenceRule
	messages    map[string][]*models.Message // append-only, sorted by timestamp
	profiles    map[string]*models.Profile
	auditEvents []*models.AuditEvent

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// data is persisted to dataDir/quests.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		goals:      make(map[string]*models.Goal),
		milestones: make(map[string]*models.Milestone),
		tasks:      make(map[string]*models.Task),
		rules:      make(map[string]*models.RecurrenceRule),
		messages:   make(map[string][]*models.Message),
		profiles:   make(map[string]*models.Profile),
		saveCh:     make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "quests.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Goals:       m.goals,
		Milestones:  m.milestones,
		Tasks:       m.tasks,
		Rules:       m.rules,
		Messages:    m.messages,
		Profiles:    m.profiles,
		AuditEvents: m.auditEvents,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Goals != nil {
		m.goals = snap.Goals
	}
	if snap.Milestones != nil {
		m.milestones = snap.Milestones
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Rules != nil {
		m.rules = snap.Rules
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}
	if snap.Profiles != nil {
		m.profiles = snap.Profiles
	}
	m.auditEvents = snap.AuditEvents

	log.Info().
		Int("goals", len(m.goals)).
		Int("milestones", len(m.milestones)).
		Int("tasks", len(m.tasks)).
		Msg("📂 Loaded snapshot from disk")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func key(parts ...string) string {
	return strings.Join(parts, ":")
}

// ── Goal Store ──────────────────────────────────────────────

func (m *MemoryStore) GetGoal(_ context.Context, owner, id string) (*models.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[key(owner, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "epic", Key: id}
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) ListGoals(_ context.Context, owner string, status models.GoalStatus) ([]models.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Goal, 0)
	for _, g := range m.goals {
		if g.Owner != owner {
			continue
		}
		if status != "" && g.Status != status {
			continue
		}
		result = append(result, *g)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) CreateGoal(_ context.Context, goal *models.Goal) error {
	m.mu.Lock()
	cp := *goal
	m.goals[key(goal.Owner, goal.ID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateGoal(_ context.Context, goal *models.Goal) error {
	m.mu.Lock()
	k := key(goal.Owner, goal.ID)
	if _, ok := m.goals[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "epic", Key: goal.ID}
	}
	cp := *goal
	cp.UpdatedAt = time.Now().UTC()
	m.goals[k] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteGoal(_ context.Context, owner, id string) error {
	m.mu.Lock()
	k := key(owner, id)
	if _, ok := m.goals[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "epic", Key: id}
	}
	delete(m.goals, k)
	for mk, ms := range m.milestones {
		if ms.Owner == owner && ms.EpicID == id {
			delete(m.milestones, mk)
		}
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Milestone Store ─────────────────────────────────────────

func (m *MemoryStore) ListMilestones(_ context.Context, owner, epicID string) ([]models.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Milestone, 0)
	for _, ms := range m.milestones {
		if ms.Owner == owner && ms.EpicID == epicID {
			result = append(result, *ms)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Sequence < result[j].Sequence })
	return result, nil
}

func (m *MemoryStore) GetMilestone(_ context.Context, owner, id string) (*models.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.milestones[key(owner, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "milestone", Key: id}
	}
	cp := *ms
	return &cp, nil
}

func (m *MemoryStore) GetMilestoneBySequence(_ context.Context, owner, epicID string, sequence int) (*models.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.milestones {
		if ms.Owner == owner && ms.EpicID == epicID && ms.Sequence == sequence {
			cp := *ms
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "milestone", Key: key(epicID, strconv.Itoa(sequence))}
}

func (m *MemoryStore) CreateMilestones(_ context.Context, milestones []models.Milestone) error {
	m.mu.Lock()
	for i := range milestones {
		ms := milestones[i]
		for _, existing := range m.milestones {
			if existing.Owner == ms.Owner && existing.EpicID == ms.EpicID && existing.Sequence == ms.Sequence {
				m.mu.Unlock()
				return ErrConflict
			}
		}
	}
	for i := range milestones {
		cp := milestones[i]
		m.milestones[key(cp.Owner, cp.ID)] = &cp
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) TransitionMilestone(_ context.Context, owner, id string, from, to models.MilestoneStatus) error {
	m.mu.Lock()
	ms, ok := m.milestones[key(owner, id)]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "milestone", Key: id}
	}
	if ms.Status != from {
		m.mu.Unlock()
		return ErrConflict
	}
	ms.Status = to
	ms.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Task Store ──────────────────────────────────────────────

func (m *MemoryStore) GetTask(_ context.Context, owner, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[key(owner, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "daily-task", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasksDue(_ context.Context, owner, date string) ([]models.Task, error) {
	return m.filterTasks(func(t *models.Task) bool {
		return t.Owner == owner && t.DueDate == date
	}), nil
}

func (m *MemoryStore) ListTasksByMilestone(_ context.Context, owner, milestoneID string) ([]models.Task, error) {
	return m.filterTasks(func(t *models.Task) bool {
		return t.Owner == owner && t.MilestoneID == milestoneID
	}), nil
}

func (m *MemoryStore) filterTasks(keep func(*models.Task) bool) []models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Task, 0)
	for _, t := range m.tasks {
		if keep(t) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	cp := *task
	m.tasks[key(task.Owner, task.ID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	k := key(task.Owner, task.ID)
	if _, ok := m.tasks[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "daily-task", Key: task.ID}
	}
	cp := *task
	cp.UpdatedAt = time.Now().UTC()
	m.tasks[k] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, owner, id string) error {
	m.mu.Lock()
	k := key(owner, id)
	if _, ok := m.tasks[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "daily-task", Key: id}
	}
	delete(m.tasks, k)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Recurrence Store ────────────────────────────────────────

func (m *MemoryStore) GetRecurrenceRule(_ context.Context, owner, id string) (*models.RecurrenceRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[key(owner, id)]
	if !ok {
		return nil, &ErrNotFound{Entity: "recurrence-rule", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateRecurrenceRule(_ context.Context, rule *models.RecurrenceRule) error {
	m.mu.Lock()
	cp := *rule
	m.rules[key(rule.Owner, rule.ID)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateRecurrenceRule(_ context.Context, rule *models.RecurrenceRule) error {
	m.mu.Lock()
	k := key(rule.Owner, rule.ID)
	if _, ok := m.rules[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "recurrence-rule", Key: rule.ID}
	}
	cp := *rule
	cp.UpdatedAt = time.Now().UTC()
	m.rules[k] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteRecurrenceRule(_ context.Context, owner, id string) error {
	m.mu.Lock()
	k := key(owner, id)
	if _, ok := m.rules[k]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "recurrence-rule", Key: id}
	}
	delete(m.rules, k)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	cp := *msg
	list := append(m.messages[msg.Owner], &cp)
	// Keep timestamp order even if clocks hand us an out-of-order write.
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	m.messages[msg.Owner] = list
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListRecentMessages(_ context.Context, owner string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.messages[owner]
	start := 0
	if limit > 0 && len(list) > limit {
		start = len(list) - limit
	}
	result := make([]models.Message, 0, len(list)-start)
	for _, msg := range list[start:] {
		result = append(result, *msg)
	}
	return result, nil
}

// ── Profile Store ───────────────────────────────────────────

func (m *MemoryStore) GetProfile(_ context.Context, owner string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[owner]
	if !ok {
		return nil, &ErrNotFound{Entity: "profile", Key: owner}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpsertProfile(_ context.Context, profile *models.Profile) error {
	m.mu.Lock()
	cp := *profile
	m.profiles[profile.Owner] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Audit Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateAuditEvent(_ context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	cp := *event
	m.auditEvents = append(m.auditEvents, &cp)
	if len(m.auditEvents) > maxAuditEvents {
		m.auditEvents = m.auditEvents[len(m.auditEvents)-maxAuditEvents:]
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, owner string, limit int) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AuditEvent, 0)
	// Newest first
	for i := len(m.auditEvents) - 1; i >= 0; i-- {
		ev := m.auditEvents[i]
		if owner != "" && ev.Owner != owner {
			continue
		}
		result = append(result, *ev)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ── Retention ───────────────────────────────────────────────

func (m *MemoryStore) ListAuditEventsBefore(_ context.Context, before time.Time) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AuditEvent, 0)
	for _, ev := range m.auditEvents {
		if ev.Timestamp.Before(before) {
			result = append(result, *ev)
		}
	}
	return result, nil
}

func (m *MemoryStore) DeleteAuditEventsBefore(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	kept := m.auditEvents[:0]
	for _, ev := range m.auditEvents {
		if !ev.Timestamp.Before(before) {
			kept = append(kept, ev)
		}
	}
	removed := len(m.auditEvents) - len(kept)
	m.auditEvents = kept
	m.mu.Unlock()
	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}

func (m *MemoryStore) DeleteMessagesBefore(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	removed := 0
	for owner, list := range m.messages {
		// Lists are timestamp-ordered, so the expired ones form a prefix.
		n := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(before) })
		if n == 0 {
			continue
		}
		removed += n
		if n == len(list) {
			delete(m.messages, owner)
			continue
		}
		m.messages[owner] = append([]*models.Message(nil), list[n:]...)
	}
	m.mu.Unlock()
	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}
