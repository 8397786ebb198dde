// Package store is the SQLite-backed repository for projects, episodes,
// narrative state, the facts ledger, batch/task state, and quality signals.
// Durable and read-after-write consistent within one process; no cross-process
// transactional guarantees are assumed or offered.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/serialist/internal/contract"
	"github.com/vampirenirmal/serialist/internal/narrative"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    premise    TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
    project_id TEXT NOT NULL,
    idx        INTEGER NOT NULL,
    status     TEXT NOT NULL,
    content    TEXT,
    reason     TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (project_id, idx)
);

CREATE TABLE IF NOT EXISTS narrative_states (
    project_id TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Append-only facts ledger: one row per accepted episode, never edited.
CREATE TABLE IF NOT EXISTS episode_facts (
    project_id  TEXT NOT NULL,
    episode_idx INTEGER NOT NULL,
    payload     TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    PRIMARY KEY (project_id, episode_idx)
);

CREATE TABLE IF NOT EXISTS reveals (
    project_id    TEXT NOT NULL,
    episode_idx   INTEGER NOT NULL,
    type          TEXT NOT NULL,
    scope         TEXT NOT NULL,
    no_repeat_key TEXT NOT NULL,
    PRIMARY KEY (project_id, episode_idx)
);

CREATE TABLE IF NOT EXISTS batches (
    project_id TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    project_id TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_signals (
    project_id  TEXT NOT NULL,
    episode_idx INTEGER NOT NULL,
    payload     TEXT NOT NULL,
    PRIMARY KEY (project_id, episode_idx)
);
`

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention
	// between the runner and pollers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, premise, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, premise = excluded.premise`,
		p.ID, p.Title, p.Premise, p.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, COALESCE(premise, ''), created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Premise, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

func (s *Store) SaveEpisode(ctx context.Context, e *Episode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (project_id, idx, status, content, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, idx) DO UPDATE SET
		   status = excluded.status, content = excluded.content,
		   reason = excluded.reason, updated_at = excluded.updated_at`,
		e.ProjectID, e.Index, string(e.Status), e.Content, e.Reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving episode %d: %w", e.Index, err)
	}
	return nil
}

func (s *Store) GetEpisode(ctx context.Context, projectID string, index int) (*Episode, error) {
	var e Episode
	var status string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, idx, status, COALESCE(content, ''), COALESCE(reason, ''), updated_at
		 FROM episodes WHERE project_id = ? AND idx = ?`, projectID, index).
		Scan(&e.ProjectID, &e.Index, &status, &e.Content, &e.Reason, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading episode %d: %w", index, err)
	}
	e.Status = EpisodeStatus(status)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}

// ListEpisodes returns all episodes of a project ordered by index.
func (s *Store) ListEpisodes(ctx context.Context, projectID string) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, idx, status, COALESCE(content, ''), COALESCE(reason, ''), updated_at
		 FROM episodes WHERE project_id = ? ORDER BY idx`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		var status string
		var updated int64
		if err := rows.Scan(&e.ProjectID, &e.Index, &status, &e.Content, &e.Reason, &updated); err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		e.Status = EpisodeStatus(status)
		e.UpdatedAt = time.UnixMilli(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveState(ctx context.Context, projectID string, state *narrative.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding narrative state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO narrative_states (project_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		projectID, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving narrative state: %w", err)
	}
	return nil
}

func (s *Store) GetState(ctx context.Context, projectID string) (*narrative.State, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM narrative_states WHERE project_id = ?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("narrative state for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading narrative state: %w", err)
	}
	var state narrative.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decoding narrative state: %w", err)
	}
	return &state, nil
}

// AppendFacts appends one record to the immutable facts ledger. Re-appending
// an index that already exists is an error, not an overwrite.
func (s *Store) AppendFacts(ctx context.Context, projectID string, rec narrative.FactsRecord) error {
	payload, err := json.Marshal(rec.Facts)
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO episode_facts (project_id, episode_idx, payload, created_at) VALUES (?, ?, ?, ?)`,
		projectID, rec.EpisodeIndex, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("appending facts for episode %d: %w", rec.EpisodeIndex, err)
	}
	return nil
}

// FactsHistory returns the full ledger ordered by episode index.
func (s *Store) FactsHistory(ctx context.Context, projectID string) ([]narrative.FactsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_idx, payload FROM episode_facts WHERE project_id = ? ORDER BY episode_idx`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading facts history: %w", err)
	}
	defer rows.Close()

	var out []narrative.FactsRecord
	for rows.Next() {
		var rec narrative.FactsRecord
		var payload string
		if err := rows.Scan(&rec.EpisodeIndex, &payload); err != nil {
			return nil, fmt.Errorf("scanning facts record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Facts); err != nil {
			return nil, fmt.Errorf("decoding facts record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AppendReveal(ctx context.Context, projectID string, rec contract.RevealRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reveals (project_id, episode_idx, type, scope, no_repeat_key) VALUES (?, ?, ?, ?, ?)`,
		projectID, rec.Episode, string(rec.Type), string(rec.Scope), rec.NoRepeatKey)
	if err != nil {
		return fmt.Errorf("appending reveal for episode %d: %w", rec.Episode, err)
	}
	return nil
}

func (s *Store) RevealHistory(ctx context.Context, projectID string) ([]contract.RevealRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode_idx, type, scope, no_repeat_key FROM reveals WHERE project_id = ? ORDER BY episode_idx`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading reveal history: %w", err)
	}
	defer rows.Close()

	var out []contract.RevealRecord
	for rows.Next() {
		var rec contract.RevealRecord
		var typ, scope string
		if err := rows.Scan(&rec.Episode, &typ, &scope, &rec.NoRepeatKey); err != nil {
			return nil, fmt.Errorf("scanning reveal: %w", err)
		}
		rec.Type = contract.RevealType(typ)
		rec.Scope = contract.RevealScope(scope)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SaveBatch(ctx context.Context, b *BatchState) error {
	b.UpdatedAt = time.Now()
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding batch state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (project_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		b.ProjectID, string(payload), b.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving batch state: %w", err)
	}
	return nil
}

// UpdateBatch applies mutate to the persisted batch inside one transaction
// and returns the updated state. Every writer that holds a batch snapshot
// must go through here instead of SaveBatch: CompleteEpisode folds human and
// machine completions into the persisted set concurrently, and a blind
// snapshot write would erase them.
func (s *Store) UpdateBatch(ctx context.Context, projectID string, mutate func(*BatchState)) (*BatchState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning batch update transaction: %w", err)
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM batches WHERE project_id = ?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading batch state: %w", err)
	}
	var b BatchState
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decoding batch state: %w", err)
	}
	if b.Completed == nil {
		b.Completed = make(EpisodeSet)
	}
	if b.Failed == nil {
		b.Failed = make(EpisodeSet)
	}

	mutate(&b)
	b.UpdatedAt = time.Now()
	updated, err := json.Marshal(&b)
	if err != nil {
		return nil, fmt.Errorf("encoding batch state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET payload = ?, updated_at = ? WHERE project_id = ?`,
		string(updated), b.UpdatedAt.UnixMilli(), projectID); err != nil {
		return nil, fmt.Errorf("updating batch state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch update: %w", err)
	}
	return &b, nil
}

func (s *Store) GetBatch(ctx context.Context, projectID string) (*BatchState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM batches WHERE project_id = ?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading batch state: %w", err)
	}
	var b BatchState
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decoding batch state: %w", err)
	}
	return &b, nil
}

func (s *Store) SaveTask(ctx context.Context, t *GenerationTask) error {
	t.UpdatedAt = time.Now()
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (project_id, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		t.ProjectID, string(payload), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, projectID string) (*GenerationTask, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tasks WHERE project_id = ?`, projectID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	var t GenerationTask
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	return &t, nil
}

func (s *Store) SaveSignals(ctx context.Context, projectID string, episodeIndex int, sig narrative.QualitySignals) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_signals (project_id, episode_idx, payload) VALUES (?, ?, ?)
		 ON CONFLICT(project_id, episode_idx) DO UPDATE SET payload = excluded.payload`,
		projectID, episodeIndex, string(payload))
	if err != nil {
		return fmt.Errorf("saving signals for episode %d: %w", episodeIndex, err)
	}
	return nil
}

// SignalReport aggregates per-episode signals into counts for read-only
// analytics consumers.
type SignalReport struct {
	Episodes           int `json:"episodes"`
	ConflictProgressed int `json:"conflict_progressed"`
	CostPaid           int `json:"cost_paid"`
	FactReused         int `json:"fact_reused"`
	NewReveal          int `json:"new_reveal"`
	PromiseAddressed   int `json:"promise_addressed"`
	StateCoherent      int `json:"state_coherent"`
}

func (s *Store) Signals(ctx context.Context, projectID string) (*SignalReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM quality_signals WHERE project_id = ? ORDER BY episode_idx`, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading signals: %w", err)
	}
	defer rows.Close()

	report := &SignalReport{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning signals: %w", err)
		}
		var sig narrative.QualitySignals
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			return nil, fmt.Errorf("decoding signals: %w", err)
		}
		report.Episodes++
		if sig.ConflictProgressed {
			report.ConflictProgressed++
		}
		if sig.CostPaid {
			report.CostPaid++
		}
		if sig.FactReused {
			report.FactReused++
		}
		if sig.NewReveal {
			report.NewReveal++
		}
		if sig.PromiseAddressed {
			report.PromiseAddressed++
		}
		if sig.StateCoherent {
			report.StateCoherent++
		}
	}
	return report, rows.Err()
}

// CompleteEpisode marks an episode COMPLETED and folds its index into the
// batch's completed set in one transaction. This is the only write path that
// does either, which is what keeps the completed set and the COMPLETED status
// in lockstep for every reader.
func (s *Store) CompleteEpisode(ctx context.Context, projectID string, index int, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning completion transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO episodes (project_id, idx, status, content, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, idx) DO UPDATE SET
		   status = excluded.status, content = excluded.content, reason = '', updated_at = excluded.updated_at`,
		projectID, index, string(EpisodeCompleted), content, now); err != nil {
		return fmt.Errorf("marking episode %d completed: %w", index, err)
	}

	var payload string
	err = tx.QueryRowContext(ctx, `SELECT payload FROM batches WHERE project_id = ?`, projectID).Scan(&payload)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("loading batch during completion: %w", err)
	}
	if err == nil {
		var b BatchState
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return fmt.Errorf("decoding batch during completion: %w", err)
		}
		if b.Completed == nil {
			b.Completed = make(EpisodeSet)
		}
		b.Completed.Add(index)
		b.UpdatedAt = time.UnixMilli(now)
		updated, err := json.Marshal(&b)
		if err != nil {
			return fmt.Errorf("encoding batch during completion: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE batches SET payload = ?, updated_at = ? WHERE project_id = ?`,
			string(updated), now, projectID); err != nil {
			return fmt.Errorf("updating batch during completion: %w", err)
		}
	}

	return tx.Commit()
}
