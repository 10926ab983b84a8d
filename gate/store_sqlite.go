package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteSummaryStore keeps one summary row per run, which also gives
// operators a queryable index over gate decisions across runs. The cancel
// signal stays file-based; pair this store with a FileStore CancelReader,
// and wrap both in a TeeStore so the file artifact keeps being written.
type SQLiteSummaryStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteSummaryStore(dsn string) (*SQLiteSummaryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteSummaryStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSummaryStore) Load(ctx context.Context, runID string) (Summary, bool, error) {
	if s == nil {
		return Summary{}, false, fmt.Errorf("nil summary store")
	}
	if err := s.ensureOpen(); err != nil {
		return Summary{}, false, err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Summary{}, false, nil
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `
SELECT summary_json FROM gate_summaries WHERE run_id = ?
`, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}

	var sum Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return Summary{}, false, fmt.Errorf("%w: %v", ErrCorruptSummary, err)
	}
	if err := sum.Validate(); err != nil {
		return Summary{}, false, fmt.Errorf("%w: %v", ErrCorruptSummary, err)
	}
	return sum, true, nil
}

func (s *SQLiteSummaryStore) Save(ctx context.Context, runID string, sum Summary) error {
	if s == nil {
		return fmt.Errorf("nil summary store")
	}
	if err := s.ensureOpen(); err != nil {
		return err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("missing run id")
	}

	b, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO gate_summaries (run_id, status, decision_source, summary_json, updated_at_unix)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  status = excluded.status,
  decision_source = excluded.decision_source,
  summary_json = excluded.summary_json,
  updated_at_unix = excluded.updated_at_unix
`, runID, string(sum.Status), string(sum.DecisionSource), string(b), time.Now().UTC().Unix())
	return err
}

func (s *SQLiteSummaryStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteSummaryStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteSummaryStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteSummaryStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS gate_summaries (
  run_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  decision_source TEXT NOT NULL,
  summary_json TEXT NOT NULL,
  updated_at_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gate_summaries_status ON gate_summaries(status);
`)
	return err
}
