package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newSQLiteStore(t *testing.T) *SQLiteSummaryStore {
	t.Helper()
	st, err := NewSQLiteSummaryStore(filepath.Join(t.TempDir(), "gate.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSummaryStore error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	want := sampleSummary()

	if err := st.Save(context.Background(), "run-1", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, ok, err := st.Load(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}

	if _, ok, err := st.Load(context.Background(), "other-run"); err != nil || ok {
		t.Fatalf("Load unknown run: ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	st := newSQLiteStore(t)

	first := sampleSummary()
	if err := st.Save(context.Background(), "run-1", first); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	second := first
	second.Status = StatusApprovedByTimeout
	second.EvaluationCount = first.EvaluationCount + 1
	if err := st.Save(context.Background(), "run-1", second); err != nil {
		t.Fatalf("second Save error: %v", err)
	}

	got, ok, err := st.Load(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusApprovedByTimeout || got.EvaluationCount != second.EvaluationCount {
		t.Fatalf("loaded %+v after upsert", got)
	}
}

func TestSQLiteStore_CorruptRow(t *testing.T) {
	st := newSQLiteStore(t)

	_, err := st.db.Exec(`
INSERT INTO gate_summaries (run_id, status, decision_source, summary_json, updated_at_unix)
VALUES ('run-bad', 'pending', 'timeout', '{not json', 0)
`)
	if err != nil {
		t.Fatalf("insert error: %v", err)
	}

	if _, _, err := st.Load(context.Background(), "run-bad"); !errors.Is(err, ErrCorruptSummary) {
		t.Fatalf("expected ErrCorruptSummary, got %v", err)
	}
}

// The sqlite store is always paired with the file artifact so downstream
// readers of artifacts/approval_gate_summary.json keep working.
func TestSQLiteTeeStore_WritesFileArtifact(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(dir)
	st := newSQLiteStore(t)

	g := New(Config{Enabled: false, GraceMinutesRaw: "60"}, NewTeeStore(st, fs), fs, nil, nil)
	out, err := g.Evaluate(context.Background(), "run-1", t0)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !out.Approved() {
		t.Fatalf("expected approved, got %s", out.State)
	}

	if _, err := os.Stat(fs.SummaryPath()); err != nil {
		t.Fatalf("file artifact missing after evaluation: %v", err)
	}
	fromFile, ok, err := fs.Load(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("file Load: ok=%v err=%v", ok, err)
	}
	fromDB, ok, err := st.Load(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("sqlite Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(fromFile, fromDB) {
		t.Fatalf("stores diverged: file=%+v sqlite=%+v", fromFile, fromDB)
	}
}
