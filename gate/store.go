package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrCorruptSummary marks a prior artifact that exists but cannot be parsed
// or validated. The gate recovers from it by restarting the run's history.
var ErrCorruptSummary = errors.New("corrupt gate summary")

// SummaryStore owns the persisted gate artifact. Load returns ok=false when
// no artifact exists for the run. Save must capture all evaluation effects
// in one write.
type SummaryStore interface {
	Load(ctx context.Context, runID string) (Summary, bool, error)
	Save(ctx context.Context, runID string, s Summary) error
}

// CancelReader exposes the operator cancellation signal. Read returns the
// raw bytes so the gate can enforce the size ceiling itself; implementations
// may cap reads just past MaxCancelFileBytes.
type CancelReader interface {
	Read(ctx context.Context, runID string) ([]byte, bool, error)
}

const (
	SummaryFileName = "approval_gate_summary.json"
	CancelFileName  = "cancel_publish.json"
)

// FileStore is the production store: one run directory holding
// artifacts/approval_gate_summary.json (gate-owned) and
// control/cancel_publish.json (operator-owned, read-only here).
type FileStore struct {
	Dir string
}

func NewFileStore(runDir string) *FileStore {
	return &FileStore{Dir: runDir}
}

func (f *FileStore) SummaryPath() string {
	return filepath.Join(f.Dir, "artifacts", SummaryFileName)
}

func (f *FileStore) CancelPath() string {
	return filepath.Join(f.Dir, "control", CancelFileName)
}

func (f *FileStore) Load(ctx context.Context, runID string) (Summary, bool, error) {
	_ = ctx
	b, err := os.ReadFile(f.SummaryPath())
	if errors.Is(err, os.ErrNotExist) {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return Summary{}, false, fmt.Errorf("%w: %v", ErrCorruptSummary, err)
	}
	if err := s.Validate(); err != nil {
		return Summary{}, false, fmt.Errorf("%w: %v", ErrCorruptSummary, err)
	}
	return s, true, nil
}

// Save writes the artifact via a temp file and rename so a crash mid-write
// leaves the prior snapshot intact.
func (f *FileStore) Save(ctx context.Context, runID string, s Summary) error {
	_ = ctx
	path := f.SummaryPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, SummaryFileName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Read reports found=true whenever the cancel file exists, even if it
// cannot be read; the gate treats a present-but-unreadable signal as
// invalid rather than absent.
func (f *FileStore) Read(ctx context.Context, runID string) ([]byte, bool, error) {
	_ = ctx
	if _, err := os.Stat(f.CancelPath()); errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	file, err := os.Open(f.CancelPath())
	if err != nil {
		return nil, true, err
	}
	defer file.Close()

	// One byte past the ceiling is enough for the gate to see the overflow.
	b, err := io.ReadAll(io.LimitReader(file, MaxCancelFileBytes+1))
	if err != nil {
		return nil, true, err
	}
	return b, true, nil
}

// TeeStore pairs an indexing store with the file artifact. Save must reach
// both so the on-disk summary downstream readers depend on is written even
// when an alternative primary store is configured. Load prefers the primary
// and falls back to the secondary when the run is absent there.
type TeeStore struct {
	Primary   SummaryStore
	Secondary SummaryStore
}

func NewTeeStore(primary, secondary SummaryStore) *TeeStore {
	return &TeeStore{Primary: primary, Secondary: secondary}
}

func (t *TeeStore) Load(ctx context.Context, runID string) (Summary, bool, error) {
	s, ok, err := t.Primary.Load(ctx, runID)
	if err != nil || ok {
		return s, ok, err
	}
	return t.Secondary.Load(ctx, runID)
}

func (t *TeeStore) Save(ctx context.Context, runID string, s Summary) error {
	if err := t.Primary.Save(ctx, runID, s); err != nil {
		return err
	}
	return t.Secondary.Save(ctx, runID, s)
}

// MemoryStore is an in-memory SummaryStore and CancelReader for tests.
type MemoryStore struct {
	mu        sync.Mutex
	summaries map[string]Summary
	cancels   map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]Summary),
		cancels:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Load(ctx context.Context, runID string) (Summary, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[runID]
	return s, ok, nil
}

func (m *MemoryStore) Save(ctx context.Context, runID string, s Summary) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[runID] = s
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, runID string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.cancels[runID]
	return b, ok, nil
}

// SetCancel installs a cancel payload for a run.
func (m *MemoryStore) SetCancel(runID string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[runID] = b
}

// ClearCancel removes the cancel payload for a run.
func (m *MemoryStore) ClearCancel(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, runID)
}
