package gate

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleSummary() Summary {
	return Summary{
		SchemaVersion:      SchemaVersion,
		RunID:              "run-1",
		OpenedAtUTC:        "2026-08-27T10:00:00Z",
		ResolvedAtUTC:      "2026-08-27T10:05:00Z",
		Status:             StatusPending,
		DecisionSource:     SourceTimeout,
		GracePeriodMinutes: 60,
		ReasonCodes:        []string{},
		EvaluationCount:    2,
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, ok, err := fs.Load(ctx, "run-1"); ok || err != nil {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	want := sampleSummary()
	if err := fs.Save(ctx, "run-1", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	got, ok, err := fs.Load(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded summary diverged:\n%+v\n%+v", got, want)
	}

	// Overwrite keeps exactly one snapshot.
	want.EvaluationCount = 3
	if err := fs.Save(ctx, "run-1", want); err != nil {
		t.Fatalf("second Save error: %v", err)
	}
	got, _, _ = fs.Load(ctx, "run-1")
	if got.EvaluationCount != 3 {
		t.Fatalf("overwrite lost: count=%d", got.EvaluationCount)
	}
}

func TestFileStore_CorruptSummary(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(fs.SummaryPath()), 0o700); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(fs.SummaryPath(), []byte("{truncated"), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	_, ok, err := fs.Load(ctx, "run-1")
	if ok {
		t.Fatal("corrupt summary reported as ok")
	}
	if !errors.Is(err, ErrCorruptSummary) {
		t.Fatalf("expected ErrCorruptSummary, got %v", err)
	}
}

func TestFileStore_CancelRead(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	if _, found, err := fs.Read(ctx, "run-1"); found || err != nil {
		t.Fatalf("expected no cancel file, got found=%v err=%v", found, err)
	}

	payload := []byte(`{"action":"cancel_publish","actor":"ops","reason":"x"}`)
	if err := os.MkdirAll(filepath.Dir(fs.CancelPath()), 0o700); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(fs.CancelPath(), payload, 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	got, found, err := fs.Read(ctx, "run-1")
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload diverged: %s", got)
	}
}

func TestFileStore_CancelReadCapped(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	ctx := context.Background()

	big := bytes.Repeat([]byte("x"), MaxCancelFileBytes*3)
	if err := os.MkdirAll(filepath.Dir(fs.CancelPath()), 0o700); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(fs.CancelPath(), big, 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	got, found, err := fs.Read(ctx, "run-1")
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	// Capped just past the ceiling; enough for the gate to see the overflow.
	if len(got) != MaxCancelFileBytes+1 {
		t.Fatalf("expected capped read of %d bytes, got %d", MaxCancelFileBytes+1, len(got))
	}
}

func TestTeeStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save_reaches_both", func(t *testing.T) {
		primary := NewMemoryStore()
		secondary := NewMemoryStore()
		tee := NewTeeStore(primary, secondary)

		if err := tee.Save(ctx, "run-1", sampleSummary()); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		if _, ok, _ := primary.Load(ctx, "run-1"); !ok {
			t.Fatal("summary missing from primary")
		}
		if _, ok, _ := secondary.Load(ctx, "run-1"); !ok {
			t.Fatal("summary missing from secondary")
		}
	})

	t.Run("load_falls_back_to_secondary", func(t *testing.T) {
		primary := NewMemoryStore()
		secondary := NewMemoryStore()
		if err := secondary.Save(ctx, "run-1", sampleSummary()); err != nil {
			t.Fatalf("Save error: %v", err)
		}

		got, ok, err := NewTeeStore(primary, secondary).Load(ctx, "run-1")
		if err != nil || !ok {
			t.Fatalf("Load: ok=%v err=%v", ok, err)
		}
		if got.RunID != "run-1" {
			t.Fatalf("loaded %+v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := st.Load(ctx, "run-1"); ok {
		t.Fatal("expected empty store")
	}
	want := sampleSummary()
	if err := st.Save(ctx, "run-1", want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, ok, err := st.Load(ctx, "run-1")
	if err != nil || !ok || got.RunID != "run-1" {
		t.Fatalf("Load: ok=%v err=%v got=%+v", ok, err, got)
	}

	st.SetCancel("run-1", []byte("{}"))
	if _, found, _ := st.Read(ctx, "run-1"); !found {
		t.Fatal("cancel not visible")
	}
	st.ClearCancel("run-1")
	if _, found, _ := st.Read(ctx, "run-1"); found {
		t.Fatal("cancel not cleared")
	}
}
