package jsonutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteFileAtomicAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts", "doc.json")

	if err := WriteFileAtomic(path, doc{Name: "a", Count: 1}); err != nil {
		t.Fatalf("WriteFileAtomic error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(string(raw), "\n  \"name\"") {
		t.Fatalf("output not pretty-printed: %s", raw)
	}
	if !strings.HasSuffix(string(raw), "\n") {
		t.Fatal("missing trailing newline")
	}

	var got doc
	found, err := ReadFile(path, &got)
	if err != nil || !found {
		t.Fatalf("ReadFile: found=%v err=%v", found, err)
	}
	if got != (doc{Name: "a", Count: 1}) {
		t.Fatalf("round trip diverged: %+v", got)
	}

	// No leftover temp files after a successful write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, found %d", len(entries))
	}
}

func TestReadFileMissing(t *testing.T) {
	var got doc
	found, err := ReadFile(filepath.Join(t.TempDir(), "nope.json"), &got)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if found {
		t.Fatal("missing file reported as found")
	}
}

func TestReadFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}
	var got doc
	found, err := ReadFile(path, &got)
	if !found {
		t.Fatal("existing file reported as missing")
	}
	if err == nil {
		t.Fatal("expected parse error")
	}
}
