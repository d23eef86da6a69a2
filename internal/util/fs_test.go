package util

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	t.Run("writes new file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.json")

		if err := AtomicWriteFile(path, []byte("hello"), 0600); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("content = %q, want %q", data, "hello")
		}
	})

	t.Run("replaces existing file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.json")

		if err := os.WriteFile(path, []byte("old"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := AtomicWriteFile(path, []byte("new"), 0600); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}

		data, _ := os.ReadFile(path)
		if string(data) != "new" {
			t.Errorf("content = %q, want %q", data, "new")
		}
	})

	t.Run("sets file mode", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file modes not meaningful on windows")
		}
		dir := t.TempDir()
		path := filepath.Join(dir, "out.json")

		if err := AtomicWriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatalf("AtomicWriteFile failed: %v", err)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("mode = %o, want 0600", info.Mode().Perm())
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.json")

		if err := AtomicWriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.Contains(e.Name(), ".tmp.") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("fails when directory missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "out.json")
		if err := AtomicWriteFile(path, []byte("x"), 0600); err == nil {
			t.Error("expected error for missing parent directory")
		}
	})
}

func TestWriteJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	in := map[string]any{"name": "overseer", "count": 3}
	if err := WriteJSONFile(path, in, 0600); err != nil {
		t.Fatalf("WriteJSONFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Pretty-printed with two-space indent.
	if !strings.Contains(string(data), "  \"name\": \"overseer\"") {
		t.Errorf("output not two-space indented: %q", data)
	}

	var out map[string]any
	if err := ReadJSONFile(path, &out); err != nil {
		t.Fatalf("ReadJSONFile failed: %v", err)
	}
	if out["name"] != "overseer" {
		t.Errorf("round trip name = %v", out["name"])
	}
}

func TestReadJSONFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		var v map[string]any
		err := ReadJSONFile(filepath.Join(dir, "nope.json"), &v)
		if !os.IsNotExist(err) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
			t.Fatal(err)
		}
		var v map[string]any
		if err := ReadJSONFile(path, &v); err == nil {
			t.Error("expected parse error")
		}
	})
}
