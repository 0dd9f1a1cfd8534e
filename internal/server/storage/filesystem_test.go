package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("connection dropped")
	}
	n := min(len(p), r.after)
	r.after -= n
	return n, nil
}

func TestFileSystemStore_Put(t *testing.T) {
	t.Run("saves blob to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		blob, err := store.Put(context.Background(), "notes.txt", strings.NewReader("test content"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if blob.Size != 12 {
			t.Errorf("expected 12 bytes written, got %d", blob.Size)
		}
		if !strings.HasSuffix(blob.Locator, ".txt") {
			t.Errorf("expected locator to keep extension, got %q", blob.Locator)
		}

		content, err := os.ReadFile(filepath.Join(dir, blob.Locator))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("creates missing root", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "uploads")
		store := NewFileSystemStore(dir)

		blob, err := store.Put(context.Background(), "a.bin", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, blob.Locator)); err != nil {
			t.Fatalf("blob not created: %v", err)
		}
	})

	t.Run("same name never collides", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		first, err := store.Put(context.Background(), "same.txt", strings.NewReader("one"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := store.Put(context.Background(), "same.txt", strings.NewReader("two"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first.Locator == second.Locator {
			t.Fatalf("expected distinct locators, got %q twice", first.Locator)
		}
	})

	t.Run("user path never reaches the filesystem", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		blob, err := store.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.ContainsAny(blob.Locator, `/\`) || strings.Contains(blob.Locator, "passwd") {
			t.Errorf("locator leaked user input: %q", blob.Locator)
		}
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, err := store.Put(context.Background(), "big.bin", &failingReader{after: 1024})
		if err == nil {
			t.Fatal("expected error from failing reader")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no files left behind, found %d", len(entries))
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		largeContent := bytes.Repeat([]byte("x"), 1024*1024)
		blob, err := store.Put(context.Background(), "large", bytes.NewReader(largeContent))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if blob.Size != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), blob.Size)
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	t.Run("round trips bytes", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		payload := []byte{0x00, 0xff, 0x10, 'a', '\n'}

		blob, err := store.Put(context.Background(), "raw.bin", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rc, err := store.Open(context.Background(), blob.Locator)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer rc.Close()

		got, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("failed to read blob: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("expected %v, got %v", payload, got)
		}
	})

	t.Run("returns ErrBlobNotFound for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		_, err := store.Open(context.Background(), "nonexistent.bin")
		if !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("expected ErrBlobNotFound, got %v", err)
		}
	})

	t.Run("rejects traversal locators", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		for _, locator := range []string{"../secret", "a/b", `a\b`, "..", ""} {
			if _, err := store.Open(context.Background(), locator); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("Open(%q): expected ErrBlobNotFound, got %v", locator, err)
			}
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing file", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		filePath := filepath.Join(dir, "del123.bin")
		os.WriteFile(filePath, []byte("data"), 0644)

		if err := store.Delete(context.Background(), "del123.bin"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := os.Stat(filePath); !os.IsNotExist(err) {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("no error for missing file", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.Delete(context.Background(), "nonexistent"); err != nil {
			t.Errorf("expected no error for missing file, got: %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	t.Run("lists locator files only", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		os.WriteFile(filepath.Join(dir, NewLocator("one.bin")), []byte("1"), 0644)
		os.WriteFile(filepath.Join(dir, NewLocator("two")), []byte("2"), 0644)
		os.WriteFile(filepath.Join(dir, ".keep"), nil, 0644)
		os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644)
		os.Mkdir(filepath.Join(dir, NewLocator("sub")), 0755)

		blobs, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(blobs) != 2 {
			t.Fatalf("expected 2 blobs, got %d: %+v", len(blobs), blobs)
		}
	})

	t.Run("missing root is empty", func(t *testing.T) {
		store := NewFileSystemStore(filepath.Join(t.TempDir(), "absent"))

		blobs, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(blobs) != 0 {
			t.Errorf("expected no blobs, got %d", len(blobs))
		}
	})
}

func TestFileSystemStore_EnsureReady(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureReady(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		if err := store.EnsureReady(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
