package filetool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	tool, _ := newTestTool(t)
	ctx := context.Background()

	if err := tool.Write(ctx, "notes.txt", "line1\nline2\nline3", false); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := tool.Read(ctx, "notes.txt", 1, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.TotalLines != 3 {
		t.Fatalf("expected 3 lines, got %d", res.TotalLines)
	}
	if !strings.Contains(res.Content, "   1 | line1") {
		t.Fatalf("expected 1-indexed formatted output, got %q", res.Content)
	}
}

func TestWriteRefusedOnExternalModification(t *testing.T) {
	tool, base := newTestTool(t)
	ctx := context.Background()

	if err := tool.Write(ctx, "shared.txt", "v1", false); err != nil {
		t.Fatalf("initial write: %v", err)
	}
	if _, err := tool.Read(ctx, "shared.txt", 1, 0); err != nil {
		t.Fatalf("read: %v", err)
	}

	// Simulate an external process modifying the file after our last
	// observation, forcing a distinct mtime.
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(base, "shared.txt"), []byte("external edit"), 0o644); err != nil {
		t.Fatalf("external write: %v", err)
	}

	err := tool.Write(ctx, "shared.txt", "v2", false)
	if err == nil {
		t.Fatalf("expected write to be refused after external modification")
	}
	if !strings.Contains(err.Error(), "read it again") {
		t.Fatalf("expected a 'read it again' hint, got %q", err.Error())
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	tool, _ := newTestTool(t)
	ctx := context.Background()

	if err := tool.Write(ctx, "f.txt", "v1", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := tool.Read(ctx, "f.txt", 1, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := tool.Write(ctx, "f.txt", "v2", false); err != nil {
		t.Fatalf("second write: %v", err)
	}
	res, err := tool.Read(ctx, "f.txt", 1, 0)
	if err != nil {
		t.Fatalf("read after second write: %v", err)
	}
	if !strings.Contains(res.Content, "v2") {
		t.Fatalf("expected updated content after cache invalidation, got %q", res.Content)
	}
}

func TestReadRefusesOversizedFiles(t *testing.T) {
	tool, base := newTestTool(t)
	big := strings.Repeat("x", 100)
	if err := os.WriteFile(filepath.Join(base, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}
	tool.maxReadBytes = 10

	_, err := tool.Read(context.Background(), "big.txt", 1, 0)
	if err == nil {
		t.Fatalf("expected an error for a file over the read ceiling")
	}
}

func TestDeleteForgetsTrackerState(t *testing.T) {
	tool, _ := newTestTool(t)
	ctx := context.Background()
	if err := tool.Write(ctx, "gone.txt", "x", false); err != nil {
		t.Fatal(err)
	}
	if err := tool.Delete(ctx, "gone.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err := tool.Exists("gone.txt")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatalf("expected file to no longer exist")
	}
}

func TestListRecursiveAndGlob(t *testing.T) {
	tool, base := newTestTool(t)
	os.MkdirAll(filepath.Join(base, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(base, "a", "one.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(base, "a", "b", "two.go"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(base, "a", "note.txt"), []byte("x"), 0o644)

	entries, err := tool.List("a", true, "*.go")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir {
			names = append(names, e.Path)
		}
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 .go files, got %v", names)
	}
}

func TestSearchFindsMatchesAndTruncates(t *testing.T) {
	tool, base := newTestTool(t)
	os.WriteFile(filepath.Join(base, "log.txt"), []byte("error: one\nok\nerror: two\nerror: three\n"), 0o644)

	res, err := tool.Search(".", "error:", "", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches under cap, got %d", len(res.Matches))
	}
	if !res.Truncated {
		t.Fatalf("expected truncated=true")
	}
}

func TestSearchCachesResultsUntilWriteInvalidates(t *testing.T) {
	tool, base := newTestTool(t)
	logPath := filepath.Join(base, "log.txt")
	os.WriteFile(logPath, []byte("error: one\n"), 0o644)

	first, err := tool.Search(".", "error:", "", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(first.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(first.Matches))
	}

	// A second matching line is added on disk directly (bypassing Write, so
	// the cache is not invalidated); a cache hit should still return the
	// stale first result rather than re-walking the filesystem.
	os.WriteFile(logPath, []byte("error: one\nerror: two\n"), 0o644)
	cached, err := tool.Search(".", "error:", "", 0)
	if err != nil {
		t.Fatalf("search (cached): %v", err)
	}
	if len(cached.Matches) != 1 {
		t.Fatalf("expected cached search to still report 1 match, got %d", len(cached.Matches))
	}

	if err := tool.Write(context.Background(), "log.txt", "error: one\nerror: two\n", false); err != nil {
		t.Fatalf("write: %v", err)
	}
	fresh, err := tool.Search(".", "error:", "", 0)
	if err != nil {
		t.Fatalf("search (post-write): %v", err)
	}
	if len(fresh.Matches) != 2 {
		t.Fatalf("expected write to invalidate the search cache and surface 2 matches, got %d", len(fresh.Matches))
	}
}

func TestBatchReadRejectsOverCap(t *testing.T) {
	tool, _ := newTestTool(t)
	paths := make([]string, MaxBatchRead+1)
	for i := range paths {
		paths[i] = "x.txt"
	}
	_, err := tool.BatchRead(context.Background(), paths, 1, 0)
	if err == nil {
		t.Fatalf("expected an error when exceeding the batch_read cap")
	}
}
