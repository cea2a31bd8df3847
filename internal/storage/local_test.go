package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	ferrors "github.com/arkilian/churnfeat/internal/errors"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_PutDownloadOpen(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	srcPath := writeTemp(t, "hello world")
	objectPath := "runs/abc/plan.json"

	if err := storage.PutIfAbsent(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("PutIfAbsent failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(t.TempDir(), "nested", "downloaded.txt")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != "hello world" {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	rc, err := storage.Open(ctx, objectPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "hello world" {
		t.Errorf("Open content mismatch: got %q", body)
	}
}

func TestLocalStorage_PutIfAbsentRefusesOverwrite(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	if err := storage.PutIfAbsent(ctx, writeTemp(t, "first"), "obj.txt"); err != nil {
		t.Fatalf("first put failed: %v", err)
	}

	err = storage.PutIfAbsent(ctx, writeTemp(t, "second"), "obj.txt")
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
	if ferrors.IsRetryable(err) {
		t.Error("overwrite refusal must not be retryable")
	}

	rc, _ := storage.Open(ctx, "obj.txt")
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "first" {
		t.Errorf("object was replaced: %q", body)
	}
}

func TestLocalStorage_ConcurrentPutIfAbsent(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "payload")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := storage.PutIfAbsent(ctx, src, "race.txt"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly one writer should win, got %d", wins)
	}
}

func TestLocalStorage_NotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	err = storage.Download(ctx, "nonexistent/object.txt", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := storage.Open(ctx, "nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "x")

	for _, p := range []string{"runs/b/manifest.json", "runs/a/plan.json", "runs/a/manifest.json", "other/x"} {
		if err := storage.PutIfAbsent(ctx, src, p); err != nil {
			t.Fatalf("PutIfAbsent(%s) failed: %v", p, err)
		}
	}

	got, err := storage.ListObjects(ctx, "runs")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"runs/a/manifest.json", "runs/a/plan.json", "runs/b/manifest.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	empty, err := storage.ListObjects(ctx, "missing")
	if err != nil || len(empty) != 0 {
		t.Errorf("missing prefix: got %v, %v", empty, err)
	}
}

func TestFetcher_DownloadsAndCaches(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	paths := []string{"runs/r1/a.json", "runs/r1/b.json", "runs/r1/c.json"}
	for _, p := range paths {
		if err := storage.PutIfAbsent(ctx, writeTemp(t, p), p); err != nil {
			t.Fatalf("PutIfAbsent failed: %v", err)
		}
	}

	cache := t.TempDir()
	fetcher := NewFetcher(storage, 2, cache)

	res, err := fetcher.Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.Downloads != 3 || res.CacheHits != 0 {
		t.Errorf("first fetch: downloads=%d hits=%d", res.Downloads, res.CacheHits)
	}
	body, err := os.ReadFile(res.LocalPaths["runs/r1/b.json"])
	if err != nil || string(body) != "runs/r1/b.json" {
		t.Errorf("cached content = %q, %v", body, err)
	}

	res, err = fetcher.Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if res.Downloads != 0 || res.CacheHits != 3 {
		t.Errorf("second fetch: downloads=%d hits=%d", res.Downloads, res.CacheHits)
	}
}

func TestFetcher_Errors(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	fetcher := NewFetcher(storage, 4, t.TempDir())

	_, err = fetcher.Fetch(context.Background(), []string{"runs/none/plan.json"})
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}

	if _, err := fetcher.Fetch(context.Background(), []string{"../escape"}); err == nil {
		t.Error("expected path escape to be rejected")
	}
}
