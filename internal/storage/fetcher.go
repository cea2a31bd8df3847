package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads sets of objects in parallel into a local cache
// directory. Objects already present in the cache are not downloaded again;
// this is safe because published objects are never replaced.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	cacheDir    string
}

// FetchResult maps object paths to local files.
type FetchResult struct {
	LocalPaths map[string]string
	CacheHits  int
	Downloads  int
}

// NewFetcher creates a fetcher. concurrency bounds parallel downloads.
func NewFetcher(storage ObjectStorage, concurrency int, cacheDir string) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{storage: storage, concurrency: concurrency, cacheDir: cacheDir}
}

// Fetch downloads every object. It fails if any download fails, reporting
// the failures in object-path order.
func (f *Fetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{LocalPaths: make(map[string]string, len(objectPaths))}

	var queue []string
	for _, p := range objectPaths {
		local, err := f.localPath(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[p] = local
			result.CacheHits++
			continue
		}
		queue = append(queue, p)
	}

	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := make(map[string]error)

	for _, p := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failures[p] = err
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath string) {
			defer sem.Release(1)
			defer wg.Done()

			local, _ := f.localPath(objectPath)
			// Download to a temporary name so an interrupted fetch never
			// leaves a partial file that later looks like a cache hit.
			tmp := local + ".part"
			err := f.storage.Download(ctx, objectPath, tmp)
			if err == nil {
				err = os.Rename(tmp, local)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				os.Remove(tmp)
				failures[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
			result.Downloads++
		}(p)
	}
	wg.Wait()

	if len(failures) > 0 {
		paths := make([]string, 0, len(failures))
		for p := range failures {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return nil, fmt.Errorf("storage: failed to fetch %s: %w", paths[0], failures[paths[0]])
	}
	return result, nil
}

// localPath maps an object path under the cache directory, rejecting paths
// that would escape it.
func (f *Fetcher) localPath(objectPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: object path %q escapes the cache directory", objectPath)
	}
	local := filepath.Join(f.cacheDir, clean)
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return "", fmt.Errorf("storage: failed to create cache directory: %w", err)
	}
	return local, nil
}
