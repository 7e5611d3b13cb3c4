// Package codebase provides CodebaseCache, the TTL-based repository map
// and file-content cache ArchitectWorker reads through
// instead of hitting the code host on every cycle (spec.md §4.7).
package codebase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/forgepipeline/core/codehost"
)

const (
	// DefaultMapTTL is the repo-map cache TTL, per spec.md §4.7.
	DefaultMapTTL = 15 * time.Minute
	// DefaultContentTTL is the file-content cache TTL, per spec.md §4.7.
	DefaultContentTTL = 30 * time.Minute
	// DefaultFetchConcurrency bounds in-flight code-host file fetches.
	DefaultFetchConcurrency = 5

	// bytesPerEstimatedLine approximates a file's line count from its
	// byte size when the code host doesn't report one directly.
	bytesPerEstimatedLine = 40
)

// defaultExcludedGlobs are directories and generated artifacts the
// repository map never surfaces.
var defaultExcludedGlobs = []string{
	"**/vendor/**",
	"**/node_modules/**",
	"**/.git/**",
	"**/migrations/**",
	"**/*_generated.go",
	"**/*.min.js",
	"**/go.sum",
	"**/package-lock.json",
	"**/dist/**",
	"**/build/**",
}

// defaultAllowedExtensions is the extension allow-list for files the map
// includes; an empty set would mean "allow everything".
var defaultAllowedExtensions = []string{
	".go", ".ts", ".tsx", ".js", ".jsx", ".py", ".rb", ".java", ".rs",
	".md", ".yaml", ".yml", ".json", ".sql", ".proto", ".sh", ".html", ".css",
}

// File is one entry in a repository map.
type File struct {
	Path         string
	EstimatedLines int
}

type mapEntry struct {
	files     []File
	fetchedAt time.Time
}

type contentEntry struct {
	content   string
	fetchedAt time.Time
}

// Stats holds the cache's hit/miss/invalidation counters.
type Stats struct {
	MapHits        int64
	MapMisses      int64
	ContentHits    int64
	ContentMisses  int64
	Invalidations  int64
}

// Cache is a process-wide, thread-safe repository map and file-content
// cache backed by a codehost.Client.
type Cache struct {
	client codehost.Client
	sem    *semaphore.Weighted
	group  singleflight.Group

	mapTTL     time.Duration
	contentTTL time.Duration

	allowedExtensions map[string]bool
	excludedGlobs     []string

	mu       sync.RWMutex
	maps     map[string]mapEntry
	contents map[string]contentEntry
	stats    Stats
}

// New builds a Cache over client with the default TTLs, filters, and
// fetch concurrency.
func New(client codehost.Client) *Cache {
	allowed := make(map[string]bool, len(defaultAllowedExtensions))
	for _, ext := range defaultAllowedExtensions {
		allowed[ext] = true
	}
	return &Cache{
		client:            client,
		sem:               semaphore.NewWeighted(DefaultFetchConcurrency),
		mapTTL:            DefaultMapTTL,
		contentTTL:        DefaultContentTTL,
		allowedExtensions: allowed,
		excludedGlobs:     defaultExcludedGlobs,
		maps:              make(map[string]mapEntry),
		contents:          make(map[string]contentEntry),
	}
}

func repoKey(owner, repo string) string { return owner + "/" + repo }

func contentKey(owner, repo, path string) string { return owner + "/" + repo + "#" + path }

// Map returns the filtered, cached file listing for (owner, repo),
// refetching from the code host on a cache miss or TTL expiry.
func (c *Cache) Map(ctx context.Context, owner, repo string) ([]File, error) {
	key := repoKey(owner, repo)

	c.mu.RLock()
	entry, ok := c.maps[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.mapTTL {
		c.mu.Lock()
		c.stats.MapHits++
		c.mu.Unlock()
		return entry.files, nil
	}

	c.mu.Lock()
	c.stats.MapMisses++
	c.mu.Unlock()

	// Concurrent misses for the same repo collapse onto one
	// ListRepoTree call instead of each issuing their own.
	v, err, _ := c.group.Do(key, func() (any, error) {
		tree, err := c.client.ListRepoTree(ctx, owner, repo)
		if err != nil {
			return nil, fmt.Errorf("codebase: list repo tree for %s: %w", key, err)
		}

		files := make([]File, 0, len(tree))
		for _, f := range tree {
			if c.excluded(f.Path) || !c.allowedExtension(f.Path) {
				continue
			}
			lines := int(f.SizeBytes / bytesPerEstimatedLine)
			if lines < 1 {
				lines = 1
			}
			files = append(files, File{Path: f.Path, EstimatedLines: lines})
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

		c.mu.Lock()
		c.maps[key] = mapEntry{files: files, fetchedAt: time.Now()}
		c.mu.Unlock()

		return files, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]File), nil
}

func (c *Cache) excluded(path string) bool {
	for _, glob := range c.excludedGlobs {
		if ok, _ := doublestar.Match(glob, path); ok {
			return true
		}
	}
	return false
}

func (c *Cache) allowedExtension(path string) bool {
	if len(c.allowedExtensions) == 0 {
		return true
	}
	idx := strings.LastIndex(path, ".")
	if idx == -1 {
		return false
	}
	return c.allowedExtensions[path[idx:]]
}

// KnownPaths returns the repository map's path set, for validating an
// ArchitectReview's impactedFiles against reality.
func (c *Cache) KnownPaths(ctx context.Context, owner, repo string) (map[string]bool, error) {
	files, err := c.Map(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(files))
	for _, f := range files {
		out[f.Path] = true
	}
	return out, nil
}

// RenderMap formats the repository map as a directory-grouped listing
// suitable for splicing into an LLM prompt.
func RenderMap(files []File) string {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "%s (~%d lines)\n", f.Path, f.EstimatedLines)
	}
	return sb.String()
}

// Content returns the cached text of (owner, repo, path), fetching on a
// cache miss or TTL expiry under the shared fetch semaphore.
func (c *Cache) Content(ctx context.Context, owner, repo, path string) (string, error) {
	key := contentKey(owner, repo, path)

	c.mu.RLock()
	entry, ok := c.contents[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.contentTTL {
		c.mu.Lock()
		c.stats.ContentHits++
		c.mu.Unlock()
		return entry.content, nil
	}

	c.mu.Lock()
	c.stats.ContentMisses++
	c.mu.Unlock()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("codebase: acquire fetch slot for %s: %w", path, err)
	}
	defer c.sem.Release(1)

	content, err := c.client.GetFileContent(ctx, owner, repo, path)
	if err != nil {
		return "", fmt.Errorf("codebase: fetch content of %s: %w", key, err)
	}

	c.mu.Lock()
	c.contents[key] = contentEntry{content: content, fetchedAt: time.Now()}
	c.mu.Unlock()

	return content, nil
}

// ContentBatch fetches every path in paths in parallel, bounded by the
// shared semaphore, returning whatever succeeded; failed fetches are
// omitted without being logged or reported, and the returned error is
// always nil (an architect proposal works from however many files it
// could read).
func (c *Cache) ContentBatch(ctx context.Context, owner, repo string, paths []string) ([]PathContent, error) {
	results := make([]PathContent, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			content, err := c.Content(ctx, owner, repo, path)
			results[i] = PathContent{Path: path, Content: content}
			errs[i] = err
		}(i, path)
	}
	wg.Wait()

	out := make([]PathContent, 0, len(paths))
	for i, r := range results {
		if errs[i] != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// PathContent pairs a fetched file's path with its text.
type PathContent struct {
	Path    string
	Content string
}

// Invalidate drops both caches for (owner, repo).
func (c *Cache) Invalidate(owner, repo string) {
	key := repoKey(owner, repo)
	prefix := key + "#"

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.maps, key)
	for k := range c.contents {
		if strings.HasPrefix(k, prefix) {
			delete(c.contents, k)
		}
	}
	c.stats.Invalidations++
}

// GetStats returns a snapshot of cache hit/miss/invalidation counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
