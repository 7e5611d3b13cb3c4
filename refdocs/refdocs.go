// Package refdocs loads and caches the reference documents (product
// objectives, sales positioning) that TriageWorker and ArchitectWorker
// splice into their system prompts (spec.md §2 RefDocStore, 3% share).
package refdocs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store caches the text of reference documents loaded from a directory,
// re-reading a file only after its TTL expires.
type Store struct {
	dir string
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]entry
}

type entry struct {
	content   string
	loadedAt  time.Time
}

// New creates a Store reading markdown files from dir.
func New(dir string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{dir: dir, ttl: ttl, cache: make(map[string]entry)}
}

// Well-known document names.
const (
	DocProductObjectives = "product-objectives.md"
	DocSalesPositioning  = "sales-positioning.md"
	DocCodingConventions = "coding-conventions.md"
)

// Get returns the cached contents of name, reloading from disk if the TTL
// has elapsed. Missing files return an empty string, not an error — a
// worker operating without reference docs degrades gracefully rather than
// refusing to run.
func (s *Store) Get(name string) string {
	s.mu.RLock()
	e, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && time.Since(e.loadedAt) < s.ttl {
		return e.content
	}

	content, _ := os.ReadFile(filepath.Join(s.dir, name))

	s.mu.Lock()
	s.cache[name] = entry{content: string(content), loadedAt: time.Now()}
	s.mu.Unlock()

	return string(content)
}

// Invalidate forces the next Get(name) to reload from disk.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

// ProductAndSalesContext returns the concatenated objectives + sales
// positioning documents used as the PO triage system prompt suffix.
func (s *Store) ProductAndSalesContext() string {
	obj := s.Get(DocProductObjectives)
	sales := s.Get(DocSalesPositioning)
	if obj == "" && sales == "" {
		return ""
	}
	return fmt.Sprintf("## Product Objectives\n\n%s\n\n## Sales Positioning\n\n%s\n", obj, sales)
}
