// Package store provides the template store: a load-once cache of raw
// template text in front of a pluggable backend.
//
// A path is fetched from the backend at most once. After that every lookup is
// served from memory until the entry is explicitly evicted. Concurrent misses
// for the same path share a single backend call.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/CTAG07/Sundew/pkg/templating"
	"golang.org/x/sync/singleflight"
)

// Loader fetches raw template text from a backend. A missing path should be
// reported with an error wrapping fs.ErrNotExist.
type Loader interface {
	Load(ctx context.Context, path string) (string, error)
}

// Writer is implemented by backends that can be edited through the API.
type Writer interface {
	Save(ctx context.Context, path, text string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context) ([]string, error)
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Loads   int64 `json:"loads"`
	Errors  int64 `json:"errors"`
}

// Store caches template text by path. It implements templating.Source.
type Store struct {
	loader Loader
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
	// gen changes on every Evict and Clear. A load started under an older
	// generation may have read text that is already stale, so it is not cached.
	gen   uint64
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
	errs   atomic.Int64
}

var _ templating.Source = (*Store)(nil)

// New creates a Store over loader.
func New(loader Loader, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		loader: loader,
		logger: logger,
		cache:  make(map[string]string),
	}
}

// Loader returns the backend the store reads from.
func (s *Store) Loader() Loader { return s.loader }

// Load returns the text for path, fetching it from the backend on first use.
// Failures are reported as templating.ErrTemplateNotFound; nothing is cached
// for a path that failed, so a later call retries the backend.
func (s *Store) Load(ctx context.Context, path string) (string, error) {
	s.mu.RLock()
	text, ok := s.cache[path]
	gen := s.gen
	s.mu.RUnlock()
	if ok {
		s.hits.Add(1)
		return text, nil
	}
	s.misses.Add(1)

	// The shared load must not fail because the caller that started it gave up.
	loadCtx := context.WithoutCancel(ctx)
	// Callers arriving after an Evict or Clear start a fresh load rather than
	// joining one that may have read the old text.
	key := strconv.FormatUint(gen, 10) + ":" + path
	ch := s.group.DoChan(key, func() (any, error) {
		if text, ok := s.Cached(path); ok {
			return text, nil
		}
		s.loads.Add(1)
		text, err := s.loader.Load(loadCtx, path)
		if err != nil {
			return "", err
		}
		return s.insert(path, text, gen), nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.errs.Add(1)
			s.logger.DebugContext(ctx, "Template load failed", "path", path, "error", res.Err)
			if errors.Is(res.Err, templating.ErrTemplateNotFound) {
				return "", res.Err
			}
			return "", templating.NewError(templating.ErrTemplateNotFound, path, res.Err)
		}
		return res.Val.(string), nil
	}
}

// insert caches text unless an entry already exists, and returns the entry.
// Text read under generation gen is returned but not cached once the
// generation has moved on.
func (s *Store) insert(path, text string, gen uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		s.logger.Debug("Discarded template loaded before eviction", "path", path)
		return text
	}
	if cur, ok := s.cache[path]; ok {
		return cur
	}
	s.cache[path] = text
	s.logger.Debug("Template cached", "path", path, "bytes", len(text))
	return text
}

// Cached returns the text for path if it is already in memory.
func (s *Store) Cached(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.cache[path]
	return text, ok
}

// Preload loads the given paths into the cache. With no paths and a backend
// that implements Writer, every listed template is loaded. All failures are
// returned together.
func (s *Store) Preload(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		w, ok := s.loader.(Writer)
		if !ok {
			return nil
		}
		listed, err := w.List(ctx)
		if err != nil {
			return err
		}
		paths = listed
	}
	var errs []error
	for _, p := range paths {
		if _, err := s.Load(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("Templates preloaded", "requested", len(paths), "failed", len(errs))
	return errors.Join(errs...)
}

// Evict drops path from the cache. The next Load fetches it again.
// A load already in flight for any path will not repopulate the cache.
func (s *Store) Evict(path string) {
	s.mu.Lock()
	delete(s.cache, path)
	s.gen++
	s.mu.Unlock()
}

// Clear drops every cached entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.gen++
	s.mu.Unlock()
	s.logger.Info("Template cache cleared")
}

// Paths returns the cached paths in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.cache))
	for p := range s.cache {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Stats returns the cache counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entries: s.Len(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Loads:   s.loads.Load(),
		Errors:  s.errs.Load(),
	}
}
