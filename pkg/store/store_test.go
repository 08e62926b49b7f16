package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CTAG07/Sundew/pkg/templating"
	_ "github.com/mattn/go-sqlite3"
)

// countingLoader serves fixed templates and counts backend calls. When gate is
// set, every load waits for it to be closed.
type countingLoader struct {
	templates map[string]string
	calls     atomic.Int64
	gate      chan struct{}
}

func (c *countingLoader) Load(ctx context.Context, path string) (string, error) {
	c.calls.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	text, ok := c.templates[path]
	if !ok {
		return "", fs.ErrNotExist
	}
	return text, nil
}

func newTestStore(tb testing.TB, loader Loader) *Store {
	tb.Helper()
	return New(loader, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_LoadOnce(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{"a": "A"}}
	s := newTestStore(t, loader)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		text, err := s.Load(ctx, "a")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if text != "A" {
			t.Errorf("expected 'A', got '%s'", text)
		}
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}
	if text, ok := s.Cached("a"); !ok || text != "A" {
		t.Errorf("expected 'a' to be cached, got %q %v", text, ok)
	}
	st := s.Stats()
	if st.Hits != 2 || st.Misses != 1 || st.Loads != 1 || st.Entries != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestStore_NotFound(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{}}
	s := newTestStore(t, loader)

	_, err := s.Load(context.Background(), "nope")
	if !errors.Is(err, templating.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("the backend cause should be kept, got %v", err)
	}
	if _, ok := s.Cached("nope"); ok {
		t.Error("failed loads must not be cached")
	}
	_, _ = s.Load(context.Background(), "nope")
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("a failed load should be retried, got %d backend calls", n)
	}
}

func TestStore_ConcurrentLoadsCoalesce(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{"a": "A"}, gate: make(chan struct{})}
	s := newTestStore(t, loader)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := s.Load(context.Background(), "a")
			if err != nil {
				t.Errorf("Load failed: %v", err)
				return
			}
			results <- text
		}()
	}

	// Wait until the shared load has reached the backend, then release it.
	deadline := time.Now().Add(5 * time.Second)
	for loader.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(loader.gate)
	wg.Wait()
	close(results)

	for text := range results {
		if text != "A" {
			t.Errorf("expected 'A', got '%s'", text)
		}
	}
	// Callers arriving after the first load finished are served from the cache,
	// so the backend is only ever called once.
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("expected concurrent loads to share 1 backend call, got %d", n)
	}
}

func TestStore_CanceledCallerDoesNotPoisonLoad(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{"a": "A"}, gate: make(chan struct{})}
	s := newTestStore(t, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Load(ctx, "a")
		done <- err
	}()
	for loader.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(loader.gate)
	text, err := s.Load(context.Background(), "a")
	if err != nil || text != "A" {
		t.Errorf("expected 'A' after the canceled caller, got %q (%v)", text, err)
	}
}

func TestStore_EvictAndClear(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{"a": "A", "b": "B"}}
	s := newTestStore(t, loader)
	ctx := context.Background()

	if err := s.Preload(ctx, "a", "b"); err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if got := s.Paths(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected paths [a b], got %v", got)
	}

	loader.templates["a"] = "A2"
	if text, _ := s.Load(ctx, "a"); text != "A" {
		t.Errorf("cached text should not change without eviction, got '%s'", text)
	}
	s.Evict("a")
	if text, _ := s.Load(ctx, "a"); text != "A2" {
		t.Errorf("expected reloaded text 'A2', got '%s'", text)
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected an empty cache after Clear, got %d entries", s.Len())
	}

	err := s.Preload(ctx, "a", "missing")
	if !errors.Is(err, templating.ErrTemplateNotFound) {
		t.Errorf("expected Preload to report the missing template, got %v", err)
	}
	if _, ok := s.Cached("a"); !ok {
		t.Error("Preload should keep loading after a failure")
	}
}

// slowReadLoader reads the current body, then holds its first call at gate so
// the body can change underneath it.
type slowReadLoader struct {
	mu    sync.Mutex
	body  string
	calls atomic.Int64
	read  chan struct{}
	gate  chan struct{}
}

func (l *slowReadLoader) Load(ctx context.Context, _ string) (string, error) {
	l.mu.Lock()
	text := l.body
	l.mu.Unlock()
	if l.calls.Add(1) == 1 {
		close(l.read)
		<-l.gate
	}
	return text, nil
}

func (l *slowReadLoader) set(body string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.body = body
}

func TestStore_EvictDuringLoad(t *testing.T) {
	drops := map[string]func(*Store){
		"evict": func(s *Store) { s.Evict("p") },
		"clear": func(s *Store) { s.Clear() },
	}
	for name, drop := range drops {
		t.Run(name, func(t *testing.T) {
			loader := &slowReadLoader{body: "old", read: make(chan struct{}), gate: make(chan struct{})}
			s := newTestStore(t, loader)
			ctx := context.Background()

			first := make(chan string, 1)
			go func() {
				text, _ := s.Load(ctx, "p")
				first <- text
			}()
			<-loader.read

			loader.set("new")
			drop(s)

			// A load after the drop must not join the one that read "old".
			if text, err := s.Load(ctx, "p"); err != nil || text != "new" {
				t.Fatalf("expected 'new' after %s, got '%s' (%v)", name, text, err)
			}

			close(loader.gate)
			select {
			case <-first:
			case <-time.After(5 * time.Second):
				t.Fatal("in-flight load never returned")
			}

			if text, _ := s.Cached("p"); text != "new" {
				t.Errorf("a load started before %s must not cache its text, cache has '%s'", name, text)
			}
			if text, _ := s.Load(ctx, "p"); text != "new" {
				t.Errorf("expected 'new', got '%s'", text)
			}
			if calls := loader.calls.Load(); calls != 2 {
				t.Errorf("expected 2 backend calls, got %d", calls)
			}
		})
	}
}

func TestStore_WithTemplateManager(t *testing.T) {
	loader := &countingLoader{templates: map[string]string{
		"layout": "<{@block body}{/@block}>",
		"page":   "{@extends layout}{@block body}{@include part}{/@block}",
		"part":   "{{name}}",
	}}
	s := newTestStore(t, loader)
	tm, err := templating.NewTemplateManager(slog.New(slog.NewTextHandler(io.Discard, nil)), s, nil)
	if err != nil {
		t.Fatalf("NewTemplateManager failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		out, err := tm.RenderString(context.Background(), "page", map[string]any{"name": "Ada"})
		if err != nil {
			t.Fatalf("RenderString failed: %v", err)
		}
		if out != "<Ada>" {
			t.Errorf("expected '<Ada>', got '%s'", out)
		}
	}
	if n := loader.calls.Load(); n != 3 {
		t.Errorf("each template should be fetched once, got %d backend calls", n)
	}
}

func TestDirLoader(t *testing.T) {
	d, err := NewDirLoader(filepath.Join(t.TempDir(), "templates"), "")
	if err != nil {
		t.Fatalf("NewDirLoader failed: %v", err)
	}
	ctx := context.Background()

	if err = d.Save(ctx, "partials/header", "<h1>{{title}}</h1>"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err = d.Save(ctx, "index", "{@include partials/header}"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	text, err := d.Load(ctx, "partials/header")
	if err != nil || text != "<h1>{{title}}</h1>" {
		t.Errorf("unexpected Load result %q (%v)", text, err)
	}

	paths, err := d.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "index" || paths[1] != "partials/header" {
		t.Errorf("expected [index partials/header], got %v", paths)
	}

	for _, bad := range []string{"", "../escape", "/etc/passwd", "a/../../b"} {
		if _, err = d.Load(ctx, bad); err == nil || errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Load(%q) should be rejected as invalid, got %v", bad, err)
		}
		if err = d.Save(ctx, bad, "x"); err == nil {
			t.Errorf("Save(%q) should be rejected", bad)
		}
	}

	if err = d.Delete(ctx, "index"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err = d.Load(ctx, "index"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist after Delete, got %v", err)
	}
}

func setupTestDB(t *testing.T) *SQLLoader {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	if err = SetupSchema(db); err != nil {
		t.Fatalf("SetupSchema should be idempotent: %v", err)
	}
	l, err := NewSQLLoader(db)
	if err != nil {
		t.Fatalf("NewSQLLoader() error = %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func TestNewSQLLoader_PartialSchema(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	// The read statement prepares, the upsert does not.
	if _, err = db.Exec(`CREATE TABLE templates (path TEXT PRIMARY KEY, body TEXT NOT NULL);`); err != nil {
		t.Fatalf("failed to create old schema: %v", err)
	}
	if l, err := NewSQLLoader(db); err == nil {
		l.Close()
		t.Fatal("expected NewSQLLoader to fail without the updated_at column")
	}

	if _, err = db.Exec(`DROP TABLE templates;`); err != nil {
		t.Fatalf("failed to drop old schema: %v", err)
	}
	if err = SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	l, err := NewSQLLoader(db)
	if err != nil {
		t.Fatalf("NewSQLLoader() error = %v", err)
	}
	l.Close()
}

func TestSQLLoader(t *testing.T) {
	l := setupTestDB(t)
	ctx := context.Background()

	if _, err := l.Load(ctx, "page"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist for a missing row, got %v", err)
	}
	if err := l.Save(ctx, "page", "v1"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := l.Save(ctx, "page", "v2"); err != nil {
		t.Fatalf("Save (update) failed: %v", err)
	}
	if err := l.Save(ctx, "about", "about"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if text, err := l.Load(ctx, "page"); err != nil || text != "v2" {
		t.Errorf("expected 'v2', got %q (%v)", text, err)
	}
	paths, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != "about" || paths[1] != "page" {
		t.Errorf("expected [about page], got %v", paths)
	}
	if err = l.Delete(ctx, "page"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err = l.Delete(ctx, "page"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("deleting twice should report fs.ErrNotExist, got %v", err)
	}

	s := newTestStore(t, l)
	if err = s.Preload(ctx); err != nil {
		t.Fatalf("Preload of all templates failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 preloaded template, got %d", s.Len())
	}
}
