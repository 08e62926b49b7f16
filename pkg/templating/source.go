package templating

import (
	"context"
	"sort"
	"sync"
)

// Source supplies raw template text by path. Load may block on an external
// backend and must fail with an error matching ErrTemplateNotFound when the
// path has no text. Cached reports text already held without loading.
// The store package provides the caching implementation used in production.
type Source interface {
	Load(ctx context.Context, path string) (string, error)
	Cached(path string) (string, bool)
}

// MapSource is an in-memory Source. It is handy for previews and tests.
type MapSource struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapSource returns a MapSource holding a copy of templates.
func NewMapSource(templates map[string]string) *MapSource {
	m := &MapSource{templates: make(map[string]string, len(templates))}
	for k, v := range templates {
		m.templates[k] = v
	}
	return m
}

// Load returns the text stored under path.
func (m *MapSource) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if text, ok := m.Cached(path); ok {
		return text, nil
	}
	return "", NewError(ErrTemplateNotFound, path, nil)
}

// Cached returns the text stored under path.
func (m *MapSource) Cached(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.templates[path]
	return text, ok
}

// Set stores text under path.
func (m *MapSource) Set(path, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.templates == nil {
		m.templates = make(map[string]string)
	}
	m.templates[path] = text
}

// Delete removes the text stored under path.
func (m *MapSource) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, path)
}

// Paths returns the stored paths in sorted order.
func (m *MapSource) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.templates))
	for p := range m.templates {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
