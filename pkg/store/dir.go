package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// DefaultExt is the file extension DirLoader uses when none is given.
const DefaultExt = ".tmpl"

// DirLoader reads templates from files under a root directory. The template
// path "partials/header" maps to <root>/partials/header<ext>.
type DirLoader struct {
	root string
	ext  string
}

// NewDirLoader creates a DirLoader rooted at root, creating the directory if
// it does not exist.
func NewDirLoader(root, ext string) (*DirLoader, error) {
	if ext == "" {
		ext = DefaultExt
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}
	return &DirLoader{root: abs, ext: ext}, nil
}

// Root returns the absolute template directory.
func (d *DirLoader) Root() string { return d.root }

// file maps a template path to its file, rejecting anything that would land
// outside the root.
func (d *DirLoader) file(path string) (string, error) {
	local := filepath.FromSlash(path)
	if path == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid template path %q", path)
	}
	return filepath.Join(d.root, local+d.ext), nil
}

// Load reads the template file for path.
func (d *DirLoader) Load(_ context.Context, path string) (string, error) {
	name, err := d.file(path)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Save writes the template atomically, so readers never see a partial file.
func (d *DirLoader) Save(_ context.Context, path, text string) error {
	name, err := d.file(path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %q: %w", path, err)
	}
	if err = atomic.WriteFile(name, strings.NewReader(text)); err != nil {
		return fmt.Errorf("failed to write template %q: %w", path, err)
	}
	return nil
}

// Delete removes the template file for path.
func (d *DirLoader) Delete(_ context.Context, path string) error {
	name, err := d.file(path)
	if err != nil {
		return err
	}
	return os.Remove(name)
}

// List returns every template path under the root, sorted.
func (d *DirLoader) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), d.ext) {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(strings.TrimSuffix(rel, d.ext)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}
