// Package templatemeta parses TemplateMetadata YAML files (spec.md §3/§6)
// and provides a read-mostly, mtime-busted loader shared by the template
// engine and the Flight list_flights RPC.
package templatemeta

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ghodss/yaml"

	"github.com/sqlgateway/flightgw/internal/apperrors"
)

// Param describes one templated query parameter (spec.md §3).
type Param struct {
	Name     string `json:"name" yaml:"name"`
	Label    string `json:"label" yaml:"label"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Metadata is the spec.md §3 TemplateMetadata record.
type Metadata struct {
	Name        string  `json:"name" yaml:"-"`
	Description string  `json:"description" yaml:"description"`
	SQL         string  `json:"sql" yaml:"sql"`
	Params      []Param `json:"params,omitempty" yaml:"params,omitempty"`
}

type cacheEntry struct {
	meta    *Metadata
	modTime time.Time
}

// Loader resolves template names against a configured set of directories,
// caching parsed metadata and busting the cache on file-mtime change
// (spec.md §5: "the template loader may cache but must allow cache-busting
// on file-mtime change").
type Loader struct {
	dirs []string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewLoader constructs a Loader over the given template directories,
// searched in order.
func NewLoader(dirs []string) *Loader {
	return &Loader{dirs: dirs, cache: map[string]cacheEntry{}}
}

// Resolve locates a template file by logical name across the configured
// directories; the name may or may not carry a .yaml/.yml suffix.
func (l *Loader) resolve(name string) (string, error) {
	candidates := []string{name}
	if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
		candidates = append(candidates, name+".yaml", name+".yml")
	}
	for _, dir := range l.dirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", apperrors.New(apperrors.TemplateNotFound, "template %q not found in configured directories", name)
}

// Load returns the parsed TemplateMetadata for `name`, using the cache when
// the backing file's mtime hasn't changed since it was last read.
func (l *Loader) Load(name string) (*Metadata, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TemplateNotFound, err, "stat template %q", name)
	}

	l.mu.RLock()
	entry, ok := l.cache[path]
	l.mu.RUnlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.meta, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TemplateNotFound, err, "reading template %q", name)
	}

	meta := &Metadata{}
	if err := yaml.Unmarshal(raw, meta); err != nil {
		return nil, apperrors.Wrap(apperrors.TemplateRenderError, err, "parsing template metadata %q", name)
	}
	meta.Name = filepath.Base(path)

	l.mu.Lock()
	l.cache[path] = cacheEntry{meta: meta, modTime: info.ModTime()}
	l.mu.Unlock()

	return meta, nil
}

// List enumerates all unique *.yaml/*.yml template filenames across the
// configured directories, for list_flights (spec.md §6).
func (l *Loader) List() ([]*Metadata, error) {
	seen := map[string]bool{}
	var metas []*Metadata
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // a configured directory may not exist; skip rather than fail the whole listing
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				continue
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			meta, err := l.Load(name)
			if err != nil {
				return nil, fmt.Errorf("loading %q: %w", name, err)
			}
			metas = append(metas, meta)
		}
	}
	return metas, nil
}
