// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package listener

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// filter decides which paths are plugin candidates.
type filter struct {
	exts   map[string]struct{}
	ignore []glob.Glob
}

// newFilter compiles the extension list and ignore patterns. Patterns use
// '/' as separator: "*" stays inside one path segment, "**" crosses them.
// A pattern matches either the full path or the base name.
func newFilter(exts, patterns []string) (*filter, error) {
	f := &filter{exts: make(map[string]struct{}, len(exts))}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.exts[ext] = struct{}{}
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("pattern", p).Wrapf(ErrConfiguration, "invalid ignore pattern: %v", err)
		}
		f.ignore = append(f.ignore, g)
	}
	return f, nil
}

// ignored reports whether path matches an ignore pattern.
func (f *filter) ignored(path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, g := range f.ignore {
		if g.Match(slashed) || g.Match(base) {
			return true
		}
	}
	return false
}

// candidate reports whether a file at path may be a plugin.
func (f *filter) candidate(path string) bool {
	if _, ok := f.exts[strings.ToLower(filepath.Ext(path))]; !ok {
		return false
	}
	return !f.ignored(path)
}
