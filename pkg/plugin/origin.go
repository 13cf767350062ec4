// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package plugin defines the metadata model shared by the plugscan host and
// the plugins it scans: origins, type identities, type and part definitions.
package plugin

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/oops"
)

// ErrInvalidOrigin is returned when an origin cannot be built from a path.
var ErrInvalidOrigin = errors.New("invalid plugin origin")

// Origin identifies the file a plugin definition came from.
//
// Two origins are the same plugin source when their paths match; the
// timestamps are only used to decide whether a file has changed.
type Origin struct {
	Path        string    `json:"path" yaml:"path"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	LastWriteAt time.Time `json:"last_write_at" yaml:"last_write_at"`
}

// NewOrigin builds an origin with a canonical absolute path.
func NewOrigin(path string, createdAt, lastWriteAt time.Time) (Origin, error) {
	if path == "" {
		return Origin{}, oops.Code("ORIGIN_INVALID").Wrapf(ErrInvalidOrigin, "path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Origin{}, oops.Code("ORIGIN_INVALID").With("path", path).Wrap(err)
	}
	return Origin{
		Path:        filepath.Clean(abs),
		CreatedAt:   createdAt,
		LastWriteAt: lastWriteAt,
	}, nil
}

// OriginFromFileInfo builds an origin for a file that was just stat'ed.
// CreatedAt is set to observedAt since Go has no portable birth time.
func OriginFromFileInfo(path string, fi fs.FileInfo, observedAt time.Time) (Origin, error) {
	return NewOrigin(path, observedAt, fi.ModTime())
}

// Key returns the identity key of the origin.
func (o Origin) Key() string {
	return o.Path
}

// Equal reports whether both origins refer to the same file.
func (o Origin) Equal(other Origin) bool {
	return o.Path == other.Path
}

// NewerThan reports whether o was written after other.
func (o Origin) NewerThan(other Origin) bool {
	return o.LastWriteAt.After(other.LastWriteAt)
}

// String returns the origin path.
func (o Origin) String() string {
	return o.Path
}

// OriginSet is a set of origins keyed by path.
type OriginSet map[string]Origin

// NewOriginSet returns a set containing the given origins.
// Later duplicates replace earlier ones.
func NewOriginSet(origins ...Origin) OriginSet {
	s := make(OriginSet, len(origins))
	for _, o := range origins {
		s.Add(o)
	}
	return s
}

// Add inserts or replaces an origin.
func (s OriginSet) Add(o Origin) {
	s[o.Key()] = o
}

// Contains reports whether an origin with the same path is in the set.
func (s OriginSet) Contains(o Origin) bool {
	_, ok := s[o.Key()]
	return ok
}

// Len returns the number of origins in the set.
func (s OriginSet) Len() int {
	return len(s)
}

// Slice returns the origins sorted by path.
func (s OriginSet) Slice() []Origin {
	out := make([]Origin, 0, len(s))
	for _, o := range s {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
