// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package repository holds the in-memory store of discovered plugin metadata.
//
// Writers are serialized on a mutex and publish an immutable snapshot; readers
// load the current snapshot without locking, so a reader never observes a
// half-applied mutation.
package repository

import (
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/plugscan/plugscan/pkg/plugin"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrUnknownType is returned when a part references an unregistered type.
	ErrUnknownType = errors.New("unknown type")
	// ErrNotFound is returned when a name matches no type.
	ErrNotFound = errors.New("type not found")
	// ErrAmbiguous is returned when a name matches more than one type.
	ErrAmbiguous = errors.New("ambiguous type name")
)

// contribution is what one origin added to the repository. types holds the
// definition as this origin declared it, which may differ from the published
// one when another origin declares the same identity.
type contribution struct {
	origin plugin.Origin
	types  map[plugin.TypeIdentity]plugin.TypeDefinition
	parts  int
}

// snapshot is an immutable view of the repository state.
type snapshot struct {
	types map[plugin.TypeIdentity]plugin.TypeDefinition
	// owners maps a type to the origin path that last contributed it.
	// Types added without an origin have no owner.
	owners  map[plugin.TypeIdentity]string
	origins map[string]*contribution
	parts   []ownedPart
}

type ownedPart struct {
	def   plugin.PartDefinition
	owner string
}

// Stats summarizes repository contents.
type Stats struct {
	Origins int
	Types   int
	Parts   int
}

// Repository is the single source of truth for discovered types and parts.
// The zero value is not usable; call New.
type Repository struct {
	mu    sync.Mutex
	state atomic.Pointer[snapshot]
}

// New creates an empty repository.
func New() *Repository {
	r := &Repository{}
	r.state.Store(&snapshot{
		types:   make(map[plugin.TypeIdentity]plugin.TypeDefinition),
		owners:  make(map[plugin.TypeIdentity]string),
		origins: make(map[string]*contribution),
	})
	return r
}

func (r *Repository) load() *snapshot {
	return r.state.Load()
}

// mutate runs fn against a copy of the current state under the writer lock
// and publishes the copy only if fn succeeds.
func (r *Repository) mutate(fn func(next *snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.load().clone()
	if err := fn(next); err != nil {
		return err
	}
	r.state.Store(next)
	return nil
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		types:   maps.Clone(s.types),
		owners:  maps.Clone(s.owners),
		origins: make(map[string]*contribution, len(s.origins)),
		parts:   slices.Clone(s.parts),
	}
	for k, c := range s.origins {
		next.origins[k] = &contribution{
			origin: c.origin,
			types:  maps.Clone(c.types),
			parts:  c.parts,
		}
	}
	return next
}

// claim publishes def and records origin as its owner. The previous owner
// keeps its own declaration and inherits the identity back if origin goes
// away first.
func (s *snapshot) claim(origin plugin.Origin, def plugin.TypeDefinition) {
	s.types[def.Identity] = def
	s.owners[def.Identity] = origin.Key()
	s.track(origin).types[def.Identity] = def
}

// adopt claims id for origin only when no origin owns it yet. Parts may
// reference types owned by another origin without taking them over.
func (s *snapshot) adopt(origin plugin.Origin, id plugin.TypeIdentity) {
	if _, owned := s.owners[id]; owned {
		s.track(origin)
		return
	}
	s.claim(origin, s.types[id])
}

func (s *snapshot) track(origin plugin.Origin) *contribution {
	c, ok := s.origins[origin.Key()]
	if !ok {
		c = &contribution{types: make(map[plugin.TypeIdentity]plugin.TypeDefinition)}
		s.origins[origin.Key()] = c
	}
	c.origin = origin
	return c
}

// drop removes everything contributed by the origin with the given key.
func (s *snapshot) drop(key string) {
	c, ok := s.origins[key]
	if !ok {
		return
	}
	if c.parts > 0 {
		s.parts = slices.DeleteFunc(s.parts, func(p ownedPart) bool { return p.owner == key })
	}
	delete(s.origins, key)
	for id := range c.types {
		if s.owners[id] != key {
			continue
		}
		// Another origin still declares or references this type; hand it
		// over, publishing the heir's own declaration when it has one.
		if heir := s.heir(id); heir != "" {
			hc := s.origins[heir]
			def, declared := hc.types[id]
			if !declared {
				def = s.types[id]
				hc.types[id] = def
			}
			s.types[id] = def
			s.owners[id] = heir
			continue
		}
		delete(s.types, id)
		delete(s.owners, id)
	}
}

// heir picks the origin that takes over id: the first, by path, of those
// declaring it, otherwise the owner of the first part referencing it.
func (s *snapshot) heir(id plugin.TypeIdentity) string {
	declared := ""
	for key, c := range s.origins {
		if _, ok := c.types[id]; ok && (declared == "" || key < declared) {
			declared = key
		}
	}
	if declared != "" {
		return declared
	}
	for _, p := range s.parts {
		if p.def.Type == id {
			return p.owner
		}
	}
	return ""
}

// AddType inserts or replaces a type definition. Replacing an identity is an
// update and keeps its current owner, if any.
func (r *Repository) AddType(def plugin.TypeDefinition) error {
	if def.Identity.FullName == "" {
		return oops.Code("TYPE_INVALID").Errorf("type identity has no name")
	}
	return r.mutate(func(next *snapshot) error {
		def = def.Clone()
		next.types[def.Identity] = def
		if owner, ok := next.owners[def.Identity]; ok {
			next.origins[owner].types[def.Identity] = def
		}
		return nil
	})
}

// AddPart inserts a part and records it, together with its type, under origin.
// It fails with ErrUnknownType when the part's type is not registered, in
// which case the repository is left unchanged.
func (r *Repository) AddPart(def plugin.PartDefinition, origin plugin.Origin) error {
	return r.mutate(func(next *snapshot) error {
		if _, ok := next.types[def.Type]; !ok {
			return unknownType(def.Type, origin)
		}
		next.adopt(origin, def.Type)
		next.parts = append(next.parts, ownedPart{def: def.Clone(), owner: origin.Key()})
		next.origins[origin.Key()].parts++
		return nil
	})
}

// Commit atomically replaces everything origin contributed with the given
// types and parts. Every part must reference a type in types or one already
// in the repository; otherwise nothing is changed. The origin is recorded
// even when both slices are empty.
func (r *Repository) Commit(origin plugin.Origin, types []plugin.TypeDefinition, parts []plugin.PartDefinition) error {
	for _, def := range types {
		if def.Identity.FullName == "" {
			return oops.Code("TYPE_INVALID").With("origin", origin.Path).Errorf("type identity has no name")
		}
	}
	return r.mutate(func(next *snapshot) error {
		next.drop(origin.Key())

		defs := make([]plugin.TypeDefinition, len(types))
		for i, def := range types {
			defs[i] = def.Clone()
			next.types[def.Identity] = defs[i]
		}
		for _, p := range parts {
			if _, ok := next.types[p.Type]; !ok {
				return unknownType(p.Type, origin)
			}
		}

		c := next.track(origin)
		for _, def := range defs {
			next.claim(origin, def)
		}
		for _, p := range parts {
			next.adopt(origin, p.Type)
			next.parts = append(next.parts, ownedPart{def: p.Clone(), owner: origin.Key()})
		}
		c.parts = len(parts)
		return nil
	})
}

// RemovePlugins removes every type and part contributed by the given origins,
// then the origins themselves. Types since re-contributed by another origin
// are kept. Unknown origins are ignored.
func (r *Repository) RemovePlugins(origins []plugin.Origin) error {
	return r.mutate(func(next *snapshot) error {
		for _, o := range origins {
			next.drop(o.Key())
		}
		return nil
	})
}

// ContainsDefinitionForType reports whether a definition exists for id.
func (r *Repository) ContainsDefinitionForType(id plugin.TypeIdentity) bool {
	_, ok := r.load().types[id]
	return ok
}

// ContainsDefinitionForName reports whether any definition matches name.
// It returns ErrNotFound when none does. An ambiguous name still reports true.
func (r *Repository) ContainsDefinitionForName(name string) (bool, error) {
	matches := r.load().match(name)
	if len(matches) == 0 {
		return false, notFound(name)
	}
	return true, nil
}

// IdentityByName resolves a full or short type name to an identity.
// It fails with ErrNotFound when nothing matches and ErrAmbiguous when two or
// more distinct types match.
func (r *Repository) IdentityByName(name string) (plugin.TypeIdentity, error) {
	matches := r.load().match(name)
	switch len(matches) {
	case 0:
		return plugin.TypeIdentity{}, notFound(name)
	case 1:
		return matches[0], nil
	default:
		candidates := make([]string, len(matches))
		for i, m := range matches {
			candidates[i] = m.String()
		}
		return plugin.TypeIdentity{}, oops.Code("TYPE_AMBIGUOUS").
			With("name", name).
			With("candidates", candidates).
			Wrapf(ErrAmbiguous, "%d types match %q", len(matches), name)
	}
}

// match returns the identities whose full or short name equals name, sorted.
func (s *snapshot) match(name string) []plugin.TypeIdentity {
	var out []plugin.TypeIdentity
	for id := range s.types {
		if id.FullName == name || id.Name() == name {
			out = append(out, id)
		}
	}
	sortIdentities(out)
	return out
}

// TypeDefinition returns the definition for id.
func (r *Repository) TypeDefinition(id plugin.TypeIdentity) (plugin.TypeDefinition, bool) {
	def, ok := r.load().types[id]
	if !ok {
		return plugin.TypeDefinition{}, false
	}
	return def.Clone(), true
}

// Types returns every stored type definition sorted by identity.
func (r *Repository) Types() []plugin.TypeDefinition {
	s := r.load()
	out := make([]plugin.TypeDefinition, 0, len(s.types))
	for _, def := range s.types {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return lessIdentity(out[i].Identity, out[j].Identity) })
	return out
}

// Parts returns a snapshot of all parts in insertion order.
func (r *Repository) Parts() []plugin.PartDefinition {
	s := r.load()
	out := make([]plugin.PartDefinition, len(s.parts))
	for i, p := range s.parts {
		out[i] = p.def.Clone()
	}
	return out
}

// KnownPluginOrigins returns the tracked origins sorted by path.
func (r *Repository) KnownPluginOrigins() []plugin.Origin {
	s := r.load()
	set := make(plugin.OriginSet, len(s.origins))
	for _, c := range s.origins {
		set.Add(c.origin)
	}
	return set.Slice()
}

// Stats returns counts of tracked origins, types and parts.
func (r *Repository) Stats() Stats {
	s := r.load()
	return Stats{
		Origins: len(s.origins),
		Types:   len(s.types),
		Parts:   len(s.parts),
	}
}

func unknownType(id plugin.TypeIdentity, origin plugin.Origin) error {
	return oops.Code("TYPE_UNKNOWN").
		With("type", id.String()).
		With("origin", origin.Path).
		Wrapf(ErrUnknownType, "part references unregistered type %s", id)
}

func notFound(name string) error {
	return oops.Code("TYPE_NOT_FOUND").With("name", name).Wrapf(ErrNotFound, "no type named %q", name)
}

func lessIdentity(a, b plugin.TypeIdentity) bool {
	if a.FullName != b.FullName {
		return a.FullName < b.FullName
	}
	return a.Assembly < b.Assembly
}

func sortIdentities(ids []plugin.TypeIdentity) {
	sort.Slice(ids, func(i, j int) bool { return lessIdentity(ids[i], ids[j]) })
}
