// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package plugin

import (
	"fmt"
	"slices"
	"strings"
)

// TypeIdentity is the globally unique name of an exported type.
type TypeIdentity struct {
	// FullName is the package path and type name, e.g. "example.com/greeter.Greeter".
	FullName string `json:"full_name" yaml:"full_name"`
	// Assembly identifies the binary that defined the type, e.g. "example.com/greeter@v1.2.0".
	Assembly string `json:"assembly" yaml:"assembly"`
}

// IsZero reports whether the identity is unset.
func (id TypeIdentity) IsZero() bool {
	return id.FullName == "" && id.Assembly == ""
}

// Name returns the type name without its package path.
func (id TypeIdentity) Name() string {
	if i := strings.LastIndex(id.FullName, "."); i >= 0 {
		return id.FullName[i+1:]
	}
	return id.FullName
}

// String renders the identity as "FullName, Assembly".
func (id TypeIdentity) String() string {
	if id.Assembly == "" {
		return id.FullName
	}
	return id.FullName + ", " + id.Assembly
}

// MemberKind distinguishes fields from methods.
type MemberKind string

// Member kinds.
const (
	MemberField  MemberKind = "field"
	MemberMethod MemberKind = "method"
)

// Member is one exported member of a type that matters for composition.
type Member struct {
	Name      string     `json:"name" yaml:"name"`
	Kind      MemberKind `json:"kind" yaml:"kind"`
	Signature string     `json:"signature" yaml:"signature"`
}

// TypeDefinition describes one exported type found while scanning.
// Definitions are never mutated once stored; a rescan replaces them.
type TypeDefinition struct {
	Identity     TypeIdentity   `json:"identity" yaml:"identity"`
	Base         *TypeIdentity  `json:"base,omitempty" yaml:"base,omitempty"`
	Capabilities []TypeIdentity `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Members      []Member       `json:"members,omitempty" yaml:"members,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d TypeDefinition) Clone() TypeDefinition {
	out := d
	if d.Base != nil {
		base := *d.Base
		out.Base = &base
	}
	out.Capabilities = slices.Clone(d.Capabilities)
	out.Members = slices.Clone(d.Members)
	return out
}

// Cardinality describes how many exports an import accepts.
type Cardinality string

// Import cardinalities.
const (
	CardinalitySingle   Cardinality = "single"
	CardinalityOptional Cardinality = "optional"
	CardinalityMany     Cardinality = "many"
)

// ParseCardinality parses a cardinality name. The empty string means single.
func ParseCardinality(s string) (Cardinality, error) {
	switch Cardinality(strings.ToLower(strings.TrimSpace(s))) {
	case "", CardinalitySingle:
		return CardinalitySingle, nil
	case CardinalityOptional:
		return CardinalityOptional, nil
	case CardinalityMany:
		return CardinalityMany, nil
	default:
		return "", fmt.Errorf("unknown cardinality %q", s)
	}
}

// Export is a capability a part offers under a contract name.
type Export struct {
	Contract   string       `json:"contract" yaml:"contract"`
	Capability TypeIdentity `json:"capability" yaml:"capability"`
}

// Import is a contract a part requires.
type Import struct {
	Contract    string      `json:"contract" yaml:"contract"`
	Member      string      `json:"member,omitempty" yaml:"member,omitempty"`
	Cardinality Cardinality `json:"cardinality" yaml:"cardinality"`
}

// PartDefinition is a composable unit. It references its TypeDefinition by
// identity only.
type PartDefinition struct {
	Type    TypeIdentity `json:"type" yaml:"type"`
	Exports []Export     `json:"exports,omitempty" yaml:"exports,omitempty"`
	Imports []Import     `json:"imports,omitempty" yaml:"imports,omitempty"`
}

// Clone returns a deep copy of the part.
func (p PartDefinition) Clone() PartDefinition {
	out := p
	out.Exports = slices.Clone(p.Exports)
	out.Imports = slices.Clone(p.Imports)
	return out
}
