// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package catalogv1 defines the Catalog service a scanned plugin serves to
// describe itself. Messages are plain structs carried by a JSON codec, so
// nothing but serialized data crosses the process boundary.
package catalogv1

import (
	"github.com/plugscan/plugscan/pkg/plugin"
)

// DescribeRequest asks a plugin for its catalog.
type DescribeRequest struct{}

// DescribeResponse is a plugin's catalog: every exported type and part it
// defines, plus diagnostics collected while building it.
type DescribeResponse struct {
	// SDKVersion is the plugscan SDK version the plugin was built with.
	SDKVersion string `json:"sdk_version"`
	// Assembly identifies the plugin binary (module path and version).
	Assembly    string                  `json:"assembly"`
	Types       []plugin.TypeDefinition `json:"types,omitempty"`
	Parts       []plugin.PartDefinition `json:"parts,omitempty"`
	Diagnostics []Diagnostic            `json:"diagnostics,omitempty"`
}

// Level is a diagnostic severity.
type Level string

// Diagnostic levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Diagnostic is a message produced inside the plugin while describing itself.
type Diagnostic struct {
	Level   Level             `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}
