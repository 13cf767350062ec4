// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package scanner

import (
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/plugscan/plugscan/pkg/plugin"
)

// Result is the outcome of one scan batch.
type Result struct {
	BatchID ulid.ULID
	// Scanned lists the origins committed to the repository, sorted by path.
	Scanned []plugin.Origin
	// Failures lists the files that could not be scanned, sorted by path.
	Failures []ScanFailure
}

// Err joins every failure, or returns nil when the whole batch succeeded.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i := range r.Failures {
		errs[i] = r.Failures[i]
	}
	return errors.Join(errs...)
}

// ScanFailure records why one file was not committed. Cause carries the
// SCAN_FAILED error code, or the more specific code of the step that failed
// (CATALOG_INVALID, SDK_INCOMPATIBLE, TYPE_UNKNOWN).
type ScanFailure struct {
	Path  string
	Cause error
}

func (f ScanFailure) Error() string {
	return f.Cause.Error()
}

func (f ScanFailure) Unwrap() error {
	return f.Cause
}
