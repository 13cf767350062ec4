// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/plugscan/plugscan/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("SCAN_FAILED").Errorf("test error")
	errutil.AssertErrorCode(t, err, "SCAN_FAILED")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("path", "/p/a.plugin").Errorf("test error")
	errutil.AssertErrorContext(t, err, "path", "/p/a.plugin")
}
