// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package scanner

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// DefaultSDKConstraint is the range of plugin SDK versions this host reads.
const DefaultSDKConstraint = ">= 1.0.0, < 2.0.0"

var defaultConstraint = mustConstraint(DefaultSDKConstraint)

// Sentinel errors for programmatic error checking.
var (
	// ErrIncompatibleSDK is returned when a plugin was built with an unsupported SDK.
	ErrIncompatibleSDK = errors.New("incompatible plugin SDK")
	// ErrInvalidCatalog is returned when a plugin's catalog is inconsistent.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("scanner: invalid SDK constraint %q: %v", s, err))
	}
	return c
}

// validate checks a catalog before anything from it reaches the repository.
func validate(resp *catalogv1.DescribeResponse, constraint *semver.Constraints) error {
	if resp == nil {
		return oops.Code("CATALOG_INVALID").Wrapf(ErrInvalidCatalog, "empty reply")
	}
	v, err := semver.NewVersion(resp.SDKVersion)
	if err != nil {
		return oops.Code("SDK_INCOMPATIBLE").
			With("sdk_version", resp.SDKVersion).
			Wrapf(ErrIncompatibleSDK, "unparsable SDK version %q: %v", resp.SDKVersion, err)
	}
	if !constraint.Check(v) {
		return oops.Code("SDK_INCOMPATIBLE").
			With("sdk_version", v.String()).
			With("constraint", constraint.String()).
			Wrapf(ErrIncompatibleSDK, "version %s does not satisfy %s", v, constraint)
	}

	ids := make(map[plugin.TypeIdentity]struct{}, len(resp.Types))
	for _, def := range resp.Types {
		if def.Identity.FullName == "" {
			return oops.Code("CATALOG_INVALID").With("assembly", resp.Assembly).Wrapf(ErrInvalidCatalog, "type with empty identity")
		}
		ids[def.Identity] = struct{}{}
	}
	for _, part := range resp.Parts {
		if _, ok := ids[part.Type]; !ok {
			return oops.Code("CATALOG_INVALID").
				With("type", part.Type.String()).
				Wrapf(ErrInvalidCatalog, "part references %s which the catalog does not define", part.Type)
		}
	}
	return nil
}
