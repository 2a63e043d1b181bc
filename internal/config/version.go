package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the canonical version of AutoTrader
// This should be the single source of truth for all version references
const Version = "1.0.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// CheckConfigVersion verifies that a config file written for declared
// version v is usable by this binary: it must parse as semver and share
// this binary's major version. An empty v is accepted (pre-versioned
// config files).
func CheckConfigVersion(v string) error {
	if v == "" {
		return nil
	}
	declared, err := semver.NewVersion(v)
	if err != nil {
		// Config files commonly abbreviate ("1.0"); pad and retry.
		declared, err = semver.NewVersion(v + ".0")
		if err != nil {
			return fmt.Errorf("config: app.version %q is not a semantic version: %w", v, err)
		}
	}
	current := semver.MustParse(Version)
	if declared.Major() != current.Major() {
		return fmt.Errorf("config: app.version %s is incompatible with binary version %s (major version mismatch)", declared, current)
	}
	return nil
}
