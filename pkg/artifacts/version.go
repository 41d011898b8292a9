package artifacts

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// FormatVersion is written into every sidecar config so that loaders can refuse
// artifacts produced by an incompatible layout.
const FormatVersion = "1.0.0"

const formatConstraint = "^1.0.0"

// CheckFormat reports whether an artifact written with version v can be loaded.
func CheckFormat(v string) error {
	if v == "" {
		return fmt.Errorf("artifact format version missing")
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("artifact format version %q: %w", v, err)
	}
	c, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return err
	}
	if !c.Check(version) {
		return fmt.Errorf("artifact format version %s does not satisfy %s", v, formatConstraint)
	}
	return nil
}
