package config

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, stamped by the release build with
// -ldflags "-X github.com/labmanager/labml/config.Version=...".
var (
	Version    = "0.1.0-dev"
	CommitHash = ""
	BuildTime  = "n/a"
)

// VersionString is printed by `labml --version` and sent as X-Labml-Version.
var VersionString = versionString(Version, CommitHash, BuildTime)

// versionString falls back to the VCS revision Go embeds when no commit was stamped.
func versionString(version, commit, built string) string {
	if commit == "" {
		commit = "n/a"
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && len(s.Value) >= 7 {
					commit = s.Value[:7]
				}
			}
		}
	}
	return fmt.Sprintf("labml %s-%s (%s)", version, commit, built)
}
