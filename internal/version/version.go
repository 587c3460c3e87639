// Package version holds the build identity stamped in at link time via
// -ldflags "-X github.com/banshee-data/trackday/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the stamped identity as "version (sha)".
func String() string {
	return fmt.Sprintf("%s (%s)", Version, GitSHA)
}
