// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

// Set at build time, e.g.
// -ldflags "-X learnperf/internal/version.Version=v1.0.0"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("learnperf %s (commit %s, built %s)", Version, Commit, Date)
}
