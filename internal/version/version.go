package version

import (
	"fmt"
	"runtime"
)

// Set at release build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// String returns the one-line form used in logs and the version command.
func String() string {
	return fmt.Sprintf("mailherd %s (commit %s, built %s, %s)", Version, GitCommit, BuildTime, GoVersion())
}
