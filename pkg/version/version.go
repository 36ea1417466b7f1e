package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version or git describe result.
	Version = "dev"
	// GitCommit is the short git commit hash for this build.
	GitCommit = "unknown"
	// BuildDate is the RFC3339 timestamp when the binary was built.
	BuildDate = "unknown"
)

func init() {
	if Version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}

// String returns a human readable version summary.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)", Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
