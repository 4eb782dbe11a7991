// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag (set at build time).
	GitRelease = "dev"
	// GitCommit is the commit hash (set at build time).
	GitCommit = "unknown"
	// GitCommitDate is the commit date (set at build time).
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain that produced the binary.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
