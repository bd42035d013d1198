// Package version exposes build metadata stamped at link time.
package version

import "runtime/debug"

// Populated via -ldflags at release build time; the zero values mark a
// development build.
var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the Git hash the binary was built from.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)

func init() {
	if Commit != "unknown" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value
		}
	}
}
