// Package version carries the build metadata stamped into the binaries
// via -ldflags at release time.
package version

var (
	// Version is the release tag, or "dev" for a local build.
	Version = "dev"
	// GitSHA identifies the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime records when the binary was built.
	BuildTime = "unknown"
)
