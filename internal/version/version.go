// Package version exposes build metadata for the scirag binaries.
// The release build overrides these via
// -ldflags "-X .../internal/version.Version=... -X .../internal/version.Commit=...".
package version

var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
)
