// Package version carries the build metadata stamped into the authority
// binaries. Served by GET /version and exported as the build_info metric.
package version

import "runtime"

// Set at build time via
// -ldflags "-X github.com/pscheid92/authority/internal/platform/version.Version=..."
// and friends; the zero values identify an unstamped dev build.
var (
	// Version is the git tag or semantic version
	Version = "dev"
	// Commit is the git commit SHA
	Commit = "unknown"
	// BuildTime is the ISO 8601 build timestamp
	BuildTime = "unknown"
)

// Info is the JSON shape of the /version endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}
