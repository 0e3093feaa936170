// Package version carries build metadata injected at link time, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/postexperiment/internal/version.Version=v0.3.1"
package version

import "fmt"

var (
	// Version is the current release. Never empty; unreleased builds report "dev".
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the version together with the commit and build time.
func String() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("%s (%s, %s)", v, GitSHA, BuildTime)
}
