// Package version holds build-time version information for the ragindex binary.
// The variables are populated at build time via -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/ragindex/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/ragindex/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/ragindex/internal/version.BuildDate=2025-01-01"
//
// Without ldflags (e.g. `go run`) they fall back to readable defaults.
package version

import "fmt"

// Version is the semantic version of the binary. Defaults to "dev".
var Version = "dev"

// Commit is the short git SHA the binary was built from.
var Commit = "unknown"

// BuildDate is the UTC build date (RFC3339).
var BuildDate = "unknown"

// String renders the build info on one line, as printed by `ragindex version`
// and logged by the worker at startup.
func String() string {
	return fmt.Sprintf("ragindex %s (commit %s, built %s)", Version, Commit, BuildDate)
}
