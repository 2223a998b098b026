// Package version holds build metadata injected with -ldflags.
package version

// Set at build time, e.g.
// -ldflags "-X github.com/anac-tg/incident-desk/internal/version.Version=1.2.0".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the build metadata served on /version.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
	}
}
