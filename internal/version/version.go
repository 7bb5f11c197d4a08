package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Info returns formatted version information.
func Info() string {
	return fmt.Sprintf("bellissimolog %s (built %s, commit %s)", Version, BuildDate, GitCommit)
}

// Short returns the version, followed by the abbreviated commit when it is
// known, e.g. "v1.4.0+3f2a9c1".
func Short() string {
	if GitCommit == "" || GitCommit == "unknown" {
		return Version
	}

	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}

	return Version + "+" + commit
}

// UserAgent is the default User-Agent the demo host sends upstream.
func UserAgent() string {
	return "bellissimolog/" + Short()
}
