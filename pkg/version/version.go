// Package version exposes build metadata injected through ldflags:
//
//	-X flotilla/pkg/version.Version=v1.2.3
//	-X flotilla/pkg/version.GitCommit=$(git rev-parse HEAD)
//	-X flotilla/pkg/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)
package version

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the build metadata as served on status endpoints.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

func GetInfo() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

// GetShortCommit returns the abbreviated commit hash.
func GetShortCommit() string {
	if len(GitCommit) >= 7 {
		return GitCommit[:7]
	}
	return GitCommit
}
