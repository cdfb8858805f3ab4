// Package version reports the gotrs-ingest build. The variables are set
// with -ldflags at release time; other builds fall back to the module and
// VCS data the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info is the structured build description served by the ops endpoints.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

var (
	infoOnce sync.Once
	info     Info
)

// Get returns the build description.
func Get() Info {
	infoOnce.Do(func() {
		info = Info{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate, GoVersion: runtime.Version()}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.GitCommit == "unknown" && len(s.Value) >= 7 {
					info.GitCommit = s.Value[:7]
				}
			case "vcs.time":
				if info.BuildDate == "unknown" {
					info.BuildDate = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	})
	return info
}

// String returns "v1.2.0 (abc1234)".
func String() string {
	i := Get()
	return fmt.Sprintf("%s (%s)", i.Version, i.GitCommit)
}

// Short returns the version alone.
func Short() string {
	return Get().Version
}

// Full adds the build date and toolchain.
func Full() string {
	i := Get()
	s := fmt.Sprintf("%s (%s) built %s with %s", i.Version, i.GitCommit, i.BuildDate, i.GoVersion)
	if i.Modified {
		s += " +dirty"
	}
	return s
}

// UserAgent identifies the service to mail servers and the queue broker.
func UserAgent() string {
	return "gotrs-ingest/" + Short()
}
