package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const unset = "unknown"

// Stamped at link time with -ldflags "-X .../buildinfo.Version=...".
var (
	Version   = "dev"
	Commit    = unset
	BuildTime = unset
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get reports the linked-in values. When no commit was linked in, the
// VCS stamp the go tool embeds is used, with "-dirty" appended for a
// modified checkout.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
	if info.Commit == unset {
		rev, at, dirty := vcsStamp()
		if rev != "" {
			info.Commit = rev
			if dirty {
				info.Commit += "-dirty"
			}
		}
		if info.BuildTime == unset && at != "" {
			info.BuildTime = at
		}
	}
	return info
}

func vcsStamp() (revision, at string, dirty bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", "", false
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return revision, at, dirty
}

// String is the one-line form used by --version.
func String() string {
	i := Get()
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s (commit %s, %s, built %s)", i.Version, commit, i.GoVersion, i.BuildTime)
}
