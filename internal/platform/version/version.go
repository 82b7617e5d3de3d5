// Package version reports the build the server was compiled from.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Name identifies the service in logs, user agents and metrics.
const Name = "stickerwall"

// Set with -ldflags "-X .../version.Version=v1.2.0" and friends.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Modified  bool   `json:"modified,omitempty"`
}

// Get returns the ldflags values, falling back to the VCS stamp the Go
// toolchain embeds when the binary was built without them.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		applyVCS(&info, bi.Settings)
	}
	return info
}

func applyVCS(info *Info, settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "unknown" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s, built %s, %s)", Name, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
