// Package version identifies the running engine. EngineVersion takes part in
// every metric cache key, so a release bump invalidates vectors computed by
// older engines while a rebuild of the same release does not.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Overridable with -ldflags "-X qgate/internal/version.Version=...".
var (
	Version   = "1.2.0"
	Commit    = ""
	BuildDate = ""
)

// ModulePath is the engine's own module path; a target declaring it is the
// engine's source tree.
const ModulePath = "qgate"

// EngineVersion is the cache-key component: the release only.
func EngineVersion() string {
	return Version
}

var vcsOnce = sync.OnceValues(func() (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	var rev, at string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			at = s.Value
		}
	}
	return rev, at
})

// build fills whatever ldflags left empty from the binary's VCS stamp.
func build() (commit, date string) {
	commit, date = Commit, BuildDate
	if commit == "" || date == "" {
		rev, at := vcsOnce()
		if commit == "" {
			commit = rev
		}
		if date == "" {
			date = at
		}
	}
	return orUnknown(commit), orUnknown(date)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Full is the multi-line text printed by `qgate version`.
func Full() string {
	commit, date := build()
	return fmt.Sprintf("qgate %s\ncommit %s\nbuilt  %s", Version, commit, date)
}
