// Package version reports the build version of spatialvoice.
package version

import (
	"os"
	"runtime/debug"
	"sync"
)

// Base is the release version without revision suffix.
const Base = "0.1.0"

var (
	once   sync.Once
	cached string
)

// String returns "v<Base>-<sha7>" when a revision is known, else "v<Base>".
// The revision comes from $SOURCE_VERSION, then $GIT_REV, then the VCS stamp
// embedded by the Go toolchain.
func String() string {
	once.Do(func() {
		cached = format(revision())
	})
	return cached
}

func format(sha string) string {
	if sha == "" {
		return "v" + Base
	}
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return "v" + Base + "-" + sha
}

func revision() string {
	for _, env := range []string{"SOURCE_VERSION", "GIT_REV"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
