// Package version holds the depverify build version.
package version

import (
	"runtime/debug"

	"golang.org/x/mod/semver"

	"depverify/internal/graph"
)

// Overridden at build time:
// go build -ldflags "-X depverify/internal/version.Version=1.0.0 -X depverify/internal/version.Commit=abc123"
var (
	Version   = "0.4.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the version with a short commit suffix when one is known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return "depverify version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate + "\n" +
		"Graph schema: " + graph.SchemaVersion + "\n" +
		"Go: " + goVersion()
}

// Valid reports whether Version is a semantic version.
func Valid() bool {
	return semver.IsValid("v" + Version)
}

// Details is the machine-readable form of Full.
type Details struct {
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"buildDate"`
	SchemaVersion string `json:"schemaVersion"`
	GoVersion     string `json:"goVersion"`
}

// Get returns the build details.
func Get() Details {
	return Details{
		Version:       Version,
		Commit:        Commit,
		BuildDate:     BuildDate,
		SchemaVersion: graph.SchemaVersion,
		GoVersion:     goVersion(),
	}
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
