package version

import (
	"fmt"
	"runtime"
)

// Build information injected at compile time via ldflags
var (
	// Version is the semantic version of the application
	Version = "v0.0.0-dev"

	// Commit is the git commit hash
	Commit = "unknown"

	// BuildTime is the timestamp when the binary was built
	BuildTime = "unknown"
)

// Info returns a formatted string with version information
func Info() string {
	return fmt.Sprintf("lego-hub-manager %s (commit: %s)", Version, Commit)
}

// DetailedInfo returns detailed version information
func DetailedInfo() string {
	b := GetBuildInfo()
	return fmt.Sprintf(
		"lego-hub-manager %s\n"+
			"  Commit: %s\n"+
			"  Built: %s\n"+
			"  Go: %s\n"+
			"  OS/Arch: %s/%s",
		b.Version,
		b.Commit,
		b.BuildTime,
		b.GoVersion,
		b.OS,
		b.Arch,
	)
}

// GetVersion returns just the version string
func GetVersion() string {
	return Version
}

// BuildInfo holds all build-related information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns a structured BuildInfo
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
