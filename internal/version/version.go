// Package version exposes build metadata injected with -ldflags.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// IsDev reports whether the binary was built without release metadata.
func (info VersionInfo) IsDev() bool {
	return info.Version == "" || info.Version == "dev"
}

// Line renders the one-line form printed by -version, for example
// "dirlister version 1.2.3 (abc123, 2026-01-11T12:34:56Z)".
func (info VersionInfo) Line(program string) string {
	if info.IsDev() {
		return program + " dev"
	}
	line := fmt.Sprintf("%s version %s", program, info.Version)
	var details []string
	if info.GitCommit != "" {
		details = append(details, info.GitCommit)
	}
	if info.Built != "" {
		details = append(details, info.Built)
	}
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}
	return line
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
