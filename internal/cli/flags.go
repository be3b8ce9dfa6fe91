// Package cli holds flag helpers shared by dirlister subcommands.
package cli

import (
	"flag"
	"os"
	"strings"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
	configDesc         = "Settings file (TOML or YAML)"

	// ConfigEnv names the settings file when -config is not given.
	ConfigEnv = "DIRLISTER_CONFIG"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// AddConfigFlag registers -config and -c. The default comes from
// DIRLISTER_CONFIG.
func AddConfigFlag(fs *flag.FlagSet) *string {
	path := new(string)
	if fs == nil {
		return path
	}
	fallback := strings.TrimSpace(os.Getenv(ConfigEnv))
	fs.StringVar(path, "config", fallback, configDesc)
	fs.StringVar(path, "c", fallback, configDesc)
	return path
}
