package cli

import (
	"flag"
	"io"
	"testing"
)

func TestHelpFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"-h"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Help {
		t.Fatalf("expected help flag set")
	}
}

func TestVersionFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags := AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse([]string{"--version"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !flags.Version {
		t.Fatalf("expected version flag set")
	}
}

func TestConfigFlagDefaultsToEnvironment(t *testing.T) {
	t.Setenv(ConfigEnv, "/etc/dirlister.toml")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := AddConfigFlag(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *path != "/etc/dirlister.toml" {
		t.Fatalf("expected env default, got %q", *path)
	}
}

func TestConfigFlagShortForm(t *testing.T) {
	t.Setenv(ConfigEnv, "")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := AddConfigFlag(fs)

	if err := fs.Parse([]string{"-c", "local.yaml"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *path != "local.yaml" {
		t.Fatalf("expected local.yaml, got %q", *path)
	}
}
