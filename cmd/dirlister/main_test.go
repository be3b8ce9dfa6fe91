package main

import (
	"bytes"
	"strings"
	"testing"

	"dirlister/internal/version"
)

func TestRunVersionFlag(t *testing.T) {
	previous := version.Version
	version.Version = "1.4.0"
	t.Cleanup(func() { version.Version = previous })

	var out, errOut bytes.Buffer
	if code := run([]string{"-v"}, &out, &errOut); code != exitCodeSuccess {
		t.Fatalf("expected success, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "dirlister version 1.4.0") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestRunHelpPrintsUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"-h"}, &out, &errOut); code != exitCodeSuccess {
		t.Fatalf("expected success, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage: dirlister") {
		t.Fatalf("expected usage, got %q", errOut.String())
	}
}

func TestRunWithoutArgsIsUsageError(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != exitCodeUsage {
		t.Fatalf("expected usage code, got %d", code)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"frobnicate"}, &out, &errOut); code != exitCodeUsage {
		t.Fatalf("expected usage code, got %d", code)
	}
	if !strings.Contains(errOut.String(), `unknown command "frobnicate"`) {
		t.Fatalf("unexpected stderr %q", errOut.String())
	}
}
