package main

import (
	"bytes"
	"io"
	"reflect"
	"testing"
)

func stubCommandDeps() commandDeps {
	stub := func(args []string, out io.Writer, errOut io.Writer) int { return 0 }
	return commandDeps{
		Stdout:    io.Discard,
		Stderr:    io.Discard,
		RunList:   stub,
		RunWatch:  stub,
		RunRelay:  stub,
		RunSchema: stub,
	}
}

func TestResolveCommandForwardsArgs(t *testing.T) {
	cases := []struct {
		name     string
		args     []string
		wantArgs []string
		code     int
		set      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int)
	}{
		{
			name:     "list",
			args:     []string{"list", "-reload", "/tmp"},
			wantArgs: []string{"-reload", "/tmp"},
			code:     3,
			set:      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int) { deps.RunList = run },
		},
		{
			name:     "ls alias",
			args:     []string{"ls", "/tmp"},
			wantArgs: []string{"/tmp"},
			code:     4,
			set:      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int) { deps.RunList = run },
		},
		{
			name:     "watch",
			args:     []string{"watch", "/a", "/b"},
			wantArgs: []string{"/a", "/b"},
			code:     5,
			set:      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int) { deps.RunWatch = run },
		},
		{
			name:     "relay",
			args:     []string{"relay", "-listen", ":0"},
			wantArgs: []string{"-listen", ":0"},
			code:     6,
			set:      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int) { deps.RunRelay = run },
		},
		{
			name:     "config schema",
			args:     []string{"config", "schema", "dir-event"},
			wantArgs: []string{"dir-event"},
			code:     7,
			set:      func(deps *commandDeps, run func([]string, io.Writer, io.Writer) int) { deps.RunSchema = run },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := stubCommandDeps()
			var gotArgs []string
			tc.set(&deps, func(args []string, out io.Writer, errOut io.Writer) int {
				gotArgs = append([]string(nil), args...)
				return tc.code
			})
			cmd, cmdArgs, ok := resolveCommand(tc.args, deps)
			if !ok {
				t.Fatalf("expected command to resolve")
			}
			if code := cmd.Run(cmdArgs); code != tc.code {
				t.Fatalf("expected code %d, got %d", tc.code, code)
			}
			if !reflect.DeepEqual(gotArgs, tc.wantArgs) {
				t.Fatalf("expected args %v, got %v", tc.wantArgs, gotArgs)
			}
		})
	}
}

func TestResolveCommandPassesWriters(t *testing.T) {
	deps := stubCommandDeps()
	var stdout, stderr bytes.Buffer
	deps.Stdout = &stdout
	deps.Stderr = &stderr
	deps.RunList = func(args []string, out io.Writer, errOut io.Writer) int {
		io.WriteString(out, "out")
		io.WriteString(errOut, "err")
		return 0
	}

	cmd, cmdArgs, ok := resolveCommand([]string{"list", "/"}, deps)
	if !ok {
		t.Fatalf("expected list to resolve")
	}
	cmd.Run(cmdArgs)
	if stdout.String() != "out" || stderr.String() != "err" {
		t.Fatalf("expected writers to be forwarded, got %q / %q", stdout.String(), stderr.String())
	}
}

func TestResolveCommandUnknown(t *testing.T) {
	for _, args := range [][]string{nil, {"bogus"}, {"config"}, {"config", "validate"}} {
		if _, _, ok := resolveCommand(args, stubCommandDeps()); ok {
			t.Fatalf("expected %v not to resolve", args)
		}
	}
}
