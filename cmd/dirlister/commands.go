package main

import (
	"io"
	"os"
)

type command interface {
	Run(args []string) int
}

type commandDeps struct {
	Stdout    io.Writer
	Stderr    io.Writer
	RunList   func(args []string, out io.Writer, errOut io.Writer) int
	RunWatch  func(args []string, out io.Writer, errOut io.Writer) int
	RunRelay  func(args []string, out io.Writer, errOut io.Writer) int
	RunSchema func(args []string, out io.Writer, errOut io.Writer) int
}

func defaultCommandDeps() commandDeps {
	return commandDeps{
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
		RunList:   runList,
		RunWatch:  runWatch,
		RunRelay:  runRelay,
		RunSchema: runSchema,
	}
}

// runnerCommand binds one subcommand runner to the command's writers.
type runnerCommand struct {
	run    func(args []string, out io.Writer, errOut io.Writer) int
	stdout io.Writer
	stderr io.Writer
}

func (c runnerCommand) Run(args []string) int {
	return c.run(args, c.stdout, c.stderr)
}

func resolveCommand(args []string, deps commandDeps) (command, []string, bool) {
	if len(args) == 0 {
		return nil, nil, false
	}
	bind := func(run func([]string, io.Writer, io.Writer) int) command {
		return runnerCommand{run: run, stdout: deps.Stdout, stderr: deps.Stderr}
	}
	switch args[0] {
	case "list", "ls":
		return bind(deps.RunList), args[1:], true
	case "watch":
		return bind(deps.RunWatch), args[1:], true
	case "relay":
		return bind(deps.RunRelay), args[1:], true
	case "config":
		if len(args) > 1 && args[1] == "schema" {
			return bind(deps.RunSchema), args[2:], true
		}
	}
	return nil, nil, false
}
