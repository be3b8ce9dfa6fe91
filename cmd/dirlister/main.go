package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"dirlister/internal/cli"
	"dirlister/internal/version"
)

const (
	exitCodeSuccess = 0
	exitCodeFailure = 1
	exitCodeUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	deps := defaultCommandDeps()
	deps.Stdout = out
	deps.Stderr = errOut

	if len(args) == 0 || (len(args) > 0 && len(args[0]) > 0 && args[0][0] == '-') {
		return runTopLevel(args, out, errOut)
	}
	cmd, cmdArgs, ok := resolveCommand(args, deps)
	if !ok {
		fmt.Fprintf(errOut, "unknown command %q\n", args[0])
		printUsage(errOut)
		return exitCodeUsage
	}
	return cmd.Run(cmdArgs)
}

func runTopLevel(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("dirlister", flag.ContinueOnError)
	fs.SetOutput(errOut)
	flags := cli.AddHelpVersionFlags(fs, "", "")
	fs.Usage = func() { printUsage(errOut) }
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if flags.Version {
		fmt.Fprintln(out, version.GetVersionInfo().Line("dirlister"))
		return exitCodeSuccess
	}
	printUsage(errOut)
	if flags.Help {
		return exitCodeSuccess
	}
	return exitCodeUsage
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `usage: dirlister <command> [flags]

commands:
  list [-config file] [-reload] <location>     list a directory once
  watch [-config file] [-relay url] <loc>...   follow directories until interrupted
  relay [-config file] [-listen addr]          serve the change relay and metrics
  config schema [settings|dir-event]           print a JSON schema

flags:
  -h, -help       show help
  -v, -version    print version and exit
`)
}
