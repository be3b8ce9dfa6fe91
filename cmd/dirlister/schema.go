package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"dirlister/internal/config"
	"dirlister/internal/event"
	"dirlister/internal/schema"
)

func registerSchemas() error {
	return errors.Join(config.RegisterSchema(), event.RegisterSchema())
}

func runSchema(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("dirlister config schema", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		return exitCodeUsage
	}
	if err := registerSchemas(); err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeFailure
	}

	name := config.SettingsSchemaName
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}
	payload, err := schema.Marshal(name)
	if err != nil {
		fmt.Fprintf(errOut, "%v (known: %s)\n", err, strings.Join(schema.Names(), ", "))
		return exitCodeUsage
	}
	if _, err := out.Write(payload); err != nil {
		return exitCodeFailure
	}
	return exitCodeSuccess
}
