package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"datalayer/internal/config"
)

// runInit writes the effective configuration, global flags applied, so it
// can be edited instead of written from scratch
func runInit(_ context.Context, e *env, args []string) error {
	flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
	force := flags.Bool("force", false, "overwrite an existing file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := config.DefaultConfigPath()
	if flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := e.cfg.Save(path); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
