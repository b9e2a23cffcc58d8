// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command raidctl drives the raidbd engine against plain files
// standing in for base bdevs: "array create" formats a fresh array
// across them, "array list"/"array dump" reconstruct one from the
// superblocks already on disk the same way a process restart's
// examine pass would, and "io" issues one-shot read/write/reset
// requests.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	lvl := logLevelFlag{Level: logrus.InfoLevel}

	argparser := &cobra.Command{
		Use:   "raidctl {[flags]|SUBCOMMAND}",
		Short: "Inspect and drive a software RAID virtual block device",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	argparser.PersistentFlags().Var(&lvl, "verbosity", "set the verbosity")

	argparser.AddCommand(newBaseCmd())
	argparser.AddCommand(newArrayCmd())
	argparser.AddCommand(newIOCmd())

	argparser.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		logger := logrus.New()
		logger.SetLevel(lvl.Level)
		ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))
		cmd.SetContext(ctx)
		return nil
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}

// run wraps fn in a dgroup the same way the rest of this codebase's
// commands do, so a later addition of signal handling or a background
// task doesn't require restructuring every subcommand.
func run(ctx context.Context, fn func(ctx context.Context) error) error {
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		EnableSignalHandling: true,
	})
	grp.Go("main", fn)
	return grp.Wait()
}
