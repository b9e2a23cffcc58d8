// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/util"
)

func newBaseCmd() *cobra.Command {
	var sizeMB int64

	cmd := &cobra.Command{
		Use:   "base {[flags]|SUBCOMMAND}",
		Short: "Prepare flat files to use as base bdevs",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	formatCmd := &cobra.Command{
		Use:   "format PATH",
		Short: "Create a zero-filled flat file to use as a base bdev",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			return f.Truncate(sizeMB * 1024 * 1024)
		},
	}
	formatCmd.Flags().Int64Var(&sizeMB, "size-mb", 64, "size of the file, in MiB")
	cmd.AddCommand(formatCmd)
	return cmd
}

// openBase opens path as an OS-file-backed base bdev, registering it
// with host under its own path as its name.
func openBase(host *raidhost.Host, path string, blockLen uint32) (raidio.Handle, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("base bdev %q: %w", path, err)
	}
	numBlocks := raidio.BlockAddr(fi.Size() / int64(blockLen))
	h, err := raidio.NewOSHandle(path, blockLen, numBlocks, 16)
	if err != nil {
		return nil, fmt.Errorf("base bdev %q: %w", path, err)
	}
	host.RegisterBase(path, util.Nil, h)
	return h, nil
}
