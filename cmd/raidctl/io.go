// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
)

// blockingSubmit adapts dev.Submit's async done callback into a
// blocking call, the way a one-shot CLI invocation wants it: the
// process has nothing useful to do while the request is in flight.
func blockingSubmit(ctx context.Context, dev *raid.Device, typ raidlevel.IOType, offset, length int64, buf []byte, host *raidhost.Host) error {
	ch := host.Channel(dev)
	done := make(chan error, 1)
	if err := dev.Submit(ctx, ch, typ, offset, length, buf, func(err error) { done <- err }); err != nil {
		return err
	}
	return <-done
}

func newIOCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "io {[flags]|SUBCOMMAND}",
		Short: "Issue one-shot read, write, and reset requests against an array",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	cmd.AddCommand(newIOReadCmd())
	cmd.AddCommand(newIOWriteCmd())
	cmd.AddCommand(newIOResetCmd())
	return cmd
}

func newIOReadCmd() *cobra.Command {
	var name, out string
	var bases []string
	var blockSize uint32
	var offset, length int64

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read length blocks starting at offset and write them to --out",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				host, err := openAllBases(bases, blockSize)
				if err != nil {
					return err
				}
				d, err := assembleNamed(ctx, host, bases, name)
				if err != nil {
					return err
				}
				buf := make([]byte, length*int64(blockSize))
				if err := blockingSubmit(ctx, d, raidlevel.IOTypeRead, offset, length, buf, host); err != nil {
					return err
				}
				if out == "-" || out == "" {
					_, err = os.Stdout.Write(buf)
					return err
				}
				f, err := os.OpenFile(out, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				_, err = f.Write(buf)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	cmd.Flags().Int64Var(&offset, "offset", 0, "starting block address")
	cmd.Flags().Int64Var(&length, "length", 1, "number of blocks to read")
	cmd.Flags().StringVar(&out, "out", "-", "file to write the blocks to, or - for stdout")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func newIOWriteCmd() *cobra.Command {
	var name, in string
	var bases []string
	var blockSize uint32
	var offset, length int64

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write length blocks at offset, sourced from --in",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				host, err := openAllBases(bases, blockSize)
				if err != nil {
					return err
				}
				d, err := assembleNamed(ctx, host, bases, name)
				if err != nil {
					return err
				}
				want := length * int64(blockSize)
				buf := make([]byte, want)
				var r io.Reader = os.Stdin
				if in != "" && in != "-" {
					f, err := os.Open(in)
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}
				if _, err := io.ReadFull(r, buf); err != nil {
					return fmt.Errorf("reading %d bytes of write payload: %w", want, err)
				}
				return blockingSubmit(ctx, d, raidlevel.IOTypeWrite, offset, length, buf, host)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	cmd.Flags().Int64Var(&offset, "offset", 0, "starting block address")
	cmd.Flags().Int64Var(&length, "length", 1, "number of blocks to write")
	cmd.Flags().StringVar(&in, "in", "-", "file to read the blocks from, or - for stdin")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func newIOResetCmd() *cobra.Command {
	var name string
	var bases []string
	var blockSize uint32

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Issue a RESET across every member of an array",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				host, err := openAllBases(bases, blockSize)
				if err != nil {
					return err
				}
				d, err := assembleNamed(ctx, host, bases, name)
				if err != nil {
					return err
				}
				return blockingSubmit(ctx, d, raidlevel.IOTypeReset, 0, 0, nil, host)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}
