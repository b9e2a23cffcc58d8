// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"

	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/concat"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid0"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid1"
)

func parseLevel(s string) (raidlevel.Level, error) {
	switch s {
	case "raid0":
		return raidlevel.Level0, nil
	case "raid1":
		return raidlevel.Level1, nil
	case "concat":
		return raidlevel.LevelConcat, nil
	default:
		return 0, fmt.Errorf("unknown level %q (want raid0, raid1, or concat)", s)
	}
}

// openAllBases opens every path in bases as a base bdev against a
// fresh host, returning the host for further use.
func openAllBases(bases []string, blockSize uint32) (*raidhost.Host, error) {
	host := raidhost.New()
	for _, path := range bases {
		if _, err := openBase(host, path, blockSize); err != nil {
			return nil, err
		}
	}
	return host, nil
}

// assembleNamed reconciles every superblock found across bases and
// returns the in-memory *raid.Device for name, the way a process
// restart's examine pass would reconstruct it.
func assembleNamed(ctx context.Context, host *raidhost.Host, bases []string, name string) (*raid.Device, error) {
	if _, err := raid.Examine(ctx, host, bases); err != nil {
		return nil, err
	}
	d, ok := raid.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("array %q not found among the given base bdevs", name)
	}
	return d, nil
}

func newArrayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "array {[flags]|SUBCOMMAND}",
		Short: "Create, list, and modify RAID arrays",
		Args:  cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE:  cliutil.RunSubcommands,
	}
	cmd.AddCommand(newArrayCreateCmd())
	cmd.AddCommand(newArrayListCmd())
	cmd.AddCommand(newArrayAddBaseCmd())
	cmd.AddCommand(newArrayRemoveBaseCmd())
	cmd.AddCommand(newArrayDeleteCmd())
	cmd.AddCommand(newArrayDumpCmd())
	return cmd
}

func newArrayCreateCmd() *cobra.Command {
	var name, levelStr string
	var stripKB uint64
	var superblock bool
	var bases []string
	var blockSize uint32

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Format and bring up a new array across one or more base bdevs",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				level, err := parseLevel(levelStr)
				if err != nil {
					return err
				}
				if level == raidlevel.Level1 {
					stripKB = 0
				}
				host, err := openAllBases(bases, blockSize)
				if err != nil {
					return err
				}
				d, err := raid.Create(ctx, host, raid.CreateOptions{
					Name:        name,
					Level:       level,
					StripSizeKB: stripKB,
					Superblock:  superblock,
					BaseBdevs:   bases,
				})
				if err != nil {
					return err
				}
				return printInfo(os.Stdout, d.Info(), false)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringVar(&levelStr, "level", "", "raid0, raid1, or concat")
	cmd.Flags().Uint64Var(&stripKB, "strip-kb", 64, "strip size in KiB (ignored for raid1)")
	cmd.Flags().BoolVar(&superblock, "superblock", true, "write an on-disk superblock to every member")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("level")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func newArrayListCmd() *cobra.Command {
	var bases []string
	var blockSize uint32
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Reconstruct and list every array found across the given base bdevs",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				host, err := openAllBases(bases, blockSize)
				if err != nil {
					return err
				}
				if _, err := raid.Examine(ctx, host, bases); err != nil {
					return err
				}
				for _, info := range raid.List(raid.CategoryAll) {
					if err := printInfo(os.Stdout, info, jsonOut); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON instead of a table")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func newArrayAddBaseCmd() *cobra.Command {
	var name, addPath string
	var bases []string
	var blockSize uint32

	cmd := &cobra.Command{
		Use:   "add-base",
		Short: "Bind a new base bdev into an existing array's first vacant slot",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), func(ctx context.Context) error {
				host, err := openAllBases(append(bases, addPath), blockSize)
				if err != nil {
					return err
				}
				d, err := assembleNamed(ctx, host, bases, name)
				if err != nil {
					return err
				}
				if err := d.AddBaseBdev(ctx, addPath); err != nil {
					return err
				}
				return printInfo(os.Stdout, d.Info(), false)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringVar(&addPath, "add-base", "", "path to the new base bdev file")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to an existing member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("add-base")
	return cmd
}

func newArrayRemoveBaseCmd() *cobra.Command {
	var name, removePath string
	var bases []string
	var blockSize uint32

	cmd := &cobra.Command{
		Use:   "remove-base",
		Short: "Release one member base bdev from an array",
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
				removed := make(chan error, 1)
				if err := d.RemoveBaseBdevAsync(ctx, removePath, func(err error) { removed <- err }); err != nil {
					return err
				}
				if err := <-removed; err != nil {
					dlog.Errorf(ctx, "remove-base %q: removal callback reported error: %v", removePath, err)
				} else {
					dlog.Debugf(ctx, "remove-base %q: removal callback fired", removePath)
				}
				return printInfo(os.Stdout, d.Info(), false)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringVar(&removePath, "remove-base", "", "path of the member base bdev to release")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("remove-base")
	return cmd
}

func newArrayDeleteCmd() *cobra.Command {
	var name string
	var bases []string
	var blockSize uint32

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Tear down an array",
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
				return d.Delete(ctx)
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

func newArrayDumpCmd() *cobra.Command {
	var name string
	var bases []string
	var blockSize uint32
	var debug bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print everything known about an array",
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
				if debug {
					cfg := spew.NewDefaultConfig()
					cfg.DisablePointerAddresses = true
					cfg.Dump(d.Info())
					return nil
				}
				return printInfo(os.Stdout, d.Info(), true)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "array name")
	cmd.Flags().StringArrayVar(&bases, "base", nil, "path to a member's base bdev file; repeatable")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 4096, "block length in bytes")
	cmd.Flags().BoolVar(&debug, "debug", false, "dump with go-spew instead of JSON")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("base")
	return cmd
}

func printInfo(w *os.File, info raid.Info, jsonOut bool) error {
	if jsonOut {
		return lowmemjson.Encode(&lowmemjson.ReEncoder{
			Out:                   w,
			Indent:                "  ",
			ForceTrailingNewlines: true,
		}, info)
	}
	fmt.Fprintf(w, "%-20s %-10v %-10v %d/%d bases operational\n", info.Name, info.Level, info.State, info.NumBaseBdevsOperational, info.NumBaseBdevs)
	for i, b := range info.BaseBdevs {
		fmt.Fprintf(w, "  slot %d: %-30s configured=%v remove_scheduled=%v\n", i, b.Name, b.IsConfigured, b.RemoveScheduled)
	}
	return nil
}
