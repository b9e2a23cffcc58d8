// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/util"
)

func TestExamineReassemblesArrayFromSuperblocksInAFreshHost(t *testing.T) {
	ctx := context.Background()
	createHost, names := newTestHost(t, 2, 64, 512)
	arrName := uniqueName(t)

	d, err := raid.Create(ctx, createHost, raid.CreateOptions{
		Name:        arrName,
		Level:       raidlevel.Level1,
		Superblock:  true,
		BaseBdevs:   names,
	})
	require.NoError(t, err)
	require.NoError(t, d.Delete(ctx))

	// A second process (modeled here as a fresh host with the same
	// underlying base handles re-registered) would only have the
	// on-disk superblocks to go on.
	examineHost := raidhost.New()
	for _, name := range names {
		h, ok := createHost.LookupBaseByName(name)
		require.True(t, ok)
		examineHost.RegisterBase(name, util.Nil, h)
	}

	results, err := raid.Examine(ctx, examineHost, names)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Created)
	assert.Equal(t, arrName, results[0].Name)
	assert.Equal(t, 2, results[0].Bound)

	reassembled, ok := raid.Lookup(arrName)
	require.True(t, ok)
	assert.Equal(t, raid.StateOnline, reassembled.State())
}

func TestExamineIgnoresBasesWithNoSuperblock(t *testing.T) {
	ctx := context.Background()
	host := raidhost.New()
	h := raidio.NewMemHandle("blank", 512, 64)
	host.RegisterBase("blank", util.Nil, h)

	results, err := raid.Examine(ctx, host, []string{"blank"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
