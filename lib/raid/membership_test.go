// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/raid/raidsb"
	"github.com/blockraid/raidbd/lib/util"

	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/concat"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid0"
	_ "github.com/blockraid/raidbd/lib/raid/raidlevel/raid1"
)

var nameCounter int64

// newTestHost returns a Host with n named bases ("b0".."b(n-1)"),
// each blocks blocks of blockLen bytes, registered and ready to be
// claimed by Create.
func newTestHost(t *testing.T, n int, blocks raidio.BlockAddr, blockLen uint32) (*raidhost.Host, []string) {
	t.Helper()
	host := raidhost.New()
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = "b" + string(rune('0'+i))
		host.RegisterBase(names[i], util.Nil, raidio.NewMemHandle(names[i], blockLen, blocks))
	}
	return host, names
}

// uniqueName returns a short array name unique within this test binary's
// run, staying well under raidsb.MaxNameSize regardless of the calling
// test's own name length.
func uniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("arr%d", atomic.AddInt64(&nameCounter, 1))
}

func TestCreateGoesOnlineWhenEveryBaseIsPresent(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name:        uniqueName(t),
		Level:       raidlevel.Level0,
		StripSizeKB: 2, // 4 blocks at 512B
		Superblock:  true,
		BaseBdevs:   names,
	})
	require.NoError(t, err)
	assert.Equal(t, raid.StateOnline, d.State())
	assert.Equal(t, 2, d.Operational())
	assert.True(t, d.HasSuperblock())
}

func TestCreateStaysConfiguringWithAPendingSlot(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name:        uniqueName(t),
		Level:       raidlevel.Level1,
		Superblock:  false,
		BaseBdevs:   []string{names[0], ""},
	})
	require.NoError(t, err)
	assert.Equal(t, raid.StateConfiguring, d.State())
	assert.Equal(t, 1, d.Operational())

	require.NoError(t, d.AddBySlot(context.Background(), 1, names[1]))
	assert.Equal(t, raid.StateOnline, d.State())
	assert.Equal(t, 2, d.Operational())
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)
	name := uniqueName(t)

	_, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: name, Level: raidlevel.Level0, StripSizeKB: 2, BaseBdevs: names,
	})
	require.NoError(t, err)

	_, err = raid.Create(context.Background(), host, raid.CreateOptions{
		Name: name, Level: raidlevel.Level0, StripSizeKB: 2, BaseBdevs: names,
	})
	require.Error(t, err)
	code, ok := raid.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, raid.AlreadyExists, code)
}

func TestCreateRejectsBelowMinBaseBdevs(t *testing.T) {
	host, names := newTestHost(t, 1, 64, 512)

	_, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level1, BaseBdevs: names,
	})
	require.Error(t, err)
	code, _ := raid.CodeOf(err)
	assert.Equal(t, raid.InvalidArgument, code)
}

func TestRemoveBaseBdevAtMinOperationalGoesOffline(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level1, BaseBdevs: names,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.MinOperational())

	// Dropping from 2 operational to 1 reaches min_operational without
	// going below it: a benign remove.
	require.NoError(t, d.RemoveBaseBdev(context.Background(), names[0]))
	assert.Equal(t, 1, d.Operational())
	assert.Equal(t, raid.StateOnline, d.State())

	// Removing the last remaining member would drop to 0, at or below
	// min_operational: a fatal remove that deconfigures the array
	// instead of erroring out.
	var cbErr error
	cbFired := make(chan struct{})
	require.NoError(t, d.RemoveBaseBdevAsync(context.Background(), names[1], func(err error) {
		cbErr = err
		close(cbFired)
	}))
	<-cbFired
	assert.NoError(t, cbErr)
	assert.Equal(t, raid.StateOffline, d.State())
}

// readSuperblock reads and decodes the superblock from the reserved
// region at the front of name, the way a fresh Examine would.
func readSuperblock(t *testing.T, host *raidhost.Host, name string) *raidsb.Superblock {
	t.Helper()
	h, ok := host.LookupBaseByName(name)
	require.True(t, ok)
	dat := make([]byte, raidsb.Length)
	done := make(chan error, 1)
	require.NoError(t, h.SubmitRead(context.Background(), dat, 0, func(err error) { done <- err }))
	require.NoError(t, <-done)
	sb, err := raidsb.Decode(dat)
	require.NoError(t, err)
	return sb
}

func TestBenignRemoveMarksSuperblockEntryFailed(t *testing.T) {
	host, names := newTestHost(t, 3, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level1, Superblock: true, BaseBdevs: names,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.MinOperational())

	// Dropping from 3 operational to 2 stays above min_operational: a
	// benign remove of slot 0.
	require.NoError(t, d.RemoveBaseBdev(context.Background(), names[0]))
	assert.Equal(t, raid.StateOnline, d.State())

	sb := readSuperblock(t, host, names[1])
	require.Equal(t, raidsb.BaseEntryFailed, sb.Entries[0].State)

	// A later superblock rewrite (triggered by a second benign remove)
	// must not revert the FAILED entry back to VACANT.
	require.NoError(t, d.RemoveBaseBdev(context.Background(), names[2]))
	sb = readSuperblock(t, host, names[1])
	assert.Equal(t, raidsb.BaseEntryFailed, sb.Entries[0].State)
}

func TestRemoveThenAddBackBaseBdev(t *testing.T) {
	host, names := newTestHost(t, 3, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level1, BaseBdevs: names,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.MinOperational())

	require.NoError(t, d.RemoveBaseBdev(context.Background(), names[0]))
	assert.Equal(t, 2, d.Operational())

	require.NoError(t, d.AddBaseBdev(context.Background(), names[0]))
	assert.Equal(t, 3, d.Operational())
}

func TestDeleteIsNotIdempotent(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level0, StripSizeKB: 2, BaseBdevs: names,
	})
	require.NoError(t, err)

	require.NoError(t, d.Delete(context.Background()))
	_, found := raid.Lookup(d.Name())
	assert.False(t, found)

	err = d.Delete(context.Background())
	require.Error(t, err)
	code, _ := raid.CodeOf(err)
	assert.Equal(t, raid.AlreadyExists, code)
}

func TestConcatMinBaseBdevsOfOne(t *testing.T) {
	host, names := newTestHost(t, 1, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.LevelConcat, StripSizeKB: 2, BaseBdevs: names,
	})
	require.NoError(t, err)
	assert.Equal(t, raid.StateOnline, d.State())
}
