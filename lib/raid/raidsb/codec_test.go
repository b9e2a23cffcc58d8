// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidsb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/lib/raid/raidsb"
	"github.com/blockraid/raidbd/lib/util"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	arrayUUID := util.NewUUID()
	sb := raidsb.NewSuperblock(arrayUUID, "r0", 1, 2)
	sb.SeqNumber = 7
	sb.StripSizeBlocks = 16384
	sb.BlockSize = 4096
	sb.TotalBlocks = 1 << 20
	sb.Entries[0].State = raidsb.BaseEntryConfigured
	sb.Entries[0].UUID = util.NewUUID()
	sb.Entries[0].DataOffset = 1
	sb.Entries[0].DataSize = 100

	dat, err := raidsb.Encode(sb)
	require.NoError(t, err)
	assert.Len(t, dat, raidsb.Length)

	got, err := raidsb.Decode(dat)
	require.NoError(t, err)
	assert.Equal(t, *sb, *got)

	dat2, err := raidsb.Encode(got)
	require.NoError(t, err)
	assert.Equal(t, dat, dat2)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	t.Parallel()

	sb := raidsb.NewSuperblock(util.NewUUID(), "r0", 0, 1)
	dat, err := raidsb.Encode(sb)
	require.NoError(t, err)
	dat[4] ^= 0xff

	_, err = raidsb.Decode(dat)
	assert.ErrorIs(t, err, raidsb.ErrBadMagic)
}

func TestDecodeRejectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	sb := raidsb.NewSuperblock(util.NewUUID(), "r0", 0, 1)
	dat, err := raidsb.Encode(sb)
	require.NoError(t, err)
	dat[len(dat)-1] ^= 0xff

	_, err = raidsb.Decode(dat)
	assert.ErrorIs(t, err, raidsb.ErrChecksumMismatch)
}

func TestName(t *testing.T) {
	t.Parallel()

	sb := raidsb.NewSuperblock(util.NewUUID(), "myarray", 1, 1)
	assert.Equal(t, "myarray", sb.Name())
}
