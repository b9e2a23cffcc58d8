// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
)

func TestSubmitReadFailsWithoutDispatchingOnBufferFailure(t *testing.T) {
	host, names := newTestHost(t, 2, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.Level1, BaseBdevs: names,
	})
	require.NoError(t, err)

	host.FailNextIOBuf()

	ch := host.Channel(d)
	buf := make([]byte, 512)
	done := make(chan error, 1)
	submitErr := d.Submit(context.Background(), ch, raidlevel.IOTypeRead, 0, 1, buf, func(err error) { done <- err })
	require.NoError(t, submitErr)

	err = <-done
	require.Error(t, err)
	code, _ := raid.CodeOf(err)
	assert.Equal(t, raid.ResourceExhausted, code)
}

// resetFailHandle wraps a MemHandle to report a synchronous,
// non-ENOMEM submission failure from SubmitReset instead of completing
// through the callback, the way a base handle rejecting a submission
// outright (rather than accepting and later failing it) would.
type resetFailHandle struct {
	*raidio.MemHandle
	err error
}

func (h *resetFailHandle) SubmitReset(ctx context.Context, done raidio.CompleteFunc) error {
	return h.err
}

func TestResetStopsAtFirstNonENOMEMSubmissionFailure(t *testing.T) {
	host, names := newTestHost(t, 3, 64, 512)

	d, err := raid.Create(context.Background(), host, raid.CreateOptions{
		Name: uniqueName(t), Level: raidlevel.LevelConcat, StripSizeKB: 2, BaseBdevs: names,
	})
	require.NoError(t, err)

	ch := host.Channel(d)
	failing := &resetFailHandle{
		MemHandle: ch.Get(1).(*raidio.MemHandle),
		err:       errors.New("hard submission failure"),
	}
	ch.Set(1, failing)

	done := make(chan error, 1)
	submitErr := d.Submit(context.Background(), ch, raidlevel.IOTypeReset, 0, 0, nil, func(err error) { done <- err })
	require.NoError(t, submitErr)

	err = <-done
	require.Error(t, err)
	assert.Equal(t, "hard submission failure", err.Error())
}
