// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidhost_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockraid/raidbd/internal/raidhost"
	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/util"
)

func TestClaimModuleRejectsConflictingOwner(t *testing.T) {
	host := raidhost.New()
	h := raidio.NewMemHandle("b0", 512, 8)
	host.RegisterBase("b0", util.Nil, h)

	require.NoError(t, host.ClaimModule(h, "array-a"))
	assert.Error(t, host.ClaimModule(h, "array-b"))
	// Re-claiming by the same owner is fine.
	assert.NoError(t, host.ClaimModule(h, "array-a"))

	host.ReleaseModule(h)
	assert.NoError(t, host.ClaimModule(h, "array-b"))
}

func TestOpenExtDeliversEvents(t *testing.T) {
	host := raidhost.New()
	h := raidio.NewMemHandle("b0", 512, 8)
	host.RegisterBase("b0", util.Nil, h)

	events := make(chan raid.Event, 1)
	_, err := host.OpenExt(context.Background(), "b0", true, func(ev raid.Event) {
		events <- ev
	})
	require.NoError(t, err)

	host.NotifyRemove(context.Background(), "b0")
	select {
	case ev := <-events:
		assert.Equal(t, raid.EventRemove, ev)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NotifyRemove to fire onEvent")
	}
}

func TestOpenExtUnknownBase(t *testing.T) {
	host := raidhost.New()
	_, err := host.OpenExt(context.Background(), "missing", false, nil)
	assert.Error(t, err)
}

func TestCloseForgetsSubscriptionWithoutClosingHandle(t *testing.T) {
	host := raidhost.New()
	h := raidio.NewMemHandle("b0", 512, 8)
	host.RegisterBase("b0", util.Nil, h)

	opened, err := host.OpenExt(context.Background(), "b0", true, func(raid.Event) {
		t.Fatal("onEvent should not fire after Close")
	})
	require.NoError(t, err)
	require.NoError(t, host.Close(opened))

	host.NotifyRemove(context.Background(), "b0")

	// The base is still registered and usable after Close.
	again, ok := host.LookupBaseByName("b0")
	require.True(t, ok)
	assert.Equal(t, h, again)
}
