// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidchan holds the per-executor channel topology: one base
// channel per slot, plus an optional module-private channel, created
// and torn down by the host framework as executors start and stop.
//
// This generalizes the teacher's one-map-per-physical-volume shape
// (btrfsvol.LogicalVolume's id2pv/physical2logical) from a map keyed
// by device ID to a fixed-size array keyed by slot position: channel
// topology, unlike an address map that grows as devices are added, is
// positional and sized once at array creation (N is fixed for the
// life of the array; only which slots hold a live handle changes).
package raidchan

import (
	"sync"

	"github.com/blockraid/raidbd/lib/raid/raidio"
)

// Channel is one executor's view of a RAID device: an N-entry array
// of base-channel handles (nil for a vacant or not-yet-opened slot)
// plus whatever private state the level module keeps per executor.
type Channel struct {
	mu         sync.RWMutex
	Bases      []raidio.Handle
	ModuleChan any
}

// New allocates a Channel with n slots, all initially nil.
func New(n int) *Channel {
	return &Channel{Bases: make([]raidio.Handle, n)}
}

// Get returns the handle bound to slot, or nil.
func (c *Channel) Get(slot int) raidio.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot < 0 || slot >= len(c.Bases) {
		return nil
	}
	return c.Bases[slot]
}

// Set binds slot to h (nil to clear it).
func (c *Channel) Set(slot int, h raidio.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bases[slot] = h
}

// Len returns the number of slots this channel was created with.
func (c *Channel) Len() int {
	return len(c.Bases)
}

// Clear releases (nils) every slot without closing the handles
// themselves; closing is the host's responsibility since the same
// underlying base may still be open on the app thread.
func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Bases {
		c.Bases[i] = nil
	}
	c.ModuleChan = nil
}
