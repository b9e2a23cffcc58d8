// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raid is the RAID device core: the membership array, the
// lifecycle state machine, geometry derivation, the superblock
// buffer, and the I/O orchestration that dispatches front-end
// requests to a level module and aggregates their sub-completions.
package raid

import (
	"sync"

	"github.com/blockraid/raidbd/lib/raid/raidbase"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/raid/raidsb"
	"github.com/blockraid/raidbd/lib/util"
)

// State is where a Device sits in its CONFIGURING→ONLINE→OFFLINE
// lifecycle.
type State int

const (
	StateConfiguring State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Device is a RAID array. All mutation of membership, state, and the
// superblock buffer happens on the app thread (the goroutine calling
// into this package's control-plane functions) under mu, the
// array-wide lock; data-plane code only ever takes mu to snapshot
// channel handles, never to mutate membership.
type Device struct {
	mu sync.Mutex

	name  string
	uuid  util.UUID
	level raidlevel.Level
	mod   raidlevel.Module

	blockLength      uint32
	blockLengthShift uint
	totalBlocks      raidio.BlockAddr

	stripSizeKB     uint64
	stripSizeBlocks int64
	stripSizeShift  uint

	n              int
	discovered     int
	operational    int
	minOperational int

	destroyStarted bool
	state          State

	// metadataKnown/hasMetadata record the DIF/DIX uniformity decided by
	// the first bound slot; every subsequent bind must agree.
	metadataKnown bool
	hasMetadata   bool

	slots []raidbase.Slot

	sb *raidsb.Superblock // nil if superblocks are disabled for this array

	host Host
}

// Name, UUID, Level, and State are read-mostly accessors safe to call
// from any thread. UUID and State take the array lock briefly,
// matching the "control-plane reads acquire the array spin lock"
// discipline; Name and Level return fields fixed at creation and take
// no lock.
func (d *Device) Name() string { return d.name }

func (d *Device) UUID() util.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uuid
}

func (d *Device) Level() raidlevel.Level { return d.level }

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) NumBases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func (d *Device) Discovered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discovered
}

func (d *Device) Operational() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.operational
}

func (d *Device) MinOperational() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minOperational
}

func (d *Device) StripSizeKB() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stripSizeKB
}

func (d *Device) HasSuperblock() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sb != nil
}

// Geometry returns the placement parameters level modules operate on.
// Valid once the array has left CONFIGURING for the first time.
func (d *Device) Geometry() raidlevel.Geometry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return raidlevel.Geometry{
		NumBases:         d.n,
		StripSizeBlocks:  d.stripSizeBlocks,
		StripSizeShift:   d.stripSizeShift,
		BlockLength:      d.blockLength,
		BlockLengthShift: d.blockLengthShift,
	}
}

// BaseBdevInfo is one row of the base_bdevs_list reported by List.
type BaseBdevInfo struct {
	Name            string
	UUID            util.UUID
	IsConfigured    bool
	RemoveScheduled bool
	DataOffset      raidio.BlockAddr
	DataSize        raidio.BlockAddr
}

// Info is the snapshot raid_list reports for one array.
type Info struct {
	Name                   string
	UUID                   util.UUID
	StripSizeKB            uint64
	State                  State
	Level                  raidlevel.Level
	Superblock             bool
	NumBaseBdevs           int
	NumBaseBdevsDiscovered int
	NumBaseBdevsOperational int
	BaseBdevs              []BaseBdevInfo
}

// Info snapshots the array's current control-plane state.
func (d *Device) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := Info{
		Name:                    d.name,
		UUID:                    d.uuid,
		StripSizeKB:             d.stripSizeKB,
		State:                   d.state,
		Level:                   d.level,
		Superblock:              d.sb != nil,
		NumBaseBdevs:            d.n,
		NumBaseBdevsDiscovered:  d.discovered,
		NumBaseBdevsOperational: d.operational,
	}
	for i := range d.slots {
		s := &d.slots[i]
		info.BaseBdevs = append(info.BaseBdevs, BaseBdevInfo{
			Name:            s.Name,
			UUID:            s.UUID,
			IsConfigured:    s.Configured,
			RemoveScheduled: s.RemoveScheduled,
			DataOffset:      s.DataOffset,
			DataSize:        s.DataSize,
		})
	}
	return info
}

// BaseHandles snapshots the app-thread handle bound to each slot, nil
// for a vacant one, in slot order — what a Host uses to build the
// per-executor raidchan.Channel it gives to Submit.
func (d *Device) BaseHandles() []raidio.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]raidio.Handle, len(d.slots))
	for i := range d.slots {
		out[i] = d.slots[i].Handle
	}
	return out
}

// CapabilityReport is the result of a capability query (§4.3).
type CapabilityReport struct {
	Read, Write, Flush, Unmap, Reset bool
}

// Capabilities reports which front-end request types this array
// currently supports, per the quorum rule in §4.3: READ/WRITE always;
// FLUSH/UNMAP require a module null-payload implementation and
// unanimous base support; RESET requires unanimous base support.
// Vacant slots are skipped in every quorum.
func (d *Device) Capabilities() CapabilityReport {
	d.mu.Lock()
	defer d.mu.Unlock()

	rep := CapabilityReport{Read: true, Write: true, Flush: true, Unmap: true, Reset: true}
	if !d.mod.SupportsNullPayload() {
		rep.Flush, rep.Unmap = false, false
	}
	for i := range d.slots {
		s := &d.slots[i]
		if !s.Configured || s.Handle == nil {
			continue
		}
		if !s.Handle.SupportsFlush() {
			rep.Flush = false
		}
		if !s.Handle.SupportsUnmap() {
			rep.Unmap = false
		}
		if !s.Handle.SupportsReset() {
			rep.Reset = false
		}
	}
	return rep
}
