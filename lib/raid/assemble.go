// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"context"

	"github.com/blockraid/raidbd/lib/raid/raidbase"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/raid/raidsb"
	"github.com/blockraid/raidbd/lib/util"
)

// ExamineResult reports what Examine did with one array UUID group.
type ExamineResult struct {
	ArrayUUID util.UUID
	Name      string
	Created   bool // a new in-memory Device was assembled
	Bound     int  // candidates newly bound into slots this call
}

// candidateSB is one examined base together with the superblock
// copy read from it.
type candidateSB struct {
	name string
	sb   *raidsb.Superblock
}

// Examine reads every name in candidates, groups the ones carrying a
// valid raidbd superblock by ArrayUUID, and for each group either
// completes an already-assembling in-memory Device or assembles a new
// one from scratch — the automatic-discovery counterpart to the
// explicit Create/AddBySlot path, used when bases turn up with no
// prior raid_create call in this process (e.g. at startup).
//
// Slot assignment within a group is decided by walking the group's
// most-recent superblock's Entries in slot order and handing each
// CONFIGURED entry to the next not-yet-claimed candidate in
// candidates' order; this is simpler than per-member identity
// tracking, and it places each base in its original slot only when
// candidates lists the members in slot order (no per-member identity
// is checked).
func Examine(ctx context.Context, host Host, candidates []string) ([]ExamineResult, error) {
	groups := make(map[util.UUID][]candidateSB)
	order := make([]util.UUID, 0)

	for _, name := range candidates {
		h, ok := host.LookupBaseByName(name)
		if !ok {
			continue
		}
		dat := make([]byte, raidsb.Length)
		if err := syncSubmit(func(done raidio.CompleteFunc) error {
			return h.SubmitRead(ctx, dat, 0, done)
		}); err != nil {
			continue
		}
		sb, err := raidsb.Decode(dat)
		if err != nil {
			continue // not a member, or corrupt; examine skips it silently
		}
		if _, seen := groups[sb.ArrayUUID]; !seen {
			order = append(order, sb.ArrayUUID)
		}
		groups[sb.ArrayUUID] = append(groups[sb.ArrayUUID], candidateSB{name: name, sb: sb})
	}

	var results []ExamineResult
	for _, uuid := range order {
		res, err := reconcileGroup(ctx, host, uuid, groups[uuid])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// freshest returns the superblock with the highest SeqNumber in group.
func freshest(group []candidateSB) *raidsb.Superblock {
	best := group[0].sb
	for _, c := range group[1:] {
		if c.sb.SeqNumber > best.SeqNumber {
			best = c.sb
		}
	}
	return best
}

// assignSlots walks auth's Entries in slot order, handing each
// CONFIGURED entry to the next candidate in group that hasn't been
// assigned one yet.
func assignSlots(auth *raidsb.Superblock, group []candidateSB) map[int]string {
	assignment := make(map[int]string)
	next := 0
	for slot, e := range auth.Entries {
		if e.State != raidsb.BaseEntryConfigured {
			continue
		}
		if next >= len(group) {
			break
		}
		assignment[slot] = group[next].name
		next++
	}
	return assignment
}

func reconcileGroup(ctx context.Context, host Host, uuid util.UUID, group []candidateSB) (ExamineResult, error) {
	auth := freshest(group)
	assignment := assignSlots(auth, group)

	if d, ok := globalRegistry.byUUIDLocked(uuid); ok {
		bound := 0
		d.mu.Lock()
		for slot, name := range assignment {
			if slot >= len(d.slots) || d.slots[slot].Configured {
				continue
			}
			if err := d.bindSlot(ctx, host, slot, name, true); err == nil {
				bound++
			}
		}
		d.recomputeCountsLocked()
		var cfgErr error
		if d.state == StateConfiguring && d.discovered == d.n {
			cfgErr = d.configureArrayLocked(ctx, host)
		}
		d.mu.Unlock()
		if cfgErr != nil {
			return ExamineResult{}, cfgErr
		}
		return ExamineResult{ArrayUUID: uuid, Name: d.name, Created: false, Bound: bound}, nil
	}

	level := raidlevel.Level(auth.Level)
	mod, ok := raidlevel.Lookup(level)
	if !ok {
		return ExamineResult{}, errf(Corrupt, "array %q: unknown level %v in recovered superblock", auth.Name(), level)
	}
	n := int(auth.BaseSlotCount)
	minOperational, err := mod.Constraint().MinOperational(n)
	if err != nil {
		return ExamineResult{}, wrapf(Corrupt, err, "array %q: invalid recovered constraint", auth.Name())
	}
	var stripSizeKB uint64
	if auth.BlockSize != 0 {
		stripSizeKB = auth.StripSizeBlocks * uint64(auth.BlockSize) / 1024
	}

	d := &Device{
		name:           auth.Name(),
		uuid:           uuid,
		level:          level,
		mod:            mod,
		stripSizeKB:    stripSizeKB,
		n:              n,
		minOperational: minOperational,
		state:          StateConfiguring,
		slots:          make([]raidbase.Slot, n),
		sb:             auth,
		host:           host,
	}
	for i := range d.slots {
		d.slots[i].Index = i
	}

	bound := 0
	for slot, name := range assignment {
		if err := d.bindSlot(ctx, host, slot, name, true); err == nil {
			bound++
		}
	}
	d.recomputeCountsLocked()
	if d.discovered == d.n {
		if err := d.configureArrayLocked(ctx, host); err != nil {
			return ExamineResult{}, err
		}
	}

	globalRegistry.add(d)
	return ExamineResult{ArrayUUID: uuid, Name: d.name, Created: true, Bound: bound}, nil
}
