// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"context"

	"github.com/blockraid/raidbd/lib/raid/raidbase"
	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
	"github.com/blockraid/raidbd/lib/raid/raidsb"
	"github.com/blockraid/raidbd/lib/util"
)

// CreateOptions describes a new array: its declared member slots (a
// name of "" declares a slot reserved for a base that isn't present
// yet, to be filled in later by AddBySlot or by examine), its level,
// and whether it carries an on-disk superblock.
type CreateOptions struct {
	Name        string
	UUID        util.UUID // util.Nil to have one generated when Superblock is true
	Level       raidlevel.Level
	StripSizeKB uint64
	Superblock  bool
	BaseBdevs   []string
}

// Create declares a new array of len(opts.BaseBdevs) slots, binding
// whichever named bases the host already has open and leaving the
// rest pending. If every slot is immediately satisfiable the array
// goes straight to ONLINE; otherwise it starts in CONFIGURING and
// later AddBySlot/examine calls complete it.
func Create(ctx context.Context, host Host, opts CreateOptions) (*Device, error) {
	if opts.Name == "" {
		return nil, errf(InvalidArgument, "array name must not be empty")
	}
	if len(opts.Name) >= raidsb.MaxNameSize {
		return nil, errf(InvalidArgument, "array name %q exceeds %d bytes", opts.Name, raidsb.MaxNameSize-1)
	}
	if _, exists := globalRegistry.byNameLocked(opts.Name); exists {
		return nil, errf(AlreadyExists, "array %q already exists", opts.Name)
	}
	mod, ok := raidlevel.Lookup(opts.Level)
	if !ok {
		return nil, errf(InvalidArgument, "unknown RAID level %v", opts.Level)
	}
	n := len(opts.BaseBdevs)
	if n < mod.MinBaseBdevs() {
		return nil, errf(InvalidArgument, "level %v requires at least %d base_bdevs, got %d", opts.Level, mod.MinBaseBdevs(), n)
	}
	minOperational, err := mod.Constraint().MinOperational(n)
	if err != nil {
		return nil, wrapf(InvalidArgument, err, "invalid constraint for level %v", opts.Level)
	}

	arrUUID := opts.UUID
	if opts.Superblock && arrUUID == util.Nil {
		arrUUID = util.NewUUID()
	}

	d := &Device{
		name:           opts.Name,
		uuid:           arrUUID,
		level:          opts.Level,
		mod:            mod,
		stripSizeKB:    opts.StripSizeKB,
		n:              n,
		minOperational: minOperational,
		state:          StateConfiguring,
		slots:          make([]raidbase.Slot, n),
	}
	for i := range d.slots {
		d.slots[i].Index = i
	}
	if opts.Superblock {
		d.sb = raidsb.NewSuperblock(arrUUID, opts.Name, uint8(opts.Level), uint32(n))
	}

	// d is not yet visible to any other goroutine, so the bind loop
	// mutates it without holding mu; d.host is set before the first
	// lock-protected access any concurrent caller could perform, since
	// that access can only happen after Create returns and publishes d.
	d.host = host
	for i, name := range opts.BaseBdevs {
		if name == "" {
			continue
		}
		if _, ok := host.LookupBaseByName(name); !ok {
			d.slots[i].Name = name // declared, not yet present
			continue
		}
		if err := d.bindSlot(ctx, host, i, name, false); err != nil {
			return nil, err
		}
	}
	d.recomputeCountsLocked()
	if d.discovered == d.n {
		if err := d.configureArrayLocked(ctx, host); err != nil {
			return nil, err
		}
	}

	globalRegistry.add(d)
	return d, nil
}

// recomputeCountsLocked derives discovered/operational from the slot
// array; mu must be held.
func (d *Device) recomputeCountsLocked() {
	discovered := 0
	for i := range d.slots {
		if d.slots[i].Configured {
			discovered++
		}
	}
	d.discovered = discovered
	d.operational = discovered
}

// bindSlot claims name from host and binds it into slot slotIdx.
// existingMode is true for the examine/assembly reconciliation path,
// which has already validated the base's superblock itself and must
// not re-run the "reject foreign superblock" guard a fresh add uses.
func (d *Device) bindSlot(ctx context.Context, host Host, slotIdx int, name string, existingMode bool) error {
	h, ok := host.LookupBaseByName(name)
	if !ok {
		return errf(NotFound, "base bdev %q not found", name)
	}
	if err := host.ClaimModule(h, d.name); err != nil {
		return wrapf(Busy, err, "claiming base bdev %q", name)
	}

	var memberUUID util.UUID
	var dataOffset, dataSize raidio.BlockAddr

	if d.sb != nil {
		dat := make([]byte, raidsb.Length)
		rerr := syncSubmit(func(done raidio.CompleteFunc) error {
			return h.SubmitRead(ctx, dat, 0, done)
		})
		if rerr == nil {
			if foreign, derr := raidsb.Decode(dat); derr == nil {
				if !existingMode && foreign.ArrayUUID != d.uuid {
					host.ReleaseModule(h)
					return errf(AlreadyExists, "base bdev %q already belongs to array %s", name, foreign.Name())
				}
				if foreign.ArrayUUID == d.uuid {
					for _, e := range foreign.Entries {
						if int(e.Slot) == slotIdx && e.State == raidsb.BaseEntryConfigured {
							memberUUID = e.UUID
							break
						}
					}
				}
			}
		}
		dataOffset = raidio.BlockAddr(raidsb.Length / int(h.BlockLen()))
	}
	if memberUUID == util.Nil {
		memberUUID = util.NewUUID()
	}
	if h.SizeBlocks() > dataOffset {
		dataSize = h.SizeBlocks() - dataOffset
	}

	if d.metadataKnown && d.hasMetadata != h.HasMetadata() {
		host.ReleaseModule(h)
		return errf(InvalidArgument, "base bdev %q metadata support (%v) does not match the rest of the array", name, h.HasMetadata())
	}
	if d.blockLength != 0 && d.blockLength != h.BlockLen() {
		host.ReleaseModule(h)
		return errf(InvalidArgument, "base bdev %q block length %d does not match array block length %d", name, h.BlockLen(), d.blockLength)
	}

	slot := &d.slots[slotIdx]
	slot.Name = name
	slot.UUID = memberUUID
	slot.Handle = h
	slot.DataOffset = dataOffset
	slot.DataSize = dataSize
	slot.BlockCount = h.SizeBlocks()
	slot.Configured = true
	slot.RemoveScheduled = false

	if !d.metadataKnown {
		d.metadataKnown = true
		d.hasMetadata = h.HasMetadata()
	}
	if d.blockLength == 0 {
		d.blockLength = h.BlockLen()
	}
	return nil
}

// AddBySlot binds name into slot slotIdx of an existing array, online
// or still configuring. If this completes the declared member set,
// the array transitions CONFIGURING → ONLINE.
func (d *Device) AddBySlot(ctx context.Context, slotIdx int, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyStarted {
		return errf(StateViolation, "array %q is being deleted", d.name)
	}
	if slotIdx < 0 || slotIdx >= len(d.slots) {
		return errf(InvalidArgument, "slot %d out of range [0,%d)", slotIdx, len(d.slots))
	}
	if d.slots[slotIdx].Configured {
		return errf(AlreadyExists, "slot %d already holds %q", slotIdx, d.slots[slotIdx].Name)
	}

	if err := d.bindSlot(ctx, d.host, slotIdx, name, false); err != nil {
		return err
	}
	d.recomputeCountsLocked()

	switch d.state {
	case StateConfiguring:
		if d.discovered == d.n {
			return d.configureArrayLocked(ctx, d.host)
		}
		return nil
	case StateOnline:
		return d.writeSuperblockAllLocked(ctx)
	default:
		return errf(StateViolation, "array %q is %v, cannot add a base", d.name, d.state)
	}
}

// AddBaseBdev binds name into the first vacant slot.
func (d *Device) AddBaseBdev(ctx context.Context, name string) error {
	d.mu.Lock()
	slotIdx := -1
	for i := range d.slots {
		if d.slots[i].Vacant() {
			slotIdx = i
			break
		}
	}
	d.mu.Unlock()
	if slotIdx < 0 {
		return errf(InvalidArgument, "array %q has no vacant slot", d.name)
	}
	return d.AddBySlot(ctx, slotIdx, name)
}

// Remove releases slotIdx's base bdev. While the array is not ONLINE
// the slot is simply freed. While ONLINE, per the resolved open
// question, a removal that leaves operational at or above
// min_operational (operational was strictly above it beforehand) is
// benign: quiesce the array, drop the slot's executor channels,
// unquiesce, free the slot, and — if a superblock exists — mark its
// entry FAILED and rewrite. A removal that would push operational
// below min_operational (operational is already at it) is fatal: the slot is
// marked remove_scheduled and the array deconfigures (host-unregister)
// rather than losing redundancy silently, transitioning to OFFLINE
// once unregistration completes. A slot already remove_scheduled makes
// a concurrent second Remove call on it an idempotent no-op.
func (d *Device) Remove(ctx context.Context, slotIdx int) error {
	d.mu.Lock()

	if slotIdx < 0 || slotIdx >= len(d.slots) {
		d.mu.Unlock()
		return errf(InvalidArgument, "slot %d out of range [0,%d)", slotIdx, len(d.slots))
	}
	slot := &d.slots[slotIdx]
	if slot.RemoveScheduled {
		d.mu.Unlock()
		return nil
	}
	if !slot.Configured {
		d.mu.Unlock()
		return errf(NotFound, "slot %d is not configured", slotIdx)
	}

	if d.state != StateOnline {
		host := d.host
		if host != nil {
			host.ReleaseModule(slot.Handle)
		}
		cb := slot.RemoveCB
		slot.Reset()
		d.recomputeCountsLocked()
		d.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return nil
	}

	if d.operational <= d.minOperational {
		return d.removeFatalLocked(ctx, slotIdx)
	}
	return d.removeBenignLocked(ctx, slotIdx)
}

// removeFatalLocked handles a removal that would push operational
// below min_operational: mu is held on entry and released before
// this returns. The slot itself is left in place — final teardown of
// its resources happens when the now-OFFLINE array is eventually
// Deleted — only remove_scheduled is set and the array is
// host-unregistered.
func (d *Device) removeFatalLocked(ctx context.Context, slotIdx int) error {
	slot := &d.slots[slotIdx]
	slot.RemoveScheduled = true
	cb := slot.RemoveCB
	host := d.host
	d.mu.Unlock()

	var unregErr error
	if host != nil {
		done := make(chan error, 1)
		host.UnregisterBdev(d, func(err error) { done <- err })
		unregErr = <-done
	}

	if unregErr == nil {
		d.mu.Lock()
		d.state = StateOffline
		d.mu.Unlock()
	}

	if cb != nil {
		cb(unregErr)
	}
	if unregErr != nil {
		return wrapf(Busy, unregErr, "unregistering array %q for fatal remove of slot %d", d.name, slotIdx)
	}
	return nil
}

// removeBenignLocked handles a removal that leaves operational at or
// above min_operational: mu is held on entry and released
// before this returns.
func (d *Device) removeBenignLocked(ctx context.Context, slotIdx int) error {
	slot := &d.slots[slotIdx]
	host := d.host
	handle := slot.Handle
	d.mu.Unlock()

	if host != nil {
		syncQuiesce(host, d)
		_ = syncForEachChannel(host, d, func(ch *raidchan.Channel) error {
			ch.Set(slotIdx, nil)
			return nil
		})
		syncUnquiesce(host, d)
		host.ReleaseModule(handle)
	}

	d.mu.Lock()
	cb := slot.RemoveCB
	if d.sb != nil {
		d.sb.Entries[slotIdx] = raidsb.BaseEntry{Slot: uint32(slotIdx), State: raidsb.BaseEntryFailed}
	}
	slot.Reset()
	d.recomputeCountsLocked()
	err := d.writeSuperblockAllLocked(ctx)
	d.mu.Unlock()

	if cb != nil {
		cb(err)
	}
	return err
}

// RemoveBaseBdev removes the slot currently holding name, discarding
// the removal-completion callback; see RemoveBaseBdevAsync to observe
// it.
func (d *Device) RemoveBaseBdev(ctx context.Context, name string) error {
	return d.RemoveBaseBdevAsync(ctx, name, nil)
}

// RemoveBaseBdevAsync removes the slot currently holding name the way
// RemoveBaseBdev does, additionally arranging for done (if non-nil) to
// fire exactly once when the slot finishes being released: immediately
// for a benign remove, or once host-unregistration completes for a
// fatal one.
func (d *Device) RemoveBaseBdevAsync(ctx context.Context, name string, done func(err error)) error {
	d.mu.Lock()
	slotIdx := -1
	for i := range d.slots {
		if d.slots[i].Configured && d.slots[i].Name == name {
			slotIdx = i
			break
		}
	}
	if slotIdx >= 0 && done != nil {
		d.slots[slotIdx].RemoveCB = done
	}
	d.mu.Unlock()
	if slotIdx < 0 {
		return errf(NotFound, "base bdev %q is not a member of array %q", name, d.name)
	}
	return d.Remove(ctx, slotIdx)
}

// Resize updates slotIdx's observed block count, as reported by the
// host after a RESIZE event on that base, recomputing its usable data
// size and (if enabled) rewriting the superblock.
func (d *Device) Resize(ctx context.Context, slotIdx int, newBlockCount raidio.BlockAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if slotIdx < 0 || slotIdx >= len(d.slots) {
		return errf(InvalidArgument, "slot %d out of range [0,%d)", slotIdx, len(d.slots))
	}
	slot := &d.slots[slotIdx]
	if !slot.Configured {
		return errf(NotFound, "slot %d is not configured", slotIdx)
	}
	slot.BlockCount = newBlockCount
	if newBlockCount > slot.DataOffset {
		slot.DataSize = newBlockCount - slot.DataOffset
	} else {
		slot.DataSize = 0
	}

	g, total, err := d.deriveGeometryLocked()
	if err != nil {
		return err
	}
	if err := d.mod.Resize(g); err != nil {
		return wrapf(InvalidArgument, err, "level %v rejected resize of array %q", d.level, d.name)
	}
	d.totalBlocks = total

	if d.state == StateOnline {
		return d.writeSuperblockAllLocked(ctx)
	}
	return nil
}

// Delete tears down the array: releases every base's module claim,
// unregisters the virtual bdev from the host, and drops it from the
// process-wide registry. Delete is idempotent-unsafe by design — a
// second call on the same *Device returns AlreadyExists, matching the
// taxonomy's "already-started destruction" case.
func (d *Device) Delete(ctx context.Context) error {
	d.mu.Lock()
	if d.destroyStarted {
		d.mu.Unlock()
		return errf(AlreadyExists, "array %q is already being deleted", d.name)
	}
	d.destroyStarted = true
	host := d.host
	d.mu.Unlock()

	if host != nil && d.state != StateConfiguring {
		ch := make(chan error, 1)
		host.UnregisterBdev(d, func(err error) { ch <- err })
		if err := <-ch; err != nil {
			return wrapf(Busy, err, "unregistering array %q", d.name)
		}
	}

	d.mu.Lock()
	for i := range d.slots {
		if d.slots[i].Configured && host != nil {
			host.ReleaseModule(d.slots[i].Handle)
		}
		d.slots[i].Reset()
	}
	d.mod.Stop()
	d.state = StateOffline
	d.mu.Unlock()

	globalRegistry.remove(d)
	return nil
}

// configureArrayLocked refuses (Unsupported) a slot set with any
// DIF/DIX-enabled member, derives geometry from the now-complete slot set,
// starts the level module, registers the array as a bdev, and (if
// superblocks are enabled) stamps one onto every configured member.
// mu must be held.
func (d *Device) configureArrayLocked(ctx context.Context, host Host) error {
	for i := range d.slots {
		s := &d.slots[i]
		if s.Configured && s.Handle != nil && s.Handle.HasMetadata() {
			return errf(Unsupported, "base bdev %q has DIF/DIX metadata enabled", s.Name)
		}
	}
	g, total, err := d.deriveGeometryLocked()
	if err != nil {
		return err
	}
	if err := d.mod.Start(g); err != nil {
		return wrapf(InvalidArgument, err, "starting level %v", d.level)
	}
	d.stripSizeBlocks = g.StripSizeBlocks
	d.stripSizeShift = g.StripSizeShift
	d.blockLengthShift = g.BlockLengthShift
	d.totalBlocks = total

	if d.sb != nil {
		if err := d.writeSuperblockAllLocked(ctx); err != nil {
			return err
		}
	}
	if host != nil {
		if err := host.RegisterBdev(d); err != nil {
			return wrapf(Busy, err, "registering array %q", d.name)
		}
	}
	d.state = StateOnline
	return nil
}

func (d *Device) deriveGeometryLocked() (raidlevel.Geometry, raidio.BlockAddr, error) {
	strip, shift, blkShift, err := deriveGeometry(d.stripSizeKB, d.blockLength, d.mod.Mirror())
	if err != nil {
		return raidlevel.Geometry{}, 0, err
	}
	g := raidlevel.Geometry{
		NumBases:         d.n,
		StripSizeBlocks:  strip,
		StripSizeShift:   shift,
		BlockLength:      d.blockLength,
		BlockLengthShift: blkShift,
	}

	minData := raidio.BlockAddr(-1)
	var sum raidio.BlockAddr
	for i := range d.slots {
		s := &d.slots[i]
		if !s.Configured {
			continue
		}
		if minData < 0 || s.DataSize < minData {
			minData = s.DataSize
		}
		sum += s.DataSize
	}
	if minData < 0 {
		minData = 0
	}

	switch {
	case d.mod.Mirror():
		return g, minData, nil
	case d.level == raidlevel.LevelConcat:
		return g, sum, nil
	default:
		if strip == 0 {
			return g, 0, nil
		}
		numStripes := int64(minData) / strip
		return g, raidio.BlockAddr(numStripes * strip * int64(d.n)), nil
	}
}

// writeSuperblockAllLocked re-encodes the superblock from current slot
// state and writes it to every configured member, bumping SeqNumber
// so examine-time arbitration always prefers the freshest copy.
func (d *Device) writeSuperblockAllLocked(ctx context.Context) error {
	if d.sb == nil {
		return nil
	}
	d.sb.SeqNumber++
	d.sb.StripSizeBlocks = uint64(d.stripSizeBlocks)
	d.sb.BlockSize = d.blockLength
	d.sb.TotalBlocks = uint64(d.totalBlocks)
	d.sb.BaseSlotCount = uint32(d.n)
	for i := range d.slots {
		s := &d.slots[i]
		e := &d.sb.Entries[i]
		e.Slot = uint32(i)
		if s.Configured {
			e.State = raidsb.BaseEntryConfigured
			e.UUID = s.UUID
			e.DataOffset = uint64(s.DataOffset)
			e.DataSize = uint64(s.DataSize)
		} else if e.State != raidsb.BaseEntryFailed {
			// A FAILED entry was stamped explicitly by a benign remove
			// and stays FAILED across later superblock rewrites until
			// the slot is reconfigured (the Configured branch above);
			// a slot that was never bound keeps its initial VACANT
			// state here.
			e.State = raidsb.BaseEntryVacant
			e.UUID = util.Nil
			e.DataOffset = 0
			e.DataSize = 0
		}
	}

	for i := range d.slots {
		s := &d.slots[i]
		if !s.Configured {
			continue
		}
		dat, err := raidsb.Encode(d.sb)
		if err != nil {
			return wrapf(Corrupt, err, "encoding superblock for array %q", d.name)
		}
		buf := make([]byte, int(s.Handle.BlockLen())*sbBlocks(s.Handle.BlockLen()))
		copy(buf, dat)
		werr := syncSubmit(func(done raidio.CompleteFunc) error {
			return s.Handle.SubmitWrite(ctx, buf, 0, done)
		})
		if werr != nil {
			return wrapf(Busy, werr, "writing superblock to base bdev %q", s.Name)
		}
	}
	return nil
}

func sbBlocks(blockLen uint32) int {
	if blockLen == 0 {
		return 0
	}
	n := raidsb.Length / int(blockLen)
	if raidsb.Length%int(blockLen) != 0 {
		n++
	}
	return n
}
