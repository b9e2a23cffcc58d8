// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"context"
	"errors"
	"sync"

	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/raid/raidlevel"
)

// ioContext is the per-request aggregator handed to a level module as
// a raidlevel.IO: it tracks how many sub-completions remain, the
// submitted cursor a retry resumes from, and the first error seen
// across every sub-completion (first-failure-wins), firing the
// front-end done exactly once when remaining reaches zero.
type ioContext struct {
	dev *Device
	ch  *raidchan.Channel

	g          raidlevel.Geometry
	typ        raidlevel.IOType
	offset     int64
	length     int64
	buf        []byte
	baseBlocks []int64
	done       raidio.CompleteFunc

	mu        sync.Mutex
	remaining int
	submitted int
	firstErr  error
	fired     bool
}

var _ raidlevel.IO = (*ioContext)(nil)

func (c *ioContext) Geometry() raidlevel.Geometry { return c.g }
func (c *ioContext) Type() raidlevel.IOType       { return c.typ }
func (c *ioContext) Offset() int64                { return c.offset }
func (c *ioContext) Length() int64                { return c.length }
func (c *ioContext) Buffer() []byte               { return c.buf }

func (c *ioContext) BaseHandle(slot int) raidio.Handle {
	return c.ch.Get(slot)
}

func (c *ioContext) BaseBlocks(slot int) int64 {
	if slot < 0 || slot >= len(c.baseBlocks) {
		return 0
	}
	return c.baseBlocks[slot]
}

func (c *ioContext) Init(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = remaining
	c.submitted = 0
}

// CompletePart is complete_part: the only path by which a sub-I/O may
// progress the request. The front-end done fires exactly once, on the
// call that brings remaining to zero or below (a module reporting
// more completions than it Init'd is a programming error, not
// something this guards against at runtime).
func (c *ioContext) CompletePart(n int, err error) {
	c.mu.Lock()
	if err != nil && c.firstErr == nil {
		c.firstErr = err
	}
	c.remaining -= n
	fire := c.remaining <= 0 && !c.fired
	if fire {
		c.fired = true
	}
	finalErr := c.firstErr
	c.mu.Unlock()
	if fire {
		c.done(finalErr)
	}
}

// completeNow forces the front-end done callback to fire immediately
// with err regardless of how many sub-completions remain outstanding.
// Used only when a sub-I/O submission fails for a reason other than
// ENOMEM: the original engine treats that as unreachable and completes
// FAILED immediately rather than waiting for every other leg to report
// in.
func (c *ioContext) completeNow(err error) {
	c.mu.Lock()
	if err != nil && c.firstErr == nil {
		c.firstErr = err
	}
	fire := !c.fired
	if fire {
		c.fired = true
	}
	finalErr := c.firstErr
	c.mu.Unlock()
	if fire {
		c.done(finalErr)
	}
}

func (c *ioContext) Submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitted
}

func (c *ioContext) AdvanceSubmitted(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted += n
}

// QueueWait registers retry against the base bound to slot; a slot
// with no bound base can't have returned ErrResourceExhausted in the
// first place, so retry fires immediately rather than being dropped.
func (c *ioContext) QueueWait(slot int, retry func()) {
	h := c.ch.Get(slot)
	if h == nil || c.dev.host == nil {
		retry()
		return
	}
	c.dev.host.QueueIOWait(h, retry)
}

// Submit dispatches one front-end request against ch, the calling
// executor's channel for this array. A non-nil return is an outright
// rejection — bounds violation, unsupported op, array not online —
// and done is never called in that case. Otherwise done fires exactly
// once, synchronously or not, once every sub-I/O has completed.
func (d *Device) Submit(ctx context.Context, ch *raidchan.Channel, typ raidlevel.IOType, offset, length int64, buf []byte, done raidio.CompleteFunc) error {
	d.mu.Lock()
	if d.state != StateOnline {
		d.mu.Unlock()
		return errf(StateViolation, "array %q is %v, not accepting I/O", d.name, d.state)
	}
	if offset < 0 || length < 0 || offset+length > int64(d.totalBlocks) {
		d.mu.Unlock()
		return errf(InvalidArgument, "request [%d,%d) out of bounds for array of %d blocks", offset, offset+length, d.totalBlocks)
	}
	g := raidlevel.Geometry{
		NumBases:         d.n,
		StripSizeBlocks:  d.stripSizeBlocks,
		StripSizeShift:   d.stripSizeShift,
		BlockLength:      d.blockLength,
		BlockLengthShift: d.blockLengthShift,
	}
	blockLen := d.blockLength
	mod := d.mod
	baseBlocks := make([]int64, len(d.slots))
	for i := range d.slots {
		baseBlocks[i] = int64(d.slots[i].DataSize)
	}
	d.mu.Unlock()

	switch typ {
	case raidlevel.IOTypeRead, raidlevel.IOTypeWrite:
		if int64(len(buf)) != length*int64(blockLen) {
			return errf(InvalidArgument, "buffer length %d does not match %d blocks at block length %d", len(buf), length, blockLen)
		}
	}

	ioc := &ioContext{
		dev:        d,
		ch:         ch,
		g:          g,
		typ:        typ,
		offset:     offset,
		length:     length,
		buf:        buf,
		baseBlocks: baseBlocks,
		done:       done,
	}

	switch typ {
	case raidlevel.IOTypeReset:
		return d.submitReset(ioc, ch)
	case raidlevel.IOTypeFlush, raidlevel.IOTypeUnmap:
		if !mod.SupportsNullPayload() {
			return errf(Unsupported, "level %v does not support %v", d.level, typ)
		}
		return mod.SubmitNullPayload(ioc)
	case raidlevel.IOTypeRead:
		return d.submitReadWithBuf(ioc, mod)
	default:
		return mod.SubmitRW(ioc)
	}
}

// submitReadWithBuf is raid_bdev_get_buf_cb's Go counterpart: it asks
// the host for a read buffer before ever invoking the level module,
// and completes the request FAILED on a buffer failure instead of
// dispatching. With no host attached (unit tests exercising a level
// module directly against a bare ioContext), the buffer step is
// skipped and submission proceeds as it would for WRITE.
func (d *Device) submitReadWithBuf(ioc *ioContext, mod raidlevel.Module) error {
	if d.host == nil {
		return mod.SubmitRW(ioc)
	}
	var dispatchErr error
	d.host.GetIOBuf(context.Background(), int64(len(ioc.buf)), func(_ []byte, err error) {
		if err != nil {
			ioc.done(wrapf(ResourceExhausted, err, "obtaining read buffer for array %q", d.name))
			return
		}
		dispatchErr = mod.SubmitRW(ioc)
	})
	return dispatchErr
}

// submitReset fans RESET out to every slot directly, independent of
// the level module: every level treats RESET identically (forward to
// every leg, vacant legs count as vacuously reset), so there is
// nothing level-specific for a module to decide here.
func (d *Device) submitReset(ioc *ioContext, ch *raidchan.Channel) error {
	ioc.Init(ch.Len())
	return resetFrom(ioc, ch, 0)
}

func resetFrom(ioc *ioContext, ch *raidchan.Channel, start int) error {
	for slot := start; slot < ch.Len(); slot++ {
		h := ch.Get(slot)
		if h == nil {
			ioc.CompletePart(1, nil)
			ioc.AdvanceSubmitted(1)
			continue
		}
		err := h.SubmitReset(context.Background(), func(err error) {
			ioc.CompletePart(1, err)
		})
		if errors.Is(err, raidio.ErrResourceExhausted) {
			ioc.QueueWait(slot, func() {
				_ = resetFrom(ioc, ch, slot)
			})
			return nil
		}
		if err != nil {
			ioc.completeNow(err)
			return nil
		}
		ioc.AdvanceSubmitted(1)
	}
	return nil
}
