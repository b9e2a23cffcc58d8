// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package raidhost is a reference implementation of raid.Host backed
// entirely by in-process state: base bdevs are whatever handles the
// caller registers (typically raidio.MemHandle or raidio.OSHandle),
// and every array gets exactly one executor channel, rebuilt on
// demand from the array's current slot handles. It exists to exercise
// the engine end to end from the CLI and from tests without a real
// block-device framework underneath.
package raidhost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/blockraid/raidbd/lib/raid"
	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/util"
)

type baseEntry struct {
	name    string
	uuid    util.UUID
	handle  raidio.Handle
	claimed string // owning array name, "" if unclaimed
	onEvent func(raid.Event)
}

// Host is the in-memory raid.Host. The zero value is not usable; use
// New.
type Host struct {
	mu      sync.Mutex
	byName  map[string]*baseEntry
	byHandle map[raidio.Handle]*baseEntry
	devices map[string]*raid.Device

	// waitRetry is how long QueueIOWait sleeps before invoking a
	// queued retry. Real bdev frameworks wake a wait queue the instant
	// a slot frees up; our reference Handle implementations don't
	// expose that signal, so this host polls instead.
	waitRetry time.Duration

	// failNextIOBuf makes the next GetIOBuf call fail instead of
	// handing back a buffer, for tests exercising the READ
	// buffer-failure path; it resets itself after firing once.
	failNextIOBuf bool
}

// New returns an empty Host.
func New() *Host {
	return &Host{
		byName:   make(map[string]*baseEntry),
		byHandle: make(map[raidio.Handle]*baseEntry),
		devices:  make(map[string]*raid.Device),
		waitRetry: 2 * time.Millisecond,
	}
}

// RegisterBase makes a base bdev available under name, to be found by
// LookupBaseByName/OpenExt/Create's base list. id may be util.Nil if
// the caller has no stable identity for it beyond its name.
func (h *Host) RegisterBase(name string, id util.UUID, handle raidio.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &baseEntry{name: name, uuid: id, handle: handle}
	h.byName[name] = e
	h.byHandle[handle] = e
}

// UnregisterBase drops name from the host's base table. It does not
// close the handle; the caller owns that.
func (h *Host) UnregisterBase(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.byName[name]; ok {
		delete(h.byHandle, e.handle)
		delete(h.byName, name)
	}
}

var _ raid.Host = (*Host)(nil)

func (h *Host) OpenExt(ctx context.Context, name string, write bool, onEvent func(raid.Event)) (raidio.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byName[name]
	if !ok {
		return nil, fmt.Errorf("raidhost: base bdev %q not found", name)
	}
	e.onEvent = onEvent
	return e.handle, nil
}

// Close releases an OpenExt descriptor. The reference host treats
// OpenExt as returning a reference to the shared base handle rather
// than a distinct descriptor (there's only ever one owner at a time
// in this model), so Close only forgets the event subscription and
// deliberately does not call handle.Close — the base may still be
// registered and reused afterward.
func (h *Host) Close(handle raidio.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.byHandle[handle]; ok {
		e.onEvent = nil
	}
	return nil
}

// GetIOChannel returns handle itself: MemHandle and OSHandle are
// already safe under concurrent Submit* calls, so there is no
// separate per-executor channel object to allocate the way a real
// bdev framework would.
func (h *Host) GetIOChannel(ctx context.Context, handle raidio.Handle) (raidio.Handle, error) {
	return handle, nil
}

func (h *Host) PutIOChannel(handle raidio.Handle) {}

// GetIOBuf always invokes cb before returning: this reference host has
// no genuinely asynchronous buffer pool to wait on. FailNextIOBuf
// makes the next call report failure instead, for tests exercising the
// READ buffer-failure path.
func (h *Host) GetIOBuf(ctx context.Context, byteLen int64, cb func(buf []byte, err error)) {
	h.mu.Lock()
	fail := h.failNextIOBuf
	h.failNextIOBuf = false
	h.mu.Unlock()
	if fail {
		cb(nil, fmt.Errorf("raidhost: simulated GetIOBuf failure"))
		return
	}
	cb(make([]byte, byteLen), nil)
}

// FailNextIOBuf arranges for the next GetIOBuf call to fail.
func (h *Host) FailNextIOBuf() {
	h.mu.Lock()
	h.failNextIOBuf = true
	h.mu.Unlock()
}

func (h *Host) ClaimModule(handle raidio.Handle, owner string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byHandle[handle]
	if !ok {
		return fmt.Errorf("raidhost: handle not registered with this host")
	}
	if e.claimed != "" && e.claimed != owner {
		return fmt.Errorf("raidhost: base bdev %q already claimed by %q", e.name, e.claimed)
	}
	e.claimed = owner
	return nil
}

func (h *Host) ReleaseModule(handle raidio.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.byHandle[handle]; ok {
		e.claimed = ""
	}
}

func (h *Host) RegisterBdev(dev *raid.Device) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices[dev.Name()] = dev
	return nil
}

func (h *Host) UnregisterBdev(dev *raid.Device, done func(err error)) {
	h.mu.Lock()
	delete(h.devices, dev.Name())
	h.mu.Unlock()
	done(nil)
}

// QueueIOWait retries after a short, fixed delay. See the waitRetry
// field comment: this is a polling stand-in for a true wake-on-free
// signal, which none of this repo's reference Handle implementations
// produce.
func (h *Host) QueueIOWait(handle raidio.Handle, retry func()) {
	go func() {
		time.Sleep(h.waitRetry)
		retry()
	}()
}

func (h *Host) Quiesce(dev *raid.Device, done func())   { done() }
func (h *Host) Unquiesce(dev *raid.Device, done func()) { done() }

// ForEachChannel visits the array's single reference channel, rebuilt
// fresh from its current slot handles.
func (h *Host) ForEachChannel(dev *raid.Device, iter func(ch *raidchan.Channel) error, done func(err error)) {
	ch := h.Channel(dev)
	done(iter(ch))
}

// Channel builds a raidchan.Channel reflecting dev's current slot
// handles. The reference host has no notion of multiple executors, so
// every caller shares this one channel per array.
func (h *Host) Channel(dev *raid.Device) *raidchan.Channel {
	handles := dev.BaseHandles()
	ch := raidchan.New(len(handles))
	for i, hd := range handles {
		ch.Set(i, hd)
	}
	return ch
}

func (h *Host) LookupBaseByName(name string) (raidio.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byName[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

func (h *Host) LookupBaseByUUID(id util.UUID) (raidio.Handle, string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.byName {
		if e.uuid == id {
			return e.handle, e.name, true
		}
	}
	return nil, "", false
}

// NotifyRemove and NotifyResize deliver a base-device lifecycle event
// to whatever array currently has name open via OpenExt, the way a
// real bdev framework's hot-remove/resize notification would.
func (h *Host) NotifyRemove(ctx context.Context, name string) {
	h.mu.Lock()
	e, ok := h.byName[name]
	h.mu.Unlock()
	if !ok || e.onEvent == nil {
		dlog.Debugf(ctx, "raidhost: NotifyRemove(%q): no subscriber", name)
		return
	}
	e.onEvent(raid.EventRemove)
}

func (h *Host) NotifyResize(ctx context.Context, name string) {
	h.mu.Lock()
	e, ok := h.byName[name]
	h.mu.Unlock()
	if !ok || e.onEvent == nil {
		dlog.Debugf(ctx, "raidhost: NotifyResize(%q): no subscriber", name)
		return
	}
	e.onEvent(raid.EventResize)
}
