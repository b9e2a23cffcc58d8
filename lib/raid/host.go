// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"context"

	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
	"github.com/blockraid/raidbd/lib/util"
)

// Event is a base-device lifecycle notification the host surfaces to
// the core via the callback passed to Host.OpenExt.
type Event int

const (
	EventRemove Event = iota
	EventResize
)

// Host is the block-device framework contract the core depends on:
// open/claim/register on the app thread, per-executor channel
// allocation on the data plane, and the handful of primitives
// (wait-queue registration, quiesce/unquiesce, per-channel iteration)
// that make membership mutation safe while I/O is in flight. A
// concrete host (see internal/raidhost for the reference one used by
// the CLI and tests) implements this once per process.
type Host interface {
	// OpenExt opens name for exclusive (write) or shared (!write)
	// access, returning the app-thread handle. onEvent fires on
	// REMOVE/RESIZE for as long as the handle stays open.
	OpenExt(ctx context.Context, name string, write bool, onEvent func(Event)) (raidio.Handle, error)
	Close(h raidio.Handle) error

	// GetIOChannel/PutIOChannel allocate and release one executor's
	// channel handle onto the base identified by h.
	GetIOChannel(ctx context.Context, h raidio.Handle) (raidio.Handle, error)
	PutIOChannel(h raidio.Handle)

	// GetIOBuf asynchronously obtains a byteLen-sized payload buffer
	// from the host's buffer pool for a READ request; cb fires exactly
	// once with either a usable buffer or the failure that should
	// complete the front-end request FAILED without ever reaching the
	// level module. The reference host in internal/raidhost always
	// invokes cb before GetIOBuf returns; a host backed by a genuinely
	// asynchronous pool must still only ever invoke cb once.
	GetIOBuf(ctx context.Context, byteLen int64, cb func(buf []byte, err error))

	ClaimModule(h raidio.Handle, owner string) error
	ReleaseModule(h raidio.Handle)

	// RegisterBdev/UnregisterBdev make the array itself visible to the
	// host as a virtual block device.
	RegisterBdev(dev *Device) error
	UnregisterBdev(dev *Device, done func(err error))

	// QueueIOWait registers retry to fire once h's base has capacity
	// again, after a submission there returned
	// raidio.ErrResourceExhausted.
	QueueIOWait(h raidio.Handle, retry func())

	Quiesce(dev *Device, done func())
	Unquiesce(dev *Device, done func())

	// ForEachChannel visits every executor's Channel for dev, invoking
	// iter on each (synchronously or not, host's choice), then done
	// once every visit has returned.
	ForEachChannel(dev *Device, iter func(ch *raidchan.Channel) error, done func(err error))

	LookupBaseByName(name string) (raidio.Handle, bool)
	LookupBaseByUUID(id util.UUID) (h raidio.Handle, name string, ok bool)
}
