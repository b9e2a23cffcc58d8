// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"github.com/blockraid/raidbd/lib/raid/raidchan"
	"github.com/blockraid/raidbd/lib/raid/raidio"
)

// syncSubmit adapts an asynchronous Submit* call to a blocking one,
// for the control-plane code paths (superblock read/write, metadata
// probes) that have no reason to be non-blocking. ResourceExhausted
// here is surfaced as-is and is not retried: it is non-retryable for
// control operations, per the error taxonomy.
func syncSubmit(submit func(done raidio.CompleteFunc) error) error {
	ch := make(chan error, 1)
	err := submit(func(err error) { ch <- err })
	if err != nil {
		return err
	}
	return <-ch
}

// syncQuiesce blocks the calling goroutine until host has finished
// quiescing dev — membership mutation (Remove) needs every in-flight
// I/O drained before it drops a slot's channel entries.
func syncQuiesce(host Host, dev *Device) {
	done := make(chan struct{})
	host.Quiesce(dev, func() { close(done) })
	<-done
}

// syncUnquiesce is syncQuiesce's counterpart.
func syncUnquiesce(host Host, dev *Device) {
	done := make(chan struct{})
	host.Unquiesce(dev, func() { close(done) })
	<-done
}

// syncForEachChannel blocks until host has visited every executor
// channel for dev with iter, returning iter's aggregated error.
func syncForEachChannel(host Host, dev *Device, iter func(ch *raidchan.Channel) error) error {
	ch := make(chan error, 1)
	host.ForEachChannel(dev, iter, func(err error) { ch <- err })
	return <-ch
}
