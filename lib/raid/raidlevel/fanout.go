// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidlevel

import (
	"errors"

	"github.com/blockraid/raidbd/lib/raid/raidio"
)

// FanOutNullPayload issues submit against every base slot in g in
// order, aggregating completions through io's Init/CompletePart, and
// resuming at io.Submitted() on reentry. Vacant slots are counted as
// an immediate success, the same way RESET treats a missing leg as
// vacuously complete. It is the shared implementation behind both
// raid0 and raid1's SubmitNullPayload (FLUSH/UNMAP).
func FanOutNullPayload(io IO, submit func(h raidio.Handle, done raidio.CompleteFunc) error) error {
	g := io.Geometry()
	if io.Submitted() == 0 {
		io.Init(g.NumBases)
	}
	for slot := io.Submitted(); slot < g.NumBases; slot++ {
		h := io.BaseHandle(slot)
		if h == nil {
			io.CompletePart(1, nil)
			io.AdvanceSubmitted(1)
			continue
		}
		err := submit(h, func(err error) { io.CompletePart(1, err) })
		if errors.Is(err, raidio.ErrResourceExhausted) {
			io.QueueWait(slot, func() {
				_ = FanOutNullPayload(io, submit)
			})
			return nil
		}
		if err != nil {
			io.CompletePart(1, err)
			io.AdvanceSubmitted(1)
			continue
		}
		io.AdvanceSubmitted(1)
	}
	return nil
}
