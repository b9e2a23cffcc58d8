// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidio

import (
	"context"
	"sync"
)

// MemHandle is a [Handle] backed by a plain byte slice, used by tests
// instead of real files.
type MemHandle struct {
	mu        sync.Mutex
	name      string
	blockLen  uint32
	numBlocks BlockAddr
	data      []byte
	failNext  error // injected by tests to exercise error paths
	metadata  bool  // injected by tests to simulate DIF/DIX-enabled bases
}

var _ Handle = (*MemHandle)(nil)

func NewMemHandle(name string, blockLen uint32, numBlocks BlockAddr) *MemHandle {
	return &MemHandle{
		name:      name,
		blockLen:  blockLen,
		numBlocks: numBlocks,
		data:      make([]byte, int64(blockLen)*int64(numBlocks)),
	}
}

func (h *MemHandle) Name() string         { return h.name }
func (h *MemHandle) BlockLen() uint32     { return h.blockLen }
func (h *MemHandle) SizeBlocks() BlockAddr { return h.numBlocks }
func (h *MemHandle) Close() error         { return nil }

func (h *MemHandle) SupportsFlush() bool { return true }
func (h *MemHandle) SupportsUnmap() bool { return true }
func (h *MemHandle) SupportsReset() bool { return true }
func (h *MemHandle) HasMetadata() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metadata
}

// SetMetadata is a test hook simulating a base with DIF/DIX enabled.
func (h *MemHandle) SetMetadata(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = enabled
}

// InjectFailure arranges for the next Submit* call to fail with err
// instead of performing the operation.
func (h *MemHandle) InjectFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext = err
}

func (h *MemHandle) takeFailure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.failNext
	h.failNext = nil
	return err
}

func (h *MemHandle) SubmitRead(ctx context.Context, buf []byte, off BlockAddr, done CompleteFunc) error {
	if err := h.takeFailure(); err != nil {
		done(err)
		return nil
	}
	h.mu.Lock()
	byteOff := int64(off) * int64(h.blockLen)
	n := copy(buf, h.data[byteOff:])
	h.mu.Unlock()
	_ = n
	done(nil)
	return nil
}

func (h *MemHandle) SubmitWrite(ctx context.Context, buf []byte, off BlockAddr, done CompleteFunc) error {
	if err := h.takeFailure(); err != nil {
		done(err)
		return nil
	}
	h.mu.Lock()
	byteOff := int64(off) * int64(h.blockLen)
	copy(h.data[byteOff:], buf)
	h.mu.Unlock()
	done(nil)
	return nil
}

func (h *MemHandle) SubmitReset(ctx context.Context, done CompleteFunc) error {
	done(h.takeFailure())
	return nil
}

func (h *MemHandle) SubmitFlush(ctx context.Context, done CompleteFunc) error {
	done(h.takeFailure())
	return nil
}

func (h *MemHandle) SubmitUnmap(ctx context.Context, off, numBlocks BlockAddr, done CompleteFunc) error {
	if err := h.takeFailure(); err != nil {
		done(err)
		return nil
	}
	h.mu.Lock()
	byteOff := int64(off) * int64(h.blockLen)
	byteLen := int64(numBlocks) * int64(h.blockLen)
	for i := int64(0); i < byteLen; i++ {
		h.data[byteOff+i] = 0
	}
	h.mu.Unlock()
	done(nil)
	return nil
}
