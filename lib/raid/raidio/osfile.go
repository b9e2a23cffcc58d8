// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raidio

import (
	"context"
	"errors"
	"os"
)

// ErrResourceExhausted is returned by Submit* when a handle has no
// more in-flight request slots; the caller is expected to queue a
// retry rather than treat it as a hard failure.
var ErrResourceExhausted = errors.New("raidio: resource exhausted")

// OSHandle is a [Handle] backed by a regular *os.File, standing in
// for a kernel block device or a flat image file. Submission runs
// each op on its own goroutine, bounded by a semaphore sized to
// maxInFlight, which is what lets callers exercise the ENOMEM
// back-pressure path without a real bdev layer underneath them.
type OSHandle struct {
	file      *os.File
	name      string
	blockLen  uint32
	numBlocks BlockAddr
	sem       chan struct{}
}

var _ Handle = (*OSHandle)(nil)

// NewOSHandle opens path for the base device, sizing it in blockLen
// blocks of numBlocks and admitting at most maxInFlight concurrent
// submissions before reporting ErrResourceExhausted.
func NewOSHandle(path string, blockLen uint32, numBlocks BlockAddr, maxInFlight int) (*OSHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &OSHandle{
		file:      f,
		name:      path,
		blockLen:  blockLen,
		numBlocks: numBlocks,
		sem:       make(chan struct{}, maxInFlight),
	}, nil
}

func (h *OSHandle) Name() string        { return h.name }
func (h *OSHandle) BlockLen() uint32    { return h.blockLen }
func (h *OSHandle) SizeBlocks() BlockAddr { return h.numBlocks }
func (h *OSHandle) Close() error        { return h.file.Close() }

func (h *OSHandle) SupportsFlush() bool { return true }
func (h *OSHandle) SupportsUnmap() bool { return true }
func (h *OSHandle) SupportsReset() bool { return true }
func (h *OSHandle) HasMetadata() bool   { return false }

func (h *OSHandle) submit(ctx context.Context, fn func() error, done CompleteFunc) error {
	select {
	case h.sem <- struct{}{}:
	default:
		return ErrResourceExhausted
	}
	go func() {
		defer func() { <-h.sem }()
		done(fn())
	}()
	return nil
}

func (h *OSHandle) SubmitRead(ctx context.Context, buf []byte, off BlockAddr, done CompleteFunc) error {
	return h.submit(ctx, func() error {
		_, err := h.file.ReadAt(buf, int64(off)*int64(h.blockLen))
		return err
	}, done)
}

func (h *OSHandle) SubmitWrite(ctx context.Context, buf []byte, off BlockAddr, done CompleteFunc) error {
	return h.submit(ctx, func() error {
		_, err := h.file.WriteAt(buf, int64(off)*int64(h.blockLen))
		return err
	}, done)
}

func (h *OSHandle) SubmitReset(ctx context.Context, done CompleteFunc) error {
	return h.submit(ctx, func() error { return h.file.Sync() }, done)
}

func (h *OSHandle) SubmitFlush(ctx context.Context, done CompleteFunc) error {
	return h.submit(ctx, func() error { return h.file.Sync() }, done)
}

func (h *OSHandle) SubmitUnmap(ctx context.Context, off, numBlocks BlockAddr, done CompleteFunc) error {
	return h.submit(ctx, func() error { return nil }, done)
}
