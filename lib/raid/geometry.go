// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import "github.com/blockraid/raidbd/lib/util"

// deriveGeometry computes strip_size_blocks/shift and
// block_length_shift per §4.2 from strip_size_kb and the uniform block
// length observed across members, validating both (InvalidArgument on
// failure). isMirror controls the "strip size is zero iff mirror"
// invariant.
func deriveGeometry(stripSizeKB uint64, blockLength uint32, isMirror bool) (stripSizeBlocks int64, stripSizeShift, blockLengthShift uint, err error) {
	if blockLength == 0 || !util.IsPowerOfTwo(blockLength) {
		return 0, 0, 0, errf(InvalidArgument, "block length %d must be a positive power of two", blockLength)
	}
	blockLengthShift = util.Log2(blockLength)

	if isMirror {
		if stripSizeKB != 0 {
			return 0, 0, 0, errf(InvalidArgument, "mirror level requires strip_size_kb == 0, got %d", stripSizeKB)
		}
		return 0, 0, blockLengthShift, nil
	}

	if stripSizeKB == 0 || !util.IsPowerOfTwo(stripSizeKB) {
		return 0, 0, 0, errf(InvalidArgument, "strip_size_kb %d must be a positive power of two", stripSizeKB)
	}
	stripSizeBytes := stripSizeKB * 1024
	if stripSizeBytes%uint64(blockLength) != 0 {
		return 0, 0, 0, errf(InvalidArgument, "strip_size_kb*1024 (%d) does not divide evenly by block length (%d)", stripSizeBytes, blockLength)
	}
	blocks := int64(stripSizeBytes / uint64(blockLength))
	if blocks == 0 {
		return 0, 0, 0, errf(InvalidArgument, "strip_size_blocks computed as 0")
	}
	return blocks, util.Log2(blocks), blockLengthShift, nil
}
