// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

// Tunable annotates a value as something that might want to be tuned
// as the engine gets optimized — the default strip size, the reserved
// superblock region size, the process-wide window/bandwidth knobs.
//
// TODO: wire this up to raid_set_options so these become
// runtime-configurable instead of compile-time constants.
func Tunable[T any](x T) T {
	return x
}
