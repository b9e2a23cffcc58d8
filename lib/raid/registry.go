// Copyright (C) 2024 The raidbd Authors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package raid

import (
	"sort"
	"sync"

	"github.com/blockraid/raidbd/lib/util"
)

// registry is the process-wide list of RAID devices: mutated only on
// the app thread (Create/Delete), read-mostly from List and from the
// examine path's UUID lookup.
type deviceRegistry struct {
	mu       sync.RWMutex
	byName   map[string]*Device
	byUUID   map[util.UUID]*Device
}

var globalRegistry = &deviceRegistry{
	byName: make(map[string]*Device),
	byUUID: make(map[util.UUID]*Device),
}

func (r *deviceRegistry) add(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[d.name] = d
	if d.uuid != util.Nil {
		r.byUUID[d.uuid] = d
	}
}

func (r *deviceRegistry) remove(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, d.name)
	if d.uuid != util.Nil {
		delete(r.byUUID, d.uuid)
	}
}

func (r *deviceRegistry) byNameLocked(name string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

func (r *deviceRegistry) byUUIDLocked(id util.UUID) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byUUID[id]
	return d, ok
}

func (r *deviceRegistry) all() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Category selects which arrays List returns.
type Category int

const (
	CategoryAll Category = iota
	CategoryOnline
	CategoryConfiguring
	CategoryOffline
)

// ParseCategory maps the raid_list category string to a Category,
// returning InvalidArgument for anything else.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "all":
		return CategoryAll, nil
	case "online":
		return CategoryOnline, nil
	case "configuring":
		return CategoryConfiguring, nil
	case "offline":
		return CategoryOffline, nil
	default:
		return 0, errf(InvalidArgument, "unknown category %q", s)
	}
}

// List returns Info snapshots for every registered array matching
// category.
func List(category Category) []Info {
	var out []Info
	for _, d := range globalRegistry.all() {
		st := d.State()
		switch category {
		case CategoryOnline:
			if st != StateOnline {
				continue
			}
		case CategoryConfiguring:
			if st != StateConfiguring {
				continue
			}
		case CategoryOffline:
			if st != StateOffline {
				continue
			}
		}
		out = append(out, d.Info())
	}
	return out
}

// Lookup returns the registered array named name.
func Lookup(name string) (*Device, bool) {
	return globalRegistry.byNameLocked(name)
}
