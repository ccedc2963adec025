/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr  5 09:12:40 2018 mstenber
 * Last modified: Thu Apr  5 11:48:02 2018 mstenber
 * Edit time:     112 min
 *
 */

// cache package provides write-back block caches that sit in front of
// another storage.Backend and implement the same contract. Sync
// writes dirty blocks back and syncs the backend below; Flush
// additionally invalidates the cache.
package cache

import (
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/util"
	"github.com/pkg/errors"
)

const DefaultSize = 10

type clockEntry struct {
	id               int
	data             []byte
	reference, dirty bool
}

// ClockCache chooses victims with the enhanced second chance
// algorithm: an entry that is neither referenced nor dirty is
// preferred, then one that is dirty but not referenced. Reference
// bits are cleared while looking for the latter.
type ClockCache struct {
	storage.ProxyBackend
	Size int

	lock    util.MutexLocked
	entries []clockEntry
	id2slot map[int]int
	hand    int
}

var _ storage.Backend = &ClockCache{}

func NewClockCache(be storage.Backend, size int) *ClockCache {
	return &ClockCache{ProxyBackend: storage.ProxyBackend{Backend: be}, Size: size}
}

func (self *ClockCache) Init(config storage.BackendConfiguration) error {
	err := self.ProxyBackend.Init(config)
	if err != nil {
		return err
	}
	if self.Size <= 0 {
		self.Size = DefaultSize
	}
	self.entries = make([]clockEntry, self.Size)
	for i := range self.entries {
		self.entries[i].id = -1
	}
	self.id2slot = make(map[int]int)
	self.hand = 0
	return nil
}

func (self *ClockCache) check(id int, data []byte) error {
	if id < 0 || id >= self.BlockCount() {
		return errors.Wrapf(storage.ErrInvalidBlock, "id %d not in [0, %d)", id, self.BlockCount())
	}
	if data != nil && len(data) != storage.BlockSize {
		return errors.Wrapf(storage.ErrInvalidBlock, "block %d: %d bytes", id, len(data))
	}
	return nil
}

func (self *ClockCache) writeBack(slot int) error {
	e := &self.entries[slot]
	if e.id < 0 || !e.dirty {
		return nil
	}
	mlog.Printf2("storage/cache/clock", "cc.writeBack %d (slot %d)", e.id, slot)
	err := self.Backend.WriteBlock(e.id, e.data)
	if err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// findSlot returns slot to (re)use, free one if available.
func (self *ClockCache) findSlot() int {
	n := len(self.entries)
	for i := 0; i < n; i++ {
		if self.entries[i].id < 0 {
			return i
		}
	}
	for {
		// (0,0)
		for i := 0; i < n; i++ {
			slot := (self.hand + i) % n
			e := &self.entries[slot]
			if !e.reference && !e.dirty {
				self.hand = (slot + 1) % n
				return slot
			}
		}
		// (0,1), clearing reference bits as we go
		for i := 0; i < n; i++ {
			slot := (self.hand + i) % n
			e := &self.entries[slot]
			if !e.reference && e.dirty {
				self.hand = (slot + 1) % n
				return slot
			}
			e.reference = false
		}
	}
}

// victim returns slot that can be overwritten, with the old contents
// written back if necessary.
func (self *ClockCache) victim() (int, error) {
	slot := self.findSlot()
	err := self.writeBack(slot)
	if err != nil {
		return -1, err
	}
	e := &self.entries[slot]
	if e.id >= 0 {
		mlog.Printf2("storage/cache/clock", "cc.victim evicting %d", e.id)
		delete(self.id2slot, e.id)
		e.id = -1
	}
	return slot, nil
}

func (self *ClockCache) ReadBlock(id int) ([]byte, error) {
	if err := self.check(id, nil); err != nil {
		return nil, err
	}
	defer self.lock.Locked()()
	slot, ok := self.id2slot[id]
	if !ok {
		var err error
		slot, err = self.victim()
		if err != nil {
			return nil, err
		}
		data, err := self.Backend.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		self.entries[slot] = clockEntry{id: id, data: data}
		self.id2slot[id] = slot
	}
	e := &self.entries[slot]
	e.reference = true
	b := make([]byte, storage.BlockSize)
	copy(b, e.data)
	return b, nil
}

func (self *ClockCache) WriteBlock(id int, data []byte) error {
	if err := self.check(id, data); err != nil {
		return err
	}
	defer self.lock.Locked()()
	slot, ok := self.id2slot[id]
	if !ok {
		var err error
		slot, err = self.victim()
		if err != nil {
			return err
		}
		self.entries[slot] = clockEntry{id: id, data: make([]byte, storage.BlockSize)}
		self.id2slot[id] = slot
	}
	e := &self.entries[slot]
	copy(e.data, data)
	e.reference = true
	e.dirty = true
	return nil
}

func (self *ClockCache) writeBackAll() error {
	for i := range self.entries {
		if err := self.writeBack(i); err != nil {
			return err
		}
	}
	return nil
}

func (self *ClockCache) Sync() error {
	defer self.lock.Locked()()
	if err := self.writeBackAll(); err != nil {
		return err
	}
	return self.Backend.Sync()
}

// Flush writes back dirty blocks and invalidates every entry.
func (self *ClockCache) Flush() error {
	defer self.lock.Locked()()
	if err := self.writeBackAll(); err != nil {
		return err
	}
	for i := range self.entries {
		self.entries[i] = clockEntry{id: -1}
	}
	self.id2slot = make(map[int]int)
	return self.Backend.Sync()
}

func (self *ClockCache) Close() error {
	err := self.Sync()
	if err2 := self.Backend.Close(); err == nil {
		err = err2
	}
	return err
}
