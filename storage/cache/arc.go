/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Thu Apr  5 12:01:33 2018 mstenber
 * Last modified: Thu Apr  5 13:20:19 2018 mstenber
 * Edit time:     49 min
 *
 */

package cache

import (
	"github.com/bluele/gcache"
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/util"
)

type arcEntry struct {
	id    int
	data  []byte
	dirty bool
}

// ARCCache keeps blocks in gcache's adaptive replacement cache. Dirty
// blocks are written back when evicted; dirty keeps track of them so
// that Sync does not need to walk the whole cache.
type ARCCache struct {
	storage.ProxyBackend
	Size int

	lock     util.MutexLocked
	cache    gcache.Cache
	dirty    map[int]*arcEntry
	evictErr error
}

var _ storage.Backend = &ARCCache{}

func NewARCCache(be storage.Backend, size int) *ARCCache {
	return &ARCCache{ProxyBackend: storage.ProxyBackend{Backend: be}, Size: size}
}

func (self *ARCCache) Init(config storage.BackendConfiguration) error {
	err := self.ProxyBackend.Init(config)
	if err != nil {
		return err
	}
	if self.Size <= 0 {
		self.Size = DefaultSize
	}
	self.dirty = make(map[int]*arcEntry)
	self.cache = gcache.New(self.Size).
		ARC().
		EvictedFunc(self.evicted).
		Build()
	return nil
}

// evicted is called by gcache within Set, that is, with our lock held.
func (self *ARCCache) evicted(key, value interface{}) {
	e := value.(*arcEntry)
	if !e.dirty {
		return
	}
	mlog.Printf2("storage/cache/arc", "arc.evicted dirty %d", e.id)
	err := self.Backend.WriteBlock(e.id, e.data)
	if err != nil {
		if self.evictErr == nil {
			self.evictErr = err
		}
		return
	}
	e.dirty = false
	delete(self.dirty, e.id)
}

func (self *ARCCache) check(id int, data []byte) error {
	if id < 0 || id >= self.BlockCount() {
		return errors.Wrapf(storage.ErrInvalidBlock, "id %d not in [0, %d)", id, self.BlockCount())
	}
	if data != nil && len(data) != storage.BlockSize {
		return errors.Wrapf(storage.ErrInvalidBlock, "block %d: %d bytes", id, len(data))
	}
	return nil
}

func (self *ARCCache) set(e *arcEntry) error {
	self.evictErr = nil
	if err := self.cache.Set(e.id, e); err != nil {
		return err
	}
	return self.evictErr
}

func (self *ARCCache) get(id int) *arcEntry {
	if e, ok := self.dirty[id]; ok {
		// Touch it so ARC sees the access.
		self.cache.Get(id)
		return e
	}
	v, err := self.cache.GetIFPresent(id)
	if err != nil {
		return nil
	}
	return v.(*arcEntry)
}

func (self *ARCCache) ReadBlock(id int) ([]byte, error) {
	if err := self.check(id, nil); err != nil {
		return nil, err
	}
	defer self.lock.Locked()()
	e := self.get(id)
	if e == nil {
		data, err := self.Backend.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		e = &arcEntry{id: id, data: data}
		if err = self.set(e); err != nil {
			return nil, err
		}
	}
	b := make([]byte, storage.BlockSize)
	copy(b, e.data)
	return b, nil
}

func (self *ARCCache) WriteBlock(id int, data []byte) error {
	if err := self.check(id, data); err != nil {
		return err
	}
	defer self.lock.Locked()()
	e := &arcEntry{id: id, data: append([]byte(nil), data...), dirty: true}
	self.dirty[id] = e
	return self.set(e)
}

func (self *ARCCache) writeBackAll() error {
	for id, e := range self.dirty {
		err := self.Backend.WriteBlock(id, e.data)
		if err != nil {
			return err
		}
		e.dirty = false
		delete(self.dirty, id)
	}
	return nil
}

func (self *ARCCache) Sync() error {
	defer self.lock.Locked()()
	if err := self.writeBackAll(); err != nil {
		return err
	}
	return self.Backend.Sync()
}

func (self *ARCCache) Flush() error {
	defer self.lock.Locked()()
	if err := self.writeBackAll(); err != nil {
		return err
	}
	self.cache.Purge()
	return self.Backend.Sync()
}

func (self *ARCCache) Close() error {
	err := self.Sync()
	if err2 := self.Backend.Close(); err == nil {
		err = err2
	}
	return err
}
