/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 23 15:10:01 2017 mstenber
 * Last modified: Wed Apr  4 12:31:15 2018 mstenber
 * Edit time:     168 min
 *
 */

package badger

import (
	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
)

// badgerBackend provides on-disk storage.
//
// - big-endian block id -> (codec encoded) data
//
// All-zero blocks are not stored. Writes are synchronous, so Sync has
// nothing left to do.
type badgerBackend struct {
	storage.BackendBase
	db *badger.DB
}

var _ storage.Backend = &badgerBackend{}

func NewBadgerBackend() storage.Backend {
	return &badgerBackend{}
}

func (self *badgerBackend) Init(config storage.BackendConfiguration) error {
	err := self.BackendBase.Init(config)
	if err != nil {
		return err
	}
	if config.Directory == "" {
		return errors.New("badger backend requires directory")
	}
	opts := badger.DefaultOptions
	opts.Dir = config.Directory
	opts.ValueDir = config.Directory
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return errors.Wrapf(err, "badger.Open %v", config.Directory)
	}
	self.db = db
	return nil
}

func (self *badgerBackend) get(k []byte) (v []byte, err error) {
	err = self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(k)
		if err == nil {
			v, err = i.ValueCopy(nil)
		}
		return err
	})
	if err == badger.ErrKeyNotFound {
		err = nil
	}
	return
}

func (self *badgerBackend) ReadBlock(id int) ([]byte, error) {
	if err := self.CheckId(id, nil); err != nil {
		return nil, err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	v, err := self.get(storage.BlockKey(id))
	if err != nil {
		return nil, errors.Wrapf(err, "badger get %d", id)
	}
	return self.DecodeBlock(id, v)
}

func (self *badgerBackend) WriteBlock(id int, data []byte) error {
	if err := self.CheckId(id, data); err != nil {
		return err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return err
	}
	defer unlock()
	k := storage.BlockKey(id)
	if storage.IsZero(data) {
		mlog.Printf2("storage/badger/badger", "bad.WriteBlock %d (zero)", id)
		return self.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(k)
		})
	}
	v, err := self.EncodeBlock(id, data)
	if err != nil {
		return err
	}
	mlog.Printf2("storage/badger/badger", "bad.WriteBlock %d (%d b)", id, len(v))
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func (self *badgerBackend) Sync() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	unlock()
	// Every commit is already synced.
	return nil
}

func (self *badgerBackend) Close() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	self.MarkClosed()
	// Close flushes everything.
	return self.db.Close()
}
