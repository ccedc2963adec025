/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 22:49:15 2018 mstenber
 * Last modified: Wed Apr  4 12:10:47 2018 mstenber
 * Edit time:     51 min
 *
 */

package bolt

import (
	"path/filepath"

	bbolt "github.com/coreos/bbolt"
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
)

const DatabaseName = "bbolt.db"

var blocksKey = []byte("blocks")

// boltBackend provides on-disk storage.
//
// - bucket 'blocks': big-endian block id -> (codec encoded) data
//
// All-zero blocks are not stored. Commits are not fsynced; Sync does
// that.
type boltBackend struct {
	storage.BackendBase

	db *bbolt.DB
}

var _ storage.Backend = &boltBackend{}

func NewBoltBackend() storage.Backend {
	return &boltBackend{}
}

func (self *boltBackend) Init(config storage.BackendConfiguration) error {
	err := self.BackendBase.Init(config)
	if err != nil {
		return err
	}
	if config.Directory == "" {
		return errors.New("bolt backend requires directory")
	}
	path := filepath.Join(config.Directory, DatabaseName)
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return errors.Wrapf(err, "bbolt.Open %v", path)
	}
	db.NoSync = true
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksKey)
		return err
	})
	if err != nil {
		db.Close()
		return err
	}
	self.db = db
	return nil
}

func (self *boltBackend) ReadBlock(id int) (b []byte, err error) {
	if err = self.CheckId(id, nil); err != nil {
		return
	}
	unlock, err := self.Access(id)
	if err != nil {
		return
	}
	defer unlock()
	err = self.db.View(func(tx *bbolt.Tx) error {
		var err error
		// Value is valid only within the transaction; DecodeBlock
		// copies it.
		b, err = self.DecodeBlock(id, tx.Bucket(blocksKey).Get(storage.BlockKey(id)))
		return err
	})
	return
}

func (self *boltBackend) WriteBlock(id int, data []byte) error {
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
		mlog.Printf2("storage/bolt/bolt", "bbolt.WriteBlock %d (zero)", id)
		return self.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(blocksKey).Delete(k)
		})
	}
	v, err := self.EncodeBlock(id, data)
	if err != nil {
		return err
	}
	mlog.Printf2("storage/bolt/bolt", "bbolt.WriteBlock %d (%d b)", id, len(v))
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blocksKey).Put(k, v)
	})
}

func (self *boltBackend) Sync() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	return self.db.Sync()
}

func (self *boltBackend) Close() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	self.MarkClosed()
	err = self.db.Sync()
	if err2 := self.db.Close(); err == nil {
		err = err2
	}
	return err
}
