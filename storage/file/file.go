/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan 10 10:37:02 2018 mstenber
 * Last modified: Wed Apr  4 11:41:36 2018 mstenber
 * Edit time:     58 min
 *
 */

package file

import (
	"os"
	"path/filepath"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/pkg/errors"
)

const ImageName = "flatfs.img"

// fileBackend stores the blocks in a single image file at
// Directory/flatfs.img; block id maps to offset id*BlockSize.
type fileBackend struct {
	storage.BackendBase
	f *os.File
}

var _ storage.Backend = &fileBackend{}

func NewFileBackend() storage.Backend {
	return &fileBackend{}
}

func (self *fileBackend) Init(config storage.BackendConfiguration) error {
	err := self.BackendBase.Init(config)
	if err != nil {
		return err
	}
	if config.Directory == "" {
		return errors.New("file backend requires directory")
	}
	err = os.MkdirAll(config.Directory, 0700)
	if err != nil {
		return err
	}
	path := filepath.Join(config.Directory, ImageName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening %v", path)
	}
	// Sparse is fine; unwritten blocks read as zeros.
	err = f.Truncate(int64(self.BlockCount()) * storage.BlockSize)
	if err != nil {
		f.Close()
		return err
	}
	mlog.Printf2("storage/file/file", "fb.Init %v", path)
	self.f = f
	return nil
}

func (self *fileBackend) ReadBlock(id int) ([]byte, error) {
	if err := self.CheckId(id, nil); err != nil {
		return nil, err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	b := make([]byte, storage.BlockSize)
	_, err = self.f.ReadAt(b, int64(id)*storage.BlockSize)
	if err != nil {
		return nil, errors.Wrapf(err, "reading block %d", id)
	}
	return b, nil
}

func (self *fileBackend) WriteBlock(id int, data []byte) error {
	if err := self.CheckId(id, data); err != nil {
		return err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = self.f.WriteAt(data, int64(id)*storage.BlockSize)
	if err != nil {
		return errors.Wrapf(err, "writing block %d", id)
	}
	return nil
}

func (self *fileBackend) Sync() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	return self.f.Sync()
}

func (self *fileBackend) Close() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	self.MarkClosed()
	err = self.f.Sync()
	if err2 := self.f.Close(); err == nil {
		err = err2
	}
	return err
}
