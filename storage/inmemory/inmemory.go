/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 23 15:10:01 2017 mstenber
 * Last modified: Wed Apr  4 11:22:08 2018 mstenber
 * Edit time:     74 min
 *
 */

package inmemory

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/pkg/errors"
)

// ImageName is the file the image is persisted to within the
// configured directory.
const ImageName = "DISK"

// inMemoryBackend provides In-memory storage. If Directory is set,
// the image is loaded from it at Init and written to it on Sync;
// otherwise the contents vanish at Close.
type inMemoryBackend struct {
	storage.BackendBase
	image []byte
}

var _ storage.Backend = &inMemoryBackend{}

func NewInMemoryBackend() storage.Backend {
	return &inMemoryBackend{}
}

func (self *inMemoryBackend) path() string {
	if self.Directory == "" {
		return ""
	}
	return filepath.Join(self.Directory, ImageName)
}

func (self *inMemoryBackend) Init(config storage.BackendConfiguration) error {
	err := self.BackendBase.Init(config)
	if err != nil {
		return err
	}
	self.image = make([]byte, self.BlockCount()*storage.BlockSize)
	path := self.path()
	if path == "" {
		return nil
	}
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		mlog.Printf2("storage/inmemory/inmemory", "im.Init: no image in %v", path)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %v", path)
	}
	n := copy(self.image, b)
	mlog.Printf2("storage/inmemory/inmemory", "im.Init: loaded %d bytes from %v", n, path)
	return nil
}

func (self *inMemoryBackend) ReadBlock(id int) ([]byte, error) {
	if err := self.CheckId(id, nil); err != nil {
		return nil, err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ofs := id * storage.BlockSize
	b := make([]byte, storage.BlockSize)
	copy(b, self.image[ofs:])
	return b, nil
}

func (self *inMemoryBackend) WriteBlock(id int, data []byte) error {
	if err := self.CheckId(id, data); err != nil {
		return err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return err
	}
	defer unlock()
	copy(self.image[id*storage.BlockSize:], data)
	return nil
}

func (self *inMemoryBackend) sync() error {
	path := self.path()
	if path == "" {
		return nil
	}
	mlog.Printf2("storage/inmemory/inmemory", "im.Sync to %v", path)
	err := os.MkdirAll(self.Directory, 0700)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, self.image, 0600)
}

func (self *inMemoryBackend) Sync() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	return self.sync()
}

func (self *inMemoryBackend) Close() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	self.MarkClosed()
	return self.sync()
}
