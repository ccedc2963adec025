/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Jan  6 00:08:05 2018 mstenber
 * Last modified: Wed Apr  4 10:20:53 2018 mstenber
 * Edit time:     19 min
 *
 */

package storage

import (
	"fmt"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
)

// ProxyBackend passes everything to the Backend it wraps; embed it to
// override only some of the calls.
type ProxyBackend struct {
	Backend Backend
}

var _ Backend = &ProxyBackend{}

func (self *ProxyBackend) Init(config BackendConfiguration) error {
	return self.Backend.Init(config)
}

func (self *ProxyBackend) BlockCount() int {
	return self.Backend.BlockCount()
}

func (self *ProxyBackend) ReadBlock(id int) ([]byte, error) {
	return self.Backend.ReadBlock(id)
}

func (self *ProxyBackend) WriteBlock(id int, data []byte) error {
	return self.Backend.WriteBlock(id, data)
}

func (self *ProxyBackend) Sync() error {
	return self.Backend.Sync()
}

func (self *ProxyBackend) Close() error {
	mlog.Printf2("storage/proxy", "proxying backend Close()")
	return self.Backend.Close()
}

// CountingBackend keeps statistics of the calls made to the wrapped
// backend.
type CountingBackend struct {
	ProxyBackend
	Reads, Writes, Syncs, Failures util.AtomicInt
}

var _ Backend = &CountingBackend{}

// NewCountingBackend wraps an already initialized backend.
func NewCountingBackend(be Backend) *CountingBackend {
	return &CountingBackend{ProxyBackend: ProxyBackend{Backend: be}}
}

func (self *CountingBackend) count(err error) {
	if err != nil {
		self.Failures.Add(1)
	}
}

func (self *CountingBackend) ReadBlock(id int) ([]byte, error) {
	self.Reads.Add(1)
	b, err := self.Backend.ReadBlock(id)
	self.count(err)
	return b, err
}

func (self *CountingBackend) WriteBlock(id int, data []byte) error {
	self.Writes.Add(1)
	err := self.Backend.WriteBlock(id, data)
	self.count(err)
	return err
}

func (self *CountingBackend) Sync() error {
	self.Syncs.Add(1)
	err := self.Backend.Sync()
	self.count(err)
	return err
}

func (self *CountingBackend) String() string {
	return fmt.Sprintf("%d reads, %d writes, %d syncs, %d failures",
		self.Reads.Get(), self.Writes.Get(), self.Syncs.Get(), self.Failures.Get())
}
