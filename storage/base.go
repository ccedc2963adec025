/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 15:55:15 2018 mstenber
 * Last modified: Wed Apr  4 10:02:12 2018 mstenber
 * Edit time:     46 min
 *
 */

package storage

import (
	"encoding/binary"
	"time"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
	"github.com/pkg/errors"
)

// Blocks per simulated track.
const trackSize = 10

// BackendBase provides the parts every Backend shares: configuration,
// id validation, the single-outstanding-operation lock and the
// optional seek delay simulation.
type BackendBase struct {
	BackendConfiguration

	lock    util.MutexLocked
	current int
	closed  bool
}

func (self *BackendBase) Init(config BackendConfiguration) error {
	if config.BlockCount <= 0 {
		config.BlockCount = DefaultBlockCount
	}
	self.BackendConfiguration = config
	self.current = 0
	self.closed = false
	return nil
}

func (self *BackendBase) BlockCount() int {
	return self.BackendConfiguration.BlockCount
}

// CheckId validates block id (and data, if non-nil).
func (self *BackendBase) CheckId(id int, data []byte) error {
	if id < 0 || id >= self.BackendConfiguration.BlockCount {
		return errors.Wrapf(ErrInvalidBlock, "id %d not in [0, %d)", id, self.BackendConfiguration.BlockCount)
	}
	if data != nil && len(data) != BlockSize {
		return errors.Wrapf(ErrInvalidBlock, "block %d: %d bytes", id, len(data))
	}
	return nil
}

// Access acquires the device for operation on block id; the returned
// function releases it. Only one operation is outstanding at a time.
func (self *BackendBase) Access(id int) (func(), error) {
	unlock := self.lock.Locked()
	if self.closed {
		unlock()
		return nil, ErrClosed
	}
	self.seekTo(id)
	return unlock, nil
}

// Exclusive acquires the device without moving the head, e.g. for
// Sync.
func (self *BackendBase) Exclusive() (func(), error) {
	unlock := self.lock.Locked()
	if self.closed {
		unlock()
		return nil, ErrClosed
	}
	return unlock, nil
}

// MarkClosed makes subsequent operations fail with ErrClosed. It must
// be called with the device held.
func (self *BackendBase) MarkClosed() {
	self.closed = true
}

// SeekDuration is the simulated time to move head from block 'from' to
// block 'to': constant plus a per-track component.
func SeekDuration(delay time.Duration, from, to int) time.Duration {
	if delay <= 0 {
		return 0
	}
	tracks := util.IAbs(to/trackSize - from/trackSize)
	return delay + time.Duration(tracks)*delay/20
}

func (self *BackendBase) seekTo(id int) {
	d := SeekDuration(self.SeekDelay, self.current, id)
	self.current = id
	if d > 0 {
		mlog.Printf2("storage/base", "seek to %d: %v", id, d)
		time.Sleep(d)
	}
}

// BlockKey is the key-value store key of block id.
func BlockKey(id int) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

// IsZero is true if the block contains only zeros; key-value backends
// do not store such blocks at all.
func IsZero(data []byte) bool {
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}

// EncodeBlock applies the configured codec (if any) to the block
// data. The block key is used as additional data so that blocks
// cannot be swapped undetected.
func (self *BackendBase) EncodeBlock(id int, data []byte) ([]byte, error) {
	if self.Codec == nil {
		return data, nil
	}
	return self.Codec.EncodeBytes(data, BlockKey(id))
}

// DecodeBlock is the inverse of EncodeBlock; result is always
// BlockSize bytes.
func (self *BackendBase) DecodeBlock(id int, value []byte) ([]byte, error) {
	b := make([]byte, BlockSize)
	if value == nil {
		return b, nil
	}
	if self.Codec != nil {
		var err error
		value, err = self.Codec.DecodeBytes(value, BlockKey(id))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding block %d", id)
		}
	}
	if len(value) != BlockSize {
		return nil, errors.Wrapf(ErrInvalidBlock, "stored block %d has %d bytes", id, len(value))
	}
	copy(b, value)
	return b, nil
}
