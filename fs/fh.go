/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Tue Jan  2 10:07:37 2018 mstenber
 * Last modified: Sun Apr  8 14:26:50 2018 mstenber
 * Edit time:     131 min
 *
 */

package fs

import (
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
)

// FileTableEntry represents a single open instance of a file. The
// position is protected by the lock of the shared inode.
type FileTableEntry struct {
	Inumber int
	Inode   *Inode
	Mode    Mode

	seekPosition int
	fs           *Fs

	// positionLock serializes ReadAt/WriteAt of the handle
	positionLock util.MutexLocked
}

func (self *FileTableEntry) Fs() *Fs {
	return self.fs
}

// truncate releases every block of the file. After a failure the
// blocks left stay with the file until the next truncate or delete.
func (self *FileTableEntry) truncate() error {
	inode := self.Inode
	defer inode.lock.Locked()()
	err := inode.ReleaseAllBlocks(self.fs.backend, self.fs.superblock)
	if err2 := self.fs.inodes.Store(inode); err == nil {
		err = err2
	}
	self.seekPosition = 0
	return err
}

// Read reads from the current position until buf is full or end of
// file is reached.
func (self *FileTableEntry) Read(buf []byte) (int, error) {
	defer self.fs.lock.RLocked()()
	return self.read(buf)
}

func (self *FileTableEntry) read(buf []byte) (n int, err error) {
	if !self.Mode.CanRead() {
		return 0, errors.Wrapf(ErrInvalidArgument, "read on %v handle", self.Mode)
	}
	inode := self.Inode
	defer inode.lock.Locked()()
	mlog.Printf2("fs/fh", "fh.Read %d @%d of %v", len(buf), self.seekPosition, inode)
	length := int(inode.Length)
	be := self.fs.backend
	for n < len(buf) && self.seekPosition < length {
		ofs := self.seekPosition
		within := ofs % BlockSize
		chunk := util.IMin(BlockSize-within, len(buf)-n, length-ofs)
		id, err := inode.ResolveBlock(be, ofs)
		if err != nil {
			return n, err
		}
		if id == NoBlock {
			// Never written; reads as zeros
			for i := 0; i < chunk; i++ {
				buf[n+i] = 0
			}
		} else {
			b, err := be.ReadBlock(id)
			if err != nil {
				return n, blockError(err, "reading block %d of %v", id, inode)
			}
			copy(buf[n:n+chunk], b[within:])
		}
		n += chunk
		self.seekPosition += chunk
	}
	return n, nil
}

// Write writes buf at the current position (end of file in append
// mode), growing the file as needed. On failure, the bytes written
// so far are counted and kept.
func (self *FileTableEntry) Write(buf []byte) (int, error) {
	defer self.fs.lock.RLocked()()
	return self.write(buf, false)
}

// Append writes buf at the end of file whatever the mode of the
// handle is, and leaves the position after it.
func (self *FileTableEntry) Append(buf []byte) (int, error) {
	defer self.fs.lock.RLocked()()
	defer self.positionLock.Locked()()
	return self.write(buf, true)
}

func (self *FileTableEntry) write(buf []byte, atEnd bool) (n int, err error) {
	if !self.Mode.CanWrite() {
		return 0, errors.Wrapf(ErrInvalidArgument, "write on %v handle", self.Mode)
	}
	inode := self.Inode
	defer inode.lock.Locked()()
	if atEnd || self.Mode == ModeAppend {
		self.seekPosition = int(inode.Length)
	}
	mlog.Printf2("fs/fh", "fh.Write %d @%d of %v", len(buf), self.seekPosition, inode)
	be := self.fs.backend
	for n < len(buf) {
		ofs := self.seekPosition
		if ofs >= MaxFileSize {
			err = errors.Wrapf(ErrOutOfSpace, "file size limit %d", MaxFileSize)
			break
		}
		var id int
		var fresh bool
		id, fresh, err = inode.GrowTo(be, self.fs.superblock, ofs)
		if err != nil {
			break
		}
		within := ofs % BlockSize
		chunk := util.IMin(BlockSize-within, len(buf)-n)
		var b []byte
		switch {
		case chunk == BlockSize:
			b = buf[n : n+chunk]
		case fresh:
			b = make([]byte, BlockSize)
			copy(b[within:], buf[n:n+chunk])
		default:
			b, err = be.ReadBlock(id)
			if err != nil {
				err = blockError(err, "reading block %d of %v", id, inode)
				break
			}
			copy(b[within:], buf[n:n+chunk])
		}
		if err != nil {
			break
		}
		err = be.WriteBlock(id, b)
		if err != nil {
			err = blockError(err, "writing block %d of %v", id, inode)
			break
		}
		n += chunk
		self.seekPosition += chunk
		if self.seekPosition > int(inode.Length) {
			inode.Length = int32(self.seekPosition)
		}
	}
	// Block map may have changed even if nothing was written
	if n > 0 || err != nil {
		if err2 := self.fs.inodes.Store(inode); err == nil {
			err = err2
		}
	}
	return n, err
}

// Seek moves the position; result is clamped to the file length.
func (self *FileTableEntry) Seek(offset, whence int) (int, error) {
	defer self.fs.lock.RLocked()()
	inode := self.Inode
	defer inode.lock.Locked()()
	var pos int
	switch whence {
	case SeekSet:
		pos = offset
	case SeekCur:
		pos = self.seekPosition + offset
	case SeekEnd:
		pos = int(inode.Length) + offset
	default:
		return self.seekPosition, errors.Wrapf(ErrInvalidArgument, "whence %d", whence)
	}
	if pos < 0 {
		return self.seekPosition, errors.Wrapf(ErrInvalidArgument, "seek to %d", pos)
	}
	pos = util.IMin(pos, int(inode.Length))
	self.seekPosition = pos
	return pos, nil
}

// Position returns the current position.
func (self *FileTableEntry) Position() int {
	defer self.Inode.lock.Locked()()
	return self.seekPosition
}

func (self *FileTableEntry) Size() int {
	defer self.Inode.lock.Locked()()
	return int(self.Inode.Length)
}

// ReadAt and WriteAt are what position-based callers (FUSE) want.
func (self *FileTableEntry) ReadAt(buf []byte, offset int) (int, error) {
	defer self.fs.lock.RLocked()()
	if offset < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "offset %d", offset)
	}
	return self.withPosition(offset, func() (int, error) {
		return self.read(buf)
	})
}

func (self *FileTableEntry) WriteAt(buf []byte, offset int) (int, error) {
	defer self.fs.lock.RLocked()()
	if offset < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "offset %d", offset)
	}
	return self.withPosition(offset, func() (int, error) {
		return self.write(buf, false)
	})
}

// withPosition sets the position and calls cb. Unlike Seek, the
// position may be past the end of file; writing there leaves a hole
// that reads as zeros.
func (self *FileTableEntry) withPosition(offset int, cb func() (int, error)) (int, error) {
	defer self.positionLock.Locked()()
	self.Inode.lock.Lock()
	self.seekPosition = offset
	self.Inode.lock.Unlock()
	return cb()
}

func (self *FileTableEntry) Close() error {
	defer self.fs.lock.RLocked()()
	return self.fs.files.Close(self)
}
