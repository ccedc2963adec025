/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Apr  6 09:44:20 2018 mstenber
 * Last modified: Fri Apr  6 12:17:09 2018 mstenber
 * Edit time:     71 min
 *
 */

package fs

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/util"
)

const superblockSize = 12

// Superblock lives in block 0 and owns the space accounting. The free
// list is threaded through the free blocks themselves: first two
// bytes of a free block are the id of the next one.
type Superblock struct {
	TotalBlocks  int
	TotalInodes  int
	FreeListHead int

	backend    storage.Backend
	lock       util.MutexLocked
	freeBlocks int
}

func NewSuperblock(backend storage.Backend) *Superblock {
	return &Superblock{backend: backend, FreeListHead: NoBlock}
}

// FirstDataBlock is the first block past the inode table.
func (self *Superblock) FirstDataBlock() int {
	return 1 + InodeBlocks(self.TotalInodes)
}

// FreeBlocks returns number of blocks on the free list.
func (self *Superblock) FreeBlocks() int {
	defer self.lock.Locked()()
	return self.freeBlocks
}

func freeBlockData(next int) []byte {
	b := make([]byte, BlockSize)
	util.PutInt16At(b, 0, int16(next))
	return b
}

func validGeometry(totalBlocks, totalInodes int) bool {
	return totalBlocks > 0 && totalBlocks <= MaxBlocks &&
		totalInodes >= 1 && totalInodes <= MaxInodes &&
		1+InodeBlocks(totalInodes) <= totalBlocks
}

// Initialize sets up the geometry and writes the free list through
// every data block, lowest id first. It persists the superblock as
// well.
func (self *Superblock) Initialize(totalBlocks, totalInodes int) error {
	mlog.Printf2("fs/superblock", "sb.Initialize %d %d", totalBlocks, totalInodes)
	if !validGeometry(totalBlocks, totalInodes) {
		return errors.Wrapf(ErrInvalidArgument, "geometry %d blocks/%d inodes", totalBlocks, totalInodes)
	}
	defer self.lock.Locked()()
	self.TotalBlocks = totalBlocks
	self.TotalInodes = totalInodes
	first := self.FirstDataBlock()
	for id := first; id < totalBlocks; id++ {
		next := id + 1
		if next == totalBlocks {
			next = NoBlock
		}
		err := self.backend.WriteBlock(id, freeBlockData(next))
		if err != nil {
			return blockError(err, "free list block %d", id)
		}
	}
	self.FreeListHead = first
	self.freeBlocks = totalBlocks - first
	if self.freeBlocks == 0 {
		self.FreeListHead = NoBlock
	}
	return self.persist()
}

func (self *Superblock) isDataBlock(id int) bool {
	return id >= self.FirstDataBlock() && id < self.TotalBlocks
}

// AllocateBlock pops the head of the free list. The content of the
// returned block is not cleared.
func (self *Superblock) AllocateBlock() (int, error) {
	defer self.lock.Locked()()
	id := self.FreeListHead
	if id == NoBlock {
		return NoBlock, ErrOutOfSpace
	}
	b, err := self.backend.ReadBlock(id)
	if err != nil {
		return NoBlock, blockError(err, "free list block %d", id)
	}
	next := int(util.Int16At(b, 0))
	if next != NoBlock && !self.isDataBlock(next) {
		return NoBlock, errors.Wrapf(ErrIOFailure, "free list corrupt at %d: next %d", id, next)
	}
	self.FreeListHead = next
	self.freeBlocks--
	mlog.Printf2("fs/superblock", "sb.AllocateBlock %d (next %d)", id, next)
	return id, nil
}

// FreeBlock pushes block to the head of the free list.
func (self *Superblock) FreeBlock(id int) error {
	defer self.lock.Locked()()
	if !self.isDataBlock(id) {
		return errors.Wrapf(ErrInvalidArgument, "freeing non-data block %d", id)
	}
	err := self.backend.WriteBlock(id, freeBlockData(self.FreeListHead))
	if err != nil {
		return blockError(err, "freeing block %d", id)
	}
	mlog.Printf2("fs/superblock", "sb.FreeBlock %d (next %d)", id, self.FreeListHead)
	self.FreeListHead = id
	self.freeBlocks++
	return nil
}

func (self *Superblock) pack() []byte {
	b := make([]byte, BlockSize)
	binary.BigEndian.PutUint32(b[0:], uint32(self.TotalBlocks))
	binary.BigEndian.PutUint32(b[4:], uint32(self.TotalInodes))
	// -1 wraps to 0xFFFFFFFF
	binary.BigEndian.PutUint32(b[8:], uint32(int32(self.FreeListHead)))
	return b
}

func (self *Superblock) persist() error {
	return blockError(self.backend.WriteBlock(0, self.pack()), "superblock")
}

// Persist writes the superblock to block 0.
func (self *Superblock) Persist() error {
	defer self.lock.Locked()()
	return self.persist()
}

// Load reads block 0. If it does not describe a file system of this
// device, ErrNotFormatted is returned. The free list is walked to
// count it (and to verify it is sane).
func (self *Superblock) Load() error {
	defer self.lock.Locked()()
	b, err := self.backend.ReadBlock(0)
	if err != nil {
		return blockError(err, "superblock")
	}
	totalBlocks := int(binary.BigEndian.Uint32(b[0:]))
	totalInodes := int(binary.BigEndian.Uint32(b[4:]))
	head := int(int32(binary.BigEndian.Uint32(b[8:])))
	if totalBlocks != self.backend.BlockCount() || !validGeometry(totalBlocks, totalInodes) {
		return errors.Wrapf(ErrNotFormatted, "geometry %d blocks/%d inodes on %d block device",
			totalBlocks, totalInodes, self.backend.BlockCount())
	}
	self.TotalBlocks = totalBlocks
	self.TotalInodes = totalInodes
	if head != NoBlock && !self.isDataBlock(head) {
		return errors.Wrapf(ErrNotFormatted, "free list head %d", head)
	}
	self.FreeListHead = head
	n := 0
	err = self.walk(func(id int) {
		n++
	})
	if err != nil {
		return err
	}
	self.freeBlocks = n
	mlog.Printf2("fs/superblock", "sb.Load %d blocks, %d inodes, %d free", totalBlocks, totalInodes, n)
	return nil
}

// walk calls cb for every block on the free list, in list order.
func (self *Superblock) walk(cb func(id int)) error {
	seen := make(map[int]bool)
	for id := self.FreeListHead; id != NoBlock; {
		if !self.isDataBlock(id) || seen[id] {
			return errors.Wrapf(ErrNotFormatted, "free list corrupt at %d", id)
		}
		seen[id] = true
		cb(id)
		b, err := self.backend.ReadBlock(id)
		if err != nil {
			return blockError(err, "free list block %d", id)
		}
		id = int(util.Int16At(b, 0))
	}
	return nil
}

// FreeList returns the free list in order.
func (self *Superblock) FreeList() (l []int, err error) {
	defer self.lock.Locked()()
	err = self.walk(func(id int) {
		l = append(l, id)
	})
	return
}
