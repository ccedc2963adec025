/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Apr  6 12:30:55 2018 mstenber
 * Last modified: Sat Apr  7 10:12:48 2018 mstenber
 * Edit time:     143 min
 *
 */

package fs

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/util"
)

type InodeFlag int16

const (
	FlagUnused InodeFlag = iota
	FlagUsed
	FlagPendingDelete
)

func (self InodeFlag) String() string {
	switch self {
	case FlagUnused:
		return "unused"
	case FlagUsed:
		return "used"
	case FlagPendingDelete:
		return "pending-delete"
	}
	return fmt.Sprintf("flag-%d", int16(self))
}

// Inode is the in-memory copy of one 32-byte inode record. At most
// one instance per inumber is shared by the open handles (see
// FileTable); lock protects the record as well as handle positions
// while an operation is in progress.
type Inode struct {
	Inumber  int
	Length   int32
	RefCount int16
	Flag     InodeFlag
	Direct   [DirectPointers]int16
	Indirect int16

	lock util.MutexLocked
}

func NewInode(inumber int) *Inode {
	self := &Inode{Inumber: inumber}
	self.reset()
	return self
}

// reset clears the block map; the caller must have released the
// blocks.
func (self *Inode) reset() {
	self.Length = 0
	for i := range self.Direct {
		self.Direct[i] = NoBlock
	}
	self.Indirect = NoBlock
}

// empty is true if the inode holds no data and owns no blocks.
func (self *Inode) empty() bool {
	if self.Length != 0 || self.Indirect != NoBlock {
		return false
	}
	for _, v := range self.Direct {
		if v != NoBlock {
			return false
		}
	}
	return true
}

func (self *Inode) String() string {
	return fmt.Sprintf("inode#%d{%v len:%d ref:%d}", self.Inumber, self.Flag, self.Length, self.RefCount)
}

func (self *Inode) pack(b []byte) {
	util.PutInt32At(b, 0, self.Length)
	util.PutInt16At(b, 4, self.RefCount)
	util.PutInt16At(b, 6, int16(self.Flag))
	for i, v := range self.Direct {
		util.PutInt16At(b, 8+2*i, v)
	}
	util.PutInt16At(b, 8+2*DirectPointers, self.Indirect)
}

func (self *Inode) unpack(b []byte) {
	self.Length = util.Int32At(b, 0)
	self.RefCount = util.Int16At(b, 4)
	self.Flag = InodeFlag(util.Int16At(b, 6))
	for i := range self.Direct {
		self.Direct[i] = util.Int16At(b, 8+2*i)
	}
	self.Indirect = util.Int16At(b, 8+2*DirectPointers)
}

// InodeTable serializes the read-modify-write of the blocks the
// inode records are packed into.
type InodeTable struct {
	backend     storage.Backend
	totalInodes int
	lock        util.MutexLocked
}

func NewInodeTable(backend storage.Backend, totalInodes int) *InodeTable {
	return &InodeTable{backend: backend, totalInodes: totalInodes}
}

func (self *InodeTable) location(inumber int) (block, offset int, err error) {
	if inumber < 0 || inumber >= self.totalInodes {
		err = errors.Wrapf(ErrInvalidArgument, "inumber %d not in [0, %d)", inumber, self.totalInodes)
		return
	}
	block = 1 + inumber/InodesPerBlock
	offset = (inumber % InodesPerBlock) * InodeSize
	return
}

// Load returns the inode from disk. If the block cannot be read, an
// Unused inode is returned together with the error.
func (self *InodeTable) Load(inumber int) (*Inode, error) {
	inode := NewInode(inumber)
	block, offset, err := self.location(inumber)
	if err != nil {
		return inode, err
	}
	b, err := self.backend.ReadBlock(block)
	if err != nil {
		return inode, blockError(err, "loading inode %d", inumber)
	}
	inode.unpack(b[offset:])
	return inode, nil
}

// Store writes the inode to its slot. The surrounding block is read
// first as 16 inodes share it.
func (self *InodeTable) Store(inode *Inode) error {
	block, offset, err := self.location(inode.Inumber)
	if err != nil {
		return err
	}
	defer self.lock.Locked()()
	b, err := self.backend.ReadBlock(block)
	if err != nil {
		return blockError(err, "storing inode %d", inode.Inumber)
	}
	inode.pack(b[offset:])
	mlog.Printf2("fs/inode", "it.Store %v", inode)
	return blockError(self.backend.WriteBlock(block, b), "storing inode %d", inode.Inumber)
}

// Stamp writes every inode record as fresh Unused one, except root
// which is Used.
func (self *InodeTable) Stamp() error {
	defer self.lock.Locked()()
	for i := 0; i < InodeBlocks(self.totalInodes); i++ {
		b := make([]byte, BlockSize)
		for j := 0; j < InodesPerBlock; j++ {
			inode := NewInode(i*InodesPerBlock + j)
			if inode.Inumber == RootInumber {
				inode.Flag = FlagUsed
			}
			inode.pack(b[j*InodeSize:])
		}
		err := self.backend.WriteBlock(1+i, b)
		if err != nil {
			return blockError(err, "stamping inode block %d", 1+i)
		}
	}
	return nil
}

func checkOffset(offset int) error {
	if offset < 0 || offset >= MaxFileSize {
		return errors.Wrapf(ErrInvalidArgument, "offset %d not in [0, %d)", offset, MaxFileSize)
	}
	return nil
}

// ResolveBlock returns the block holding the byte offset, or NoBlock
// if it has not been allocated.
func (self *Inode) ResolveBlock(backend storage.Backend, offset int) (int, error) {
	if err := checkOffset(offset); err != nil {
		return NoBlock, err
	}
	idx := offset / BlockSize
	if idx < DirectPointers {
		return int(self.Direct[idx]), nil
	}
	if self.Indirect == NoBlock {
		return NoBlock, nil
	}
	b, err := backend.ReadBlock(int(self.Indirect))
	if err != nil {
		return NoBlock, blockError(err, "indirect block %d of %v", self.Indirect, self)
	}
	return int(util.Int16At(b, 2*(idx-DirectPointers))), nil
}

func emptyIndirectBlock() []byte {
	b := make([]byte, BlockSize)
	for i := 0; i < PointersPerBlock; i++ {
		util.PutInt16At(b, 2*i, NoBlock)
	}
	return b
}

// GrowTo ensures the byte offset is backed by a block, allocating the
// block (and the indirect block, if need be) from the superblock.
// fresh is true if the block was just allocated; its contents are
// then undefined.
func (self *Inode) GrowTo(backend storage.Backend, sb *Superblock, offset int) (id int, fresh bool, err error) {
	if err = checkOffset(offset); err != nil {
		return NoBlock, false, err
	}
	idx := offset / BlockSize
	if idx < DirectPointers {
		if self.Direct[idx] != NoBlock {
			return int(self.Direct[idx]), false, nil
		}
		id, err = sb.AllocateBlock()
		if err != nil {
			return NoBlock, false, err
		}
		self.Direct[idx] = int16(id)
		mlog.Printf2("fs/inode", "GrowTo %v direct[%d] = %d", self, idx, id)
		return id, true, nil
	}
	var b []byte
	if self.Indirect == NoBlock {
		iid, err := sb.AllocateBlock()
		if err != nil {
			return NoBlock, false, err
		}
		b = emptyIndirectBlock()
		err = backend.WriteBlock(iid, b)
		if err != nil {
			sb.FreeBlock(iid)
			return NoBlock, false, blockError(err, "new indirect block %d", iid)
		}
		self.Indirect = int16(iid)
		mlog.Printf2("fs/inode", "GrowTo %v indirect = %d", self, iid)
	} else {
		b, err = backend.ReadBlock(int(self.Indirect))
		if err != nil {
			return NoBlock, false, blockError(err, "indirect block %d", self.Indirect)
		}
	}
	k := 2 * (idx - DirectPointers)
	if v := util.Int16At(b, k); v != NoBlock {
		return int(v), false, nil
	}
	id, err = sb.AllocateBlock()
	if err != nil {
		return NoBlock, false, err
	}
	util.PutInt16At(b, k, int16(id))
	err = backend.WriteBlock(int(self.Indirect), b)
	if err != nil {
		sb.FreeBlock(id)
		return NoBlock, false, blockError(err, "indirect block %d", self.Indirect)
	}
	mlog.Printf2("fs/inode", "GrowTo %v indirect[%d] = %d", self, idx-DirectPointers, id)
	return id, true, nil
}

// Blocks returns the data blocks (excluding the indirect block) in
// file order.
func (self *Inode) Blocks(backend storage.Backend) (l []int, err error) {
	for _, v := range self.Direct {
		if v != NoBlock {
			l = append(l, int(v))
		}
	}
	if self.Indirect == NoBlock {
		return
	}
	b, err := backend.ReadBlock(int(self.Indirect))
	if err != nil {
		return nil, blockError(err, "indirect block %d", self.Indirect)
	}
	for i := 0; i < PointersPerBlock; i++ {
		if v := util.Int16At(b, 2*i); v != NoBlock {
			l = append(l, int(v))
		}
	}
	return
}

// ReleaseAllBlocks returns every block of the file (including the
// indirect block) to the free list, and truncates the inode to zero
// length. Each pointer is cleared as soon as its block is on the free
// list, so after an error the inode owns only the blocks that remain;
// the caller must Store it either way.
func (self *Inode) ReleaseAllBlocks(backend storage.Backend, sb *Superblock) error {
	mlog.Printf2("fs/inode", "ReleaseAllBlocks %v", self)
	self.Length = 0
	if self.Indirect != NoBlock {
		if err := self.releaseIndirect(backend, sb); err != nil {
			return err
		}
	}
	for i := len(self.Direct) - 1; i >= 0; i-- {
		if self.Direct[i] == NoBlock {
			continue
		}
		if err := sb.FreeBlock(int(self.Direct[i])); err != nil {
			return err
		}
		self.Direct[i] = NoBlock
	}
	return nil
}

func (self *Inode) releaseIndirect(backend storage.Backend, sb *Superblock) (err error) {
	b, err := backend.ReadBlock(int(self.Indirect))
	if err != nil {
		return blockError(err, "indirect block %d", self.Indirect)
	}
	dirty := false
	for i := PointersPerBlock - 1; i >= 0; i-- {
		v := util.Int16At(b, 2*i)
		if v == NoBlock {
			continue
		}
		if err = sb.FreeBlock(int(v)); err != nil {
			break
		}
		util.PutInt16At(b, 2*i, NoBlock)
		dirty = true
	}
	if err != nil {
		if !dirty {
			return err
		}
		err2 := backend.WriteBlock(int(self.Indirect), b)
		if err2 != nil {
			// The indirect block still names freed blocks; forget
			// it (and leak what it holds) rather than free them
			// twice.
			mlog.Printf2("fs/inode", " dropping indirect block %d of %v: %v", self.Indirect, self, err2)
			self.Indirect = NoBlock
		}
		return err
	}
	if err = sb.FreeBlock(int(self.Indirect)); err != nil {
		if err2 := backend.WriteBlock(int(self.Indirect), b); err2 != nil {
			self.Indirect = NoBlock
		}
		return err
	}
	self.Indirect = NoBlock
	return nil
}
