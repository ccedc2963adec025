/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr  7 13:10:44 2018 mstenber
 * Last modified: Sun Apr  8 11:40:17 2018 mstenber
 * Edit time:     164 min
 *
 */

package fs

import (
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
)

type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
	ModeReadWrite
	ModeAppend
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "w+":
		return ModeReadWrite, nil
	case "a":
		return ModeAppend, nil
	}
	return ModeRead, errors.Wrapf(ErrInvalidArgument, "mode %q", s)
}

func (self Mode) String() string {
	switch self {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeReadWrite:
		return "w+"
	case ModeAppend:
		return "a"
	}
	return "?"
}

func (self Mode) CanRead() bool {
	return self == ModeRead || self == ModeReadWrite
}

func (self Mode) CanWrite() bool {
	return self != ModeRead
}

// FileTable is the open-file table. It keeps the registry of
// in-memory inodes so that every handle of a file shares the same
// Inode instance. Open, Close and Delete of one inumber are
// serialized by a per-inumber lock.
type FileTable struct {
	fs *Fs

	lock    util.MutexLocked
	entries map[*FileTableEntry]bool
	inodes  map[int]*Inode
	pending int

	inumberLocks util.MutexLockedMap
}

func NewFileTable(fs *Fs) *FileTable {
	return &FileTable{fs: fs,
		entries: make(map[*FileTableEntry]bool),
		inodes:  make(map[int]*Inode)}
}

func (self *FileTable) IsEmpty() bool {
	defer self.lock.Locked()()
	return len(self.entries) == 0
}

func (self *FileTable) Count() int {
	defer self.lock.Locked()()
	return len(self.entries)
}

// Registered returns the in-memory inode of inumber, if any.
func (self *FileTable) Registered(inumber int) *Inode {
	defer self.lock.Locked()()
	return self.inodes[inumber]
}

func (self *FileTable) PendingDeletes() int {
	defer self.lock.Locked()()
	return self.pending
}

// Open resolves filename (creating it unless mode is ModeRead), and
// returns a new handle bound to the shared inode.
func (self *FileTable) Open(filename string, mode Mode) (*FileTableEntry, error) {
	mlog.Printf2("fs/filetable", "ft.Open %q %v", filename, mode)
	dir := self.fs.directory
	for {
		created := false
		inumber, err := dir.Lookup(filename)
		if Is(err, ErrNotFound) && mode != ModeRead {
			inumber, err = dir.Allocate(filename)
			if Is(err, ErrAlreadyExists) {
				// Someone else created it in between
				continue
			}
			created = true
		}
		if err != nil {
			return nil, err
		}
		unlock := self.inumberLocks.Locked(inumber)
		if bound, _ := dir.Lookup(filename); bound != inumber {
			// Deleted (and possibly recreated) in between
			unlock()
			continue
		}
		e, err := self.openInumber(inumber, mode, created)
		unlock()
		if err != nil && created {
			dir.Free(inumber)
		}
		return e, err
	}
}

// acquire returns the shared inode of inumber with its reference
// count incremented (and persisted). Caller holds the inumber lock.
func (self *FileTable) acquire(inumber int, created bool) (*Inode, error) {
	self.lock.Lock()
	inode := self.inodes[inumber]
	self.lock.Unlock()
	if inode == nil {
		var err error
		inode, err = self.fs.inodes.Load(inumber)
		if err != nil {
			return nil, err
		}
		// No handle in this process; whatever count is on disk is
		// stale.
		inode.RefCount = 0
		if created || inode.Flag == FlagUnused {
			if inode.Flag != FlagUnused {
				mlog.Printf2("fs/filetable", " reusing %v", inode)
			}
			inode.reset()
			inode.Flag = FlagUsed
		}
	}
	defer inode.lock.Locked()()
	inode.RefCount++
	err := self.fs.inodes.Store(inode)
	if err != nil {
		inode.RefCount--
		return nil, err
	}
	self.lock.Lock()
	self.inodes[inumber] = inode
	self.lock.Unlock()
	return inode, nil
}

func (self *FileTable) openInumber(inumber int, mode Mode, created bool) (*FileTableEntry, error) {
	inode, err := self.acquire(inumber, created)
	if err != nil {
		return nil, err
	}
	e := &FileTableEntry{Inumber: inumber, Inode: inode, Mode: mode, fs: self.fs}
	if mode == ModeWrite && !inode.empty() {
		err = e.truncate()
		if err != nil {
			self.release(e)
			return nil, err
		}
	}
	if mode == ModeAppend {
		e.seekPosition = int(inode.Length)
	}
	self.lock.Lock()
	self.entries[e] = true
	self.lock.Unlock()
	mlog.Printf2("fs/filetable", " opened %v", inode)
	return e, nil
}

// release drops one reference of the inode. Last reference finalizes
// pending delete and removes the inode from the registry. Caller
// holds the inumber lock.
func (self *FileTable) release(e *FileTableEntry) error {
	inode := e.Inode
	defer inode.lock.Locked()()
	inode.RefCount--
	if inode.RefCount == 0 && inode.Flag == FlagPendingDelete {
		mlog.Printf2("fs/filetable", " finalizing delete of %v", inode)
		return self.finalize(inode)
	}
	return self.store(inode)
}

// store writes the inode, and unregisters it if it has no handles
// left. An inode that could not be stored stays registered until
// Flush succeeds.
func (self *FileTable) store(inode *Inode) error {
	err := self.fs.inodes.Store(inode)
	if err == nil && inode.RefCount == 0 {
		self.lock.Lock()
		delete(self.inodes, inode.Inumber)
		self.lock.Unlock()
	}
	return err
}

// finalize returns the blocks of a pending delete inode without
// handles, and marks it unused. If that fails, the inode stays
// registered: its in-memory block map is then the only accurate one,
// and Flush retries. Caller holds the inumber lock and the inode
// lock.
func (self *FileTable) finalize(inode *Inode) error {
	err := inode.ReleaseAllBlocks(self.fs.backend, self.fs.superblock)
	if err == nil {
		inode.Flag = FlagUnused
	}
	inode.RefCount = 0
	if err2 := self.fs.inodes.Store(inode); err == nil {
		err = err2
	}
	defer self.lock.Locked()()
	if err != nil {
		mlog.Printf2("fs/filetable", " finalize %v failed: %v", inode, err)
		self.inodes[inode.Inumber] = inode
		return err
	}
	delete(self.inodes, inode.Inumber)
	self.pending--
	return nil
}

// Flush stores every registered inode, and retries finalizing the
// deletes that failed earlier. The superblock must not reach the
// disk before the block maps it was changed against.
func (self *FileTable) Flush() error {
	self.lock.Lock()
	l := make([]int, 0, len(self.inodes))
	for inumber := range self.inodes {
		l = append(l, inumber)
	}
	self.lock.Unlock()
	for _, inumber := range l {
		err := self.flushInumber(inumber)
		if err != nil {
			return err
		}
	}
	return nil
}

func (self *FileTable) flushInumber(inumber int) error {
	defer self.inumberLocks.Locked(inumber)()
	inode := self.Registered(inumber)
	if inode == nil {
		return nil
	}
	defer inode.lock.Locked()()
	if inode.RefCount == 0 && inode.Flag != FlagUsed {
		mlog.Printf2("fs/filetable", " retrying finalize of %v", inode)
		return self.finalize(inode)
	}
	return self.store(inode)
}

// Close removes the handle. Closing a handle twice is ErrNotFound.
func (self *FileTable) Close(e *FileTableEntry) error {
	defer self.inumberLocks.Locked(e.Inumber)()
	self.lock.Lock()
	if !self.entries[e] {
		self.lock.Unlock()
		return errors.Wrapf(ErrNotFound, "handle of inode %d", e.Inumber)
	}
	delete(self.entries, e)
	self.lock.Unlock()
	mlog.Printf2("fs/filetable", "ft.Close %v", e.Inode)
	return self.release(e)
}

// Delete removes filename. If the file is open, block reclamation is
// deferred to the last Close.
func (self *FileTable) Delete(filename string) error {
	mlog.Printf2("fs/filetable", "ft.Delete %q", filename)
	if filename == RootName {
		return errors.Wrapf(ErrInvalidArgument, "cannot delete root")
	}
	dir := self.fs.directory
	for {
		inumber, err := dir.Lookup(filename)
		if err != nil {
			return err
		}
		unlock := self.inumberLocks.Locked(inumber)
		if bound, _ := dir.Lookup(filename); bound != inumber {
			unlock()
			continue
		}
		err = self.deleteInumber(inumber)
		unlock()
		return err
	}
}

func (self *FileTable) deleteInumber(inumber int) error {
	inode := self.Registered(inumber)
	if inode == nil {
		var err error
		inode, err = self.fs.inodes.Load(inumber)
		if err != nil {
			return err
		}
		inode.RefCount = 0
	}
	unlock := inode.lock.Locked()
	inode.Flag = FlagPendingDelete
	err := self.fs.inodes.Store(inode)
	if err != nil {
		inode.Flag = FlagUsed
		unlock()
		return err
	}
	self.lock.Lock()
	self.pending++
	self.inodes[inumber] = inode
	self.lock.Unlock()
	self.fs.directory.Free(inumber)
	if inode.RefCount == 0 {
		err = self.finalize(inode)
	}
	unlock()
	return err
}

// withInumber opens a transient handle of inumber for cb, bypassing
// the directory; the file system uses it for the root inode.
func (self *FileTable) withInumber(inumber int, mode Mode, cb func(e *FileTableEntry) error) error {
	defer self.inumberLocks.Locked(inumber)()
	e, err := self.openInumber(inumber, mode, false)
	if err != nil {
		return err
	}
	err = cb(e)
	self.lock.Lock()
	delete(self.entries, e)
	self.lock.Unlock()
	if err2 := self.release(e); err == nil {
		err = err2
	}
	return err
}
