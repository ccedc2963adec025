/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 11:20:29 2017 mstenber
 * Last modified: Mon Apr  9 10:44:02 2018 mstenber
 * Edit time:     311 min
 *
 */

// fs package is the core of flatfs: a single flat directory of files
// on top of a fixed size block device (storage.Backend).
//
// Block 0 is the Superblock; after it comes the inode table (16
// 32-byte inodes per block), and the rest are data blocks. Free data
// blocks form a linked list through their first two bytes. The
// directory is stored as the content of inode 0, named "/".
package fs

import (
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/util"
)

// Fs is the facade; it is safe for concurrent use. Format excludes
// every other operation, the rest run in parallel subject to the
// per-component locks.
type Fs struct {
	lock util.RWMutexLocked

	backend    storage.Backend
	superblock *Superblock
	inodes     *InodeTable
	directory  *Directory
	files      *FileTable

	syncLock      util.MutexLocked
	syncedVersion int
}

// NewFs mounts the file system on the backend. A backend without a
// valid superblock is formatted with DefaultInodes inodes.
func NewFs(backend storage.Backend) (*Fs, error) {
	return NewFsWithInodes(backend, DefaultInodes)
}

// NewFsWithInodes is NewFs, but an unformatted backend gets the given
// number of inodes. Formatted backend keeps its own geometry.
func NewFsWithInodes(backend storage.Backend, inodes int) (*Fs, error) {
	self := &Fs{backend: backend}
	self.files = NewFileTable(self)
	self.superblock = NewSuperblock(backend)
	err := self.superblock.Load()
	if Is(err, ErrNotFormatted) {
		mlog.Printf2("fs/fs", "NewFs: %v, formatting", err)
		err = self.format(inodes)
		if err != nil {
			return nil, err
		}
		return self, nil
	}
	if err != nil {
		return nil, err
	}
	err = self.mount()
	if err != nil {
		return nil, err
	}
	return self, nil
}

func (self *Fs) setup(totalInodes int) {
	self.inodes = NewInodeTable(self.backend, totalInodes)
	self.directory = NewDirectory(totalInodes, self.isUnused)
}

func (self *Fs) isUnused(inumber int) (bool, error) {
	if self.files.Registered(inumber) != nil {
		return false, nil
	}
	inode, err := self.inodes.Load(inumber)
	if err != nil {
		return false, err
	}
	return inode.Flag == FlagUnused, nil
}

// mount re-hydrates the directory from inode 0 and recovers inodes
// left open or pending delete by the previous user.
func (self *Fs) mount() error {
	self.setup(self.superblock.TotalInodes)
	recovered := false
	for i := 0; i < self.superblock.TotalInodes; i++ {
		inode, err := self.inodes.Load(i)
		if err != nil {
			return err
		}
		switch {
		case inode.Flag == FlagPendingDelete:
			mlog.Printf2("fs/fs", "mount: reclaiming %v", inode)
			err = inode.ReleaseAllBlocks(self.backend, self.superblock)
			if err != nil {
				// Freed blocks must reach the on-disk free list
				// before the next attempt.
				if self.inodes.Store(inode) == nil {
					self.superblock.Persist()
				}
				return err
			}
			inode.Flag = FlagUnused
			inode.RefCount = 0
		case inode.RefCount != 0:
			mlog.Printf2("fs/fs", "mount: clearing stale count of %v", inode)
			inode.RefCount = 0
		default:
			continue
		}
		recovered = true
		err = self.inodes.Store(inode)
		if err != nil {
			return err
		}
	}
	var b []byte
	err := self.files.withInumber(RootInumber, ModeRead, func(e *FileTableEntry) error {
		b = make([]byte, e.Size())
		_, err := e.read(b)
		return err
	})
	if err != nil {
		return err
	}
	if len(b) > 0 {
		err = self.directory.Deserialize(b)
		if err != nil {
			return err
		}
	}
	self.syncedVersion = self.directory.Version()
	if recovered {
		return self.superblock.Persist()
	}
	return nil
}

// Format re-initializes the file system with the given number of
// inodes. It fails with ErrBusy if any file is open.
func (self *Fs) Format(inodes int) error {
	defer self.lock.Locked()()
	if !self.files.IsEmpty() {
		return errors.Wrapf(ErrBusy, "%d open files", self.files.Count())
	}
	return self.format(inodes)
}

func (self *Fs) format(inodes int) error {
	mlog.Printf2("fs/fs", "fs.Format %d", inodes)
	totalBlocks := self.backend.BlockCount()
	if !validGeometry(totalBlocks, inodes) {
		return errors.Wrapf(ErrInvalidArgument, "%d inodes on %d blocks", inodes, totalBlocks)
	}
	self.setup(inodes)
	// Inodes left registered by failed deletes are gone with the rest
	self.files = NewFileTable(self)
	err := self.inodes.Stamp()
	if err != nil {
		return err
	}
	err = self.superblock.Initialize(totalBlocks, inodes)
	if err != nil {
		return err
	}
	// Force the (root only) directory to disk
	self.syncedVersion = -1
	return self.sync()
}

func (self *Fs) Open(filename, mode string) (*FileTableEntry, error) {
	defer self.lock.RLocked()()
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if filename == RootName && m != ModeRead {
		return nil, errors.Wrapf(ErrInvalidArgument, "root is read-only")
	}
	if err = CheckName(filename); err != nil {
		return nil, err
	}
	return self.files.Open(filename, m)
}

func (self *Fs) CloseFile(fh *FileTableEntry) error {
	return fh.Close()
}

func (self *Fs) Read(fh *FileTableEntry, buf []byte) (int, error) {
	return fh.Read(buf)
}

func (self *Fs) Write(fh *FileTableEntry, buf []byte) (int, error) {
	return fh.Write(buf)
}

func (self *Fs) Seek(fh *FileTableEntry, offset, whence int) (int, error) {
	return fh.Seek(offset, whence)
}

func (self *Fs) Size(fh *FileTableEntry) int {
	return fh.Size()
}

func (self *Fs) Delete(filename string) error {
	defer self.lock.RLocked()()
	return self.files.Delete(filename)
}

// Sync writes the directory into inode 0 (if it has changed), the
// superblock to block 0, and syncs the backend.
func (self *Fs) Sync() error {
	defer self.lock.RLocked()()
	return self.sync()
}

func (self *Fs) sync() error {
	defer self.syncLock.Locked()()
	version := self.directory.Version()
	if version != self.syncedVersion {
		mlog.Printf2("fs/fs", "fs.Sync: directory version %d", version)
		err := self.files.withInumber(RootInumber, ModeWrite, func(e *FileTableEntry) error {
			_, err := e.write(self.directory.Serialize(), false)
			return err
		})
		if err != nil {
			return err
		}
		self.syncedVersion = version
	}
	err := self.files.Flush()
	if err != nil {
		return err
	}
	err = self.superblock.Persist()
	if err != nil {
		return err
	}
	return blockError(self.backend.Sync(), "sync")
}

// Close syncs and closes the backend. Open handles are not closed,
// but their state is on disk.
func (self *Fs) Close() error {
	defer self.lock.Locked()()
	err := self.sync()
	if err2 := self.backend.Close(); err == nil && err2 != nil {
		err = blockError(err2, "close")
	}
	return err
}

// List returns the file names ordered by inumber.
func (self *Fs) List() []string {
	defer self.lock.RLocked()()
	return self.directory.Names()
}

// Name returns the name bound to inumber, or empty string if none.
func (self *Fs) Name(inumber int) string {
	defer self.lock.RLocked()()
	return self.directory.Name(inumber)
}

type FileInfo struct {
	Name     string
	Inumber  int
	Length   int
	RefCount int
	Flag     InodeFlag
}

// FileInfo describes filename without opening it.
func (self *Fs) FileInfo(filename string) (fi FileInfo, err error) {
	defer self.lock.RLocked()()
	inumber, err := self.directory.Lookup(filename)
	if err != nil {
		return
	}
	inode := self.files.Registered(inumber)
	if inode == nil {
		inode, err = self.inodes.Load(inumber)
		if err != nil {
			return
		}
	}
	defer inode.lock.Locked()()
	fi = FileInfo{Name: filename, Inumber: inumber,
		Length: int(inode.Length), RefCount: int(inode.RefCount),
		Flag: inode.Flag}
	return
}

type Stat struct {
	TotalBlocks, TotalInodes int
	FreeBlocks, FreeInodes   int
	OpenHandles              int
}

func (self *Fs) Stat() Stat {
	defer self.lock.RLocked()()
	sb := self.superblock
	return Stat{
		TotalBlocks: sb.TotalBlocks,
		TotalInodes: sb.TotalInodes,
		FreeBlocks:  sb.FreeBlocks(),
		FreeInodes:  sb.TotalInodes - self.directory.Count() - self.files.PendingDeletes(),
		OpenHandles: self.files.Count(),
	}
}
