/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr 11 15:02:33 2018 mstenber
 * Last modified: Thu Apr 12 10:41:09 2018 mstenber
 * Edit time:     166 min
 *
 */

// fusefs package implements fuse.RawFileSystem on top of fs.Fs.
//
// The mount has just the root directory. Name x in it is /x in the
// file system; names without the leading slash are not visible.
// Node id of a file is its inumber + FUSE_ROOT_ID, as inumber 0 is
// the directory itself.
package fusefs

import (
	"os"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/fuse"
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
)

const (
	entryValidity = 1
	attrValidity  = 1

	fileMode = fuse.S_IFREG | 0644
	dirMode  = fuse.S_IFDIR | 0755
)

type Ops struct {
	// Everything we do not implement is ENOSYS
	fuse.RawFileSystem

	fs *fs.Fs

	lock    util.MutexLocked
	handles map[uint64]*openFile
	dirs    map[uint64][]string
	nextFh  uint64
}

// openFile is a handle the kernel has. Read-write handles opened
// with O_APPEND write at the end.
type openFile struct {
	*fs.FileTableEntry
	appending bool
}

var _ fuse.RawFileSystem = &Ops{}

func NewOps(f *fs.Fs) *Ops {
	return &Ops{RawFileSystem: fuse.NewDefaultRawFileSystem(), fs: f,
		handles: make(map[uint64]*openFile),
		dirs:    make(map[uint64][]string)}
}

func (self *Ops) String() string {
	return os.Args[0]
}

func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	mlog.Printf2("fusefs/ops", " error %v", err)
	switch errors.Cause(err) {
	case fs.ErrNotFound:
		return fuse.ENOENT
	case fs.ErrAlreadyExists:
		return fuse.Status(syscall.EEXIST)
	case fs.ErrOutOfSpace:
		return fuse.Status(syscall.ENOSPC)
	case fs.ErrInvalidArgument:
		return fuse.EINVAL
	case fs.ErrBusy:
		return fuse.Status(syscall.EBUSY)
	}
	return fuse.Status(syscall.EIO)
}

func nodeId(inumber int) uint64 {
	return uint64(inumber) + fuse.FUSE_ROOT_ID
}

func fsName(name string) string {
	return fs.RootName + name
}

// name returns the fs name of the file node, if any.
func (self *Ops) name(node uint64) (string, fuse.Status) {
	if node <= fuse.FUSE_ROOT_ID {
		return "", fuse.ENOENT
	}
	name := self.fs.Name(int(node - fuse.FUSE_ROOT_ID))
	if !strings.HasPrefix(name, fs.RootName) || name == fs.RootName {
		return "", fuse.ENOENT
	}
	return name, fuse.OK
}

func fillFileAttr(fi fs.FileInfo, out *fuse.Attr) {
	out.Ino = nodeId(fi.Inumber)
	out.Size = uint64(fi.Length)
	out.Blocks = uint64(fi.Length+fs.BlockSize-1) / fs.BlockSize
	out.Mode = fileMode
	out.Nlink = 1
}

func fillRootAttr(out *fuse.Attr) {
	out.Ino = fuse.FUSE_ROOT_ID
	out.Mode = dirMode
	out.Nlink = 2
}

func (self *Ops) fillEntryOut(fi fs.FileInfo, out *fuse.EntryOut) {
	if out == nil {
		return
	}
	out.NodeId = nodeId(fi.Inumber)
	out.Generation = 0
	out.EntryValid = entryValidity
	out.AttrValid = attrValidity
	fillFileAttr(fi, &out.Attr)
}

func (self *Ops) Lookup(input *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	mlog.Printf2("fusefs/ops", "ops.Lookup %v %s", input.NodeId, name)
	if input.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	if name == "." {
		out.NodeId = fuse.FUSE_ROOT_ID
		out.EntryValid = entryValidity
		out.AttrValid = attrValidity
		fillRootAttr(&out.Attr)
		return fuse.OK
	}
	fi, err := self.fs.FileInfo(fsName(name))
	if err != nil {
		return toStatus(err)
	}
	self.fillEntryOut(fi, out)
	return fuse.OK
}

func (self *Ops) GetAttr(input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	out.AttrValid = attrValidity
	if input.NodeId == fuse.FUSE_ROOT_ID {
		fillRootAttr(&out.Attr)
		return fuse.OK
	}
	name, code := self.name(input.NodeId)
	if !code.Ok() {
		return code
	}
	fi, err := self.fs.FileInfo(name)
	if err != nil {
		return toStatus(err)
	}
	fillFileAttr(fi, &out.Attr)
	return fuse.OK
}

// SetAttr supports only truncation to zero; other changes (mode,
// times, owner) are accepted and ignored.
func (self *Ops) SetAttr(input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	mlog.Printf2("fusefs/ops", "ops.SetAttr %v", input.NodeId)
	if input.NodeId == fuse.FUSE_ROOT_ID {
		return fuse.EPERM
	}
	name, code := self.name(input.NodeId)
	if !code.Ok() {
		return code
	}
	fi, err := self.fs.FileInfo(name)
	if err != nil {
		return toStatus(err)
	}
	if input.Valid&fuse.FATTR_SIZE != 0 && input.Size != uint64(fi.Length) {
		if input.Size != 0 {
			return fuse.EINVAL
		}
		if err = self.truncate(name); err != nil {
			return toStatus(err)
		}
		fi.Length = 0
	}
	out.AttrValid = attrValidity
	fillFileAttr(fi, &out.Attr)
	return fuse.OK
}

// openMode maps open(2) flags to the flatfs mode. Truncating and
// appending flatfs modes are write-only; for read-write handles trunc
// and appending tell the caller to do those separately.
func openMode(flags uint32) (mode string, trunc, appending bool) {
	switch flags & uint32(syscall.O_ACCMODE) {
	case uint32(os.O_RDONLY):
		return "r", false, false
	case uint32(os.O_WRONLY):
		switch {
		case flags&uint32(os.O_TRUNC) != 0:
			return "w", false, false
		case flags&uint32(os.O_APPEND) != 0:
			return "a", false, false
		}
		return "w+", false, false
	}
	return "w+", flags&uint32(os.O_TRUNC) != 0, flags&uint32(os.O_APPEND) != 0
}

// truncate empties the file by opening (and closing) a truncating
// handle to it.
func (self *Ops) truncate(name string) error {
	fh, err := self.fs.Open(name, "w")
	if err != nil {
		return err
	}
	return fh.Close()
}

// open opens name with the mode matching the flags. create makes a
// read-only request create the file as well.
func (self *Ops) open(name string, flags uint32, create bool) (*openFile, error) {
	mode, trunc, appending := openMode(flags)
	if create && mode == "r" {
		// Creating read-only handle would fail with ErrNotFound
		mode = "w+"
	}
	fh, err := self.fs.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if trunc {
		if err = self.truncate(name); err != nil {
			fh.Close()
			return nil, err
		}
	}
	return &openFile{FileTableEntry: fh, appending: appending}, nil
}

func (self *Ops) register(of *openFile) uint64 {
	defer self.lock.Locked()()
	self.nextFh++
	self.handles[self.nextFh] = of
	return self.nextFh
}

func (self *Ops) handle(fh uint64) *openFile {
	defer self.lock.Locked()()
	return self.handles[fh]
}

func (self *Ops) Open(input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	mlog.Printf2("fusefs/ops", "ops.Open %v %x", input.NodeId, input.Flags)
	name, code := self.name(input.NodeId)
	if !code.Ok() {
		return code
	}
	of, err := self.open(name, input.Flags, false)
	if err != nil {
		return toStatus(err)
	}
	out.Fh = self.register(of)
	return fuse.OK
}

func (self *Ops) Create(input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	mlog.Printf2("fusefs/ops", "ops.Create %s %x", name, input.Flags)
	if input.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	n := fsName(name)
	if input.Flags&uint32(os.O_EXCL) != 0 {
		if _, err := self.fs.FileInfo(n); err == nil {
			return fuse.Status(syscall.EEXIST)
		}
	}
	of, err := self.open(n, input.Flags, true)
	if err != nil {
		return toStatus(err)
	}
	fi, err := self.fs.FileInfo(n)
	if err != nil {
		of.Close()
		return toStatus(err)
	}
	self.fillEntryOut(fi, &out.EntryOut)
	out.OpenOut.Fh = self.register(of)
	return fuse.OK
}

func (self *Ops) Read(input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fh := self.handle(input.Fh)
	if fh == nil {
		return nil, fuse.Status(syscall.EBADF)
	}
	n, err := fh.ReadAt(buf, int(input.Offset))
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (self *Ops) Write(input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	fh := self.handle(input.Fh)
	if fh == nil {
		return 0, fuse.Status(syscall.EBADF)
	}
	var n int
	var err error
	if fh.appending {
		n, err = fh.Append(data)
	} else {
		n, err = fh.WriteAt(data, int(input.Offset))
	}
	if err != nil && n == 0 {
		return 0, toStatus(err)
	}
	// Short write tells the kernel the rest did not fit
	return uint32(n), fuse.OK
}

func (self *Ops) Release(input *fuse.ReleaseIn) {
	self.lock.Lock()
	fh := self.handles[input.Fh]
	delete(self.handles, input.Fh)
	self.lock.Unlock()
	if fh != nil {
		fh.Close()
	}
}

func (self *Ops) Flush(input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (self *Ops) Fsync(input *fuse.FsyncIn) fuse.Status {
	return toStatus(self.fs.Sync())
}

func (self *Ops) Unlink(input *fuse.InHeader, name string) fuse.Status {
	mlog.Printf2("fusefs/ops", "ops.Unlink %s", name)
	if input.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	return toStatus(self.fs.Delete(fsName(name)))
}

func (self *Ops) OpenDir(input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	names := self.Names()
	defer self.lock.Locked()()
	self.nextFh++
	self.dirs[self.nextFh] = names
	out.Fh = self.nextFh
	return fuse.OK
}

// Names returns the visible names, in the order ReadDir lists them.
func (self *Ops) Names() []string {
	l := []string{}
	for _, name := range self.fs.List() {
		if strings.HasPrefix(name, fs.RootName) {
			l = append(l, name[len(fs.RootName):])
		}
	}
	return l
}

// dirNames returns the listing of the directory handle. The kernel
// resumes reading at an index into it, so the listing is taken once
// per handle (and again on rewind) rather than on every call.
func (self *Ops) dirNames(fh, offset uint64) []string {
	defer self.lock.Locked()()
	names, ok := self.dirs[fh]
	if !ok || offset == 0 {
		names = self.Names()
		if ok {
			self.dirs[fh] = names
		}
	}
	return names
}

// readDir calls cb for the entries from offset on, until it returns
// false. The kernel numbers the entries it gets consecutively, so an
// entry deleted in between is still listed, without attributes (fi
// is nil).
func (self *Ops) readDir(fh, offset uint64, cb func(e fuse.DirEntry, fi *fs.FileInfo) bool) {
	names := self.dirNames(fh, offset)
	for i := int(offset); i < len(names); i++ {
		e := fuse.DirEntry{Mode: fileMode, Name: names[i]}
		var fip *fs.FileInfo
		if fi, err := self.fs.FileInfo(fsName(names[i])); err == nil {
			e.Ino = nodeId(fi.Inumber)
			fip = &fi
		}
		if !cb(e, fip) {
			return
		}
	}
}

func (self *Ops) ReadDir(input *fuse.ReadIn, l *fuse.DirEntryList) fuse.Status {
	self.readDir(input.Fh, input.Offset, func(e fuse.DirEntry, fi *fs.FileInfo) bool {
		ok, _ := l.AddDirEntry(e)
		return ok
	})
	return fuse.OK
}

func (self *Ops) ReadDirPlus(input *fuse.ReadIn, l *fuse.DirEntryList) fuse.Status {
	self.readDir(input.Fh, input.Offset, func(e fuse.DirEntry, fi *fs.FileInfo) bool {
		entry, _ := l.AddDirLookupEntry(e)
		if entry == nil {
			return false
		}
		*entry = fuse.EntryOut{}
		if fi != nil {
			self.fillEntryOut(*fi, entry)
		}
		return true
	})
	return fuse.OK
}

func (self *Ops) ReleaseDir(input *fuse.ReleaseIn) {
	defer self.lock.Locked()()
	delete(self.dirs, input.Fh)
}

func (self *Ops) StatFs(input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	st := self.fs.Stat()
	out.Bsize = fs.BlockSize
	out.Frsize = fs.BlockSize
	out.Blocks = uint64(st.TotalBlocks)
	out.Bfree = uint64(st.FreeBlocks)
	out.Bavail = uint64(st.FreeBlocks)
	out.Files = uint64(st.TotalInodes)
	out.Ffree = uint64(st.FreeInodes)
	out.NameLen = uint32(fs.MaxNameLength - len(fs.RootName))
	return fuse.OK
}

// Close releases the handles the kernel did not.
func (self *Ops) Close() {
	defer self.lock.Locked()()
	for k, fh := range self.handles {
		fh.Close()
		delete(self.handles, k)
	}
}
