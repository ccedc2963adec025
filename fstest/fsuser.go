/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 15:39:36 2017 mstenber
 * Last modified: Thu Apr 12 11:32:20 2018 mstenber
 * Edit time:     112 min
 *
 */

// fstest provides ~os module functionality across the raw fuse APIs
// of fusefs. It does NOT mount the file system, so tests can run in
// parallel and without privileges.
package fstest

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/fuse"

	"github.com/fingon/go-flatfs/fusefs"
	"github.com/fingon/go-flatfs/mlog"
)

// s2e converts non-OK status to the corresponding syscall.Errno.
func s2e(status fuse.Status) error {
	if !status.Ok() {
		return syscall.Errno(status)
	}
	return nil
}

type FSUser struct {
	fuse.InHeader
	ops *fusefs.Ops
}

type fileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	mtime time.Time
}

func (self *fileInfo) Name() string {
	return self.name
}

func (self *fileInfo) Size() int64 {
	return self.size
}

func (self *fileInfo) Mode() os.FileMode {
	return self.mode
}

func (self *fileInfo) ModTime() time.Time {
	return self.mtime
}

func (self *fileInfo) IsDir() bool {
	return self.Mode().IsDir()
}

func (self *fileInfo) Sys() interface{} {
	return nil
}

func fileModeFromFuse(mode uint32) os.FileMode {
	r := os.FileMode(mode) & os.ModePerm
	if mode&fuse.S_IFDIR != 0 {
		r |= os.ModeDir
	}
	return r
}

func NewFSUser(ops *fusefs.Ops) *FSUser {
	return &FSUser{ops: ops}
}

// lookup resolves path, which is either the root or a file in it.
func (self *FSUser) lookup(path string, eo *fuse.EntryOut) error {
	self.NodeId = fuse.FUSE_ROOT_ID
	name := strings.Trim(path, "/")
	if name == "" {
		name = "."
	}
	return s2e(self.ops.Lookup(&self.InHeader, name, eo))
}

// ListDir returns the names in the root directory.
func (self *FSUser) ListDir(name string) (ret []string, err error) {
	var eo fuse.EntryOut
	err = self.lookup(name, &eo)
	if err != nil {
		return
	}
	self.NodeId = eo.NodeId
	var oo fuse.OpenOut
	err = s2e(self.ops.OpenDir(&fuse.OpenIn{InHeader: self.InHeader}, &oo))
	if err != nil {
		return
	}
	defer self.ops.ReleaseDir(&fuse.ReleaseIn{Fh: oo.Fh, InHeader: self.InHeader})
	del := fuse.NewDirEntryList(make([]byte, 4096), 0)
	err = s2e(self.ops.ReadDir(&fuse.ReadIn{Fh: oo.Fh, InHeader: self.InHeader}, del))
	if err != nil {
		return
	}
	// We got _something_. No way to make sure it was fine. Oh well.
	// Cheat using backdoor API.
	ret = self.ops.Names()
	return
}

// ReadDir is clone of ioutil.ReadDir
func (self *FSUser) ReadDir(dirname string) (ret []os.FileInfo, err error) {
	mlog.Printf2("fstest/fsuser", "ReadDir %s", dirname)
	l, err := self.ListDir(dirname)
	if err != nil {
		return
	}
	ret = make([]os.FileInfo, len(l))
	for i, n := range l {
		ret[i], err = self.Stat("/" + n)
		if err != nil {
			return
		}
	}
	return
}

// Stat is clone of os.Stat
func (self *FSUser) Stat(path string) (fi os.FileInfo, err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	self.NodeId = eo.NodeId
	var ao fuse.AttrOut
	err = s2e(self.ops.GetAttr(&fuse.GetAttrIn{InHeader: self.InHeader}, &ao))
	if err != nil {
		return
	}
	fi = &fileInfo{name: filepath.Base(path),
		size:  int64(ao.Size),
		mode:  fileModeFromFuse(ao.Mode),
		mtime: time.Unix(int64(ao.Mtime), int64(ao.Mtimensec))}
	return
}

// Remove is clone of os.Remove
func (self *FSUser) Remove(path string) error {
	self.NodeId = fuse.FUSE_ROOT_ID
	return s2e(self.ops.Unlink(&self.InHeader, strings.Trim(path, "/")))
}

// Truncate is clone of os.Truncate
func (self *FSUser) Truncate(path string, size int64) (err error) {
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err != nil {
		return
	}
	self.NodeId = eo.NodeId
	var ao fuse.AttrOut
	return s2e(self.ops.SetAttr(&fuse.SetAttrIn{
		SetAttrInCommon: fuse.SetAttrInCommon{InHeader: self.InHeader,
			Valid: fuse.FATTR_SIZE, Size: uint64(size)}}, &ao))
}

func (self *FSUser) StatFs() (out fuse.StatfsOut, err error) {
	self.NodeId = fuse.FUSE_ROOT_ID
	err = s2e(self.ops.StatFs(&self.InHeader, &out))
	return
}

// FSFile is what OpenFile returns; it tracks the position itself, as
// the kernel would.
type FSFile struct {
	user *FSUser
	fh   uint64
	pos  uint64
}

var _ io.ReadWriteCloser = &FSFile{}

// OpenFile is clone of os.OpenFile
func (self *FSUser) OpenFile(path string, flag uint32, perm uint32) (f *FSFile, err error) {
	mlog.Printf2("fstest/fsuser", "OpenFile %s %x", path, flag)
	var eo fuse.EntryOut
	err = self.lookup(path, &eo)
	if err == syscall.ENOENT && flag&uint32(os.O_CREATE) != 0 {
		self.NodeId = fuse.FUSE_ROOT_ID
		var co fuse.CreateOut
		err = s2e(self.ops.Create(&fuse.CreateIn{InHeader: self.InHeader,
			Flags: flag, Mode: perm}, strings.Trim(path, "/"), &co))
		if err != nil {
			return
		}
		return &FSFile{user: self, fh: co.Fh}, nil
	}
	if err != nil {
		return
	}
	if flag&uint32(os.O_CREATE|os.O_EXCL) == uint32(os.O_CREATE|os.O_EXCL) {
		return nil, syscall.EEXIST
	}
	self.NodeId = eo.NodeId
	var oo fuse.OpenOut
	err = s2e(self.ops.Open(&fuse.OpenIn{InHeader: self.InHeader, Flags: flag}, &oo))
	if err != nil {
		return
	}
	return &FSFile{user: self, fh: oo.Fh}, nil
}

func (self *FSFile) Read(b []byte) (int, error) {
	u := self.user
	rr, code := u.ops.Read(&fuse.ReadIn{InHeader: u.InHeader, Fh: self.fh,
		Offset: self.pos, Size: uint32(len(b))}, b)
	if err := s2e(code); err != nil {
		return 0, err
	}
	data, code := rr.Bytes(b)
	if err := s2e(code); err != nil {
		return 0, err
	}
	if len(data) == 0 && len(b) > 0 {
		return 0, io.EOF
	}
	n := copy(b, data)
	self.pos += uint64(n)
	return n, nil
}

func (self *FSFile) Write(b []byte) (int, error) {
	u := self.user
	n, code := u.ops.Write(&fuse.WriteIn{InHeader: u.InHeader, Fh: self.fh,
		Offset: self.pos, Size: uint32(len(b))}, b)
	if err := s2e(code); err != nil {
		return 0, err
	}
	self.pos += uint64(n)
	if int(n) < len(b) {
		return int(n), syscall.ENOSPC
	}
	return int(n), nil
}

// Seek supports only absolute positions.
func (self *FSFile) Seek(pos uint64) {
	self.pos = pos
}

func (self *FSFile) Sync() error {
	u := self.user
	return s2e(u.ops.Fsync(&fuse.FsyncIn{InHeader: u.InHeader, Fh: self.fh}))
}

func (self *FSFile) Close() error {
	u := self.user
	u.ops.Release(&fuse.ReleaseIn{InHeader: u.InHeader, Fh: self.fh})
	return nil
}
