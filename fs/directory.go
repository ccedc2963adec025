/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Sat Apr  7 10:20:01 2018 mstenber
 * Last modified: Sat Apr  7 13:02:33 2018 mstenber
 * Edit time:     88 min
 *
 */

package fs

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/util"
)

// UnusedFunc reports whether inode is free to be allocated.
type UnusedFunc func(inumber int) (bool, error)

// Directory is the flat name -> inumber table. Inode 0 is always
// bound to "/". Persisting it is up to the caller (see Serialize).
type Directory struct {
	lock         util.RWMutexLocked
	names        []string
	name2inumber map[string]int
	hint         int
	unused       UnusedFunc

	// version is bumped on every mutation
	version int
}

func NewDirectory(totalInodes int, unused UnusedFunc) *Directory {
	self := &Directory{unused: unused}
	self.clear(totalInodes)
	return self
}

func (self *Directory) clear(totalInodes int) {
	self.names = make([]string, totalInodes)
	self.name2inumber = make(map[string]int)
	self.names[RootInumber] = RootName
	self.name2inumber[RootName] = RootInumber
	self.hint = RootInumber
}

func CheckName(filename string) error {
	if filename == "" || len(filename) > MaxNameLength {
		return errors.Wrapf(ErrInvalidArgument, "bad filename %q", filename)
	}
	return nil
}

// Allocate binds filename to the first unused inode, scanning from
// the one after the previous allocation and wrapping around.
func (self *Directory) Allocate(filename string) (int, error) {
	if err := CheckName(filename); err != nil {
		return -1, err
	}
	defer self.lock.Locked()()
	if _, ok := self.name2inumber[filename]; ok {
		return -1, errors.Wrapf(ErrAlreadyExists, "%q", filename)
	}
	n := len(self.names)
	for i := 1; i <= n; i++ {
		inumber := (self.hint + i) % n
		if inumber == RootInumber || self.names[inumber] != "" {
			continue
		}
		unused, err := self.unused(inumber)
		if err != nil {
			return -1, err
		}
		if !unused {
			continue
		}
		self.names[inumber] = filename
		self.name2inumber[filename] = inumber
		self.hint = inumber
		self.version++
		mlog.Printf2("fs/directory", "dir.Allocate %q = %d", filename, inumber)
		return inumber, nil
	}
	return -1, errors.Wrapf(ErrOutOfSpace, "no free inode for %q", filename)
}

// Free removes the name bound to inumber. Root cannot be freed.
func (self *Directory) Free(inumber int) bool {
	defer self.lock.Locked()()
	if inumber <= RootInumber || inumber >= len(self.names) {
		return false
	}
	name := self.names[inumber]
	if name == "" {
		return false
	}
	mlog.Printf2("fs/directory", "dir.Free %d (%q)", inumber, name)
	delete(self.name2inumber, name)
	self.names[inumber] = ""
	self.version++
	return true
}

func (self *Directory) Lookup(filename string) (int, error) {
	defer self.lock.RLocked()()
	inumber, ok := self.name2inumber[filename]
	if !ok {
		return -1, errors.Wrapf(ErrNotFound, "%q", filename)
	}
	return inumber, nil
}

// Name returns the name bound to inumber, or empty string.
func (self *Directory) Name(inumber int) string {
	defer self.lock.RLocked()()
	if inumber < 0 || inumber >= len(self.names) {
		return ""
	}
	return self.names[inumber]
}

// Names returns the bound names (excluding root) ordered by inumber.
func (self *Directory) Names() []string {
	defer self.lock.RLocked()()
	l := make([]string, 0, len(self.name2inumber))
	for i, v := range self.names {
		if i != RootInumber && v != "" {
			l = append(l, v)
		}
	}
	return l
}

// Count returns number of bound names, including root.
func (self *Directory) Count() int {
	defer self.lock.RLocked()()
	return len(self.name2inumber)
}

func (self *Directory) Version() int {
	defer self.lock.RLocked()()
	return self.version
}

// Serialize encodes the table as (u16 length, name) per inumber
// slot.
func (self *Directory) Serialize() []byte {
	defer self.lock.RLocked()()
	size := 0
	for _, v := range self.names {
		size += 2 + len(v)
	}
	b := make([]byte, 0, size)
	for _, v := range self.names {
		b = append(b, 0, 0)
		binary.BigEndian.PutUint16(b[len(b)-2:], uint16(len(v)))
		b = append(b, v...)
	}
	return b
}

// Deserialize replaces the table with the encoded one. On error the
// directory is left untouched.
func (self *Directory) Deserialize(b []byte) error {
	defer self.lock.Locked()()
	n := len(self.names)
	names := make([]string, n)
	name2inumber := make(map[string]int)
	for i := 0; i < n; i++ {
		if len(b) < 2 {
			return errors.Wrapf(ErrIOFailure, "directory truncated at slot %d", i)
		}
		l := int(binary.BigEndian.Uint16(b))
		b = b[2:]
		if l > len(b) || l > MaxNameLength {
			return errors.Wrapf(ErrIOFailure, "directory slot %d: bad length %d", i, l)
		}
		name := string(b[:l])
		b = b[l:]
		if name == "" {
			continue
		}
		if _, ok := name2inumber[name]; ok {
			return errors.Wrapf(ErrIOFailure, "directory slot %d: duplicate %q", i, name)
		}
		names[i] = name
		name2inumber[name] = i
	}
	if names[RootInumber] != RootName {
		return errors.Wrapf(ErrIOFailure, "directory root is %q", names[RootInumber])
	}
	self.names = names
	self.name2inumber = name2inumber
	self.version++
	return nil
}
