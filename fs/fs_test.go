/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 12:52:43 2017 mstenber
 * Last modified: Tue Apr 10 10:21:38 2018 mstenber
 * Edit time:     203 min
 *
 */

package fs

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stvp/assert"

	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/storage/factory"
	"github.com/fingon/go-flatfs/util"
)

var errInjected = errors.New("injected failure")

// failingBackend fails writes (and/or reads) once told to. If
// failAfter is positive, it counts writes down and fails only the one
// that reaches zero.
type failingBackend struct {
	storage.ProxyBackend
	failReads, failWrites, failAfter util.AtomicInt
}

func (self *failingBackend) ReadBlock(id int) ([]byte, error) {
	if self.failReads.Get() != 0 {
		return nil, errInjected
	}
	return self.Backend.ReadBlock(id)
}

func (self *failingBackend) WriteBlock(id int, data []byte) error {
	if self.failWrites.Get() != 0 {
		return errInjected
	}
	if self.failAfter.Get() > 0 && self.failAfter.Add(-1) == 0 {
		return errInjected
	}
	return self.Backend.WriteBlock(id, data)
}

func newFs(t testing.TB, blocks int) *Fs {
	fs, err := NewFs(newBackend(t, blocks))
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}

func ProdFs(t *testing.T, fs *Fs) {
	h, err := fs.Open("/x", "w")
	assert.Nil(t, err)
	data := bytes.Repeat([]byte{0xAB}, 600)
	n, err := fs.Write(h, data)
	assert.Nil(t, err)
	assert.Equal(t, n, 600)
	assert.Nil(t, fs.CloseFile(h))

	h2, err := fs.Open("/x", "r")
	assert.Nil(t, err)
	buf := make([]byte, 1000)
	n, err = fs.Read(h2, buf)
	assert.Nil(t, err)
	assert.Equal(t, n, 600)
	assert.Equal(t, buf[:n], data)
	assert.Equal(t, fs.Size(h2), 600)

	// At EOF
	n, err = fs.Read(h2, buf)
	assert.Nil(t, err)
	assert.Equal(t, n, 0)
	assert.Nil(t, fs.CloseFile(h2))
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 1000)
	assert.Nil(t, fs.Format(8))
	ProdFs(t, fs)
	st := fs.Stat()
	assert.Equal(t, st.TotalInodes, 8)
	assert.Equal(t, st.FreeInodes, 6)
	assert.Equal(t, st.OpenHandles, 0)
	assert.Equal(t, fs.List(), []string{"/x"})
}

func TestBackends(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"inmemory", "file", "bolt", "badger"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir, err := ioutil.TempDir("", "flatfs-fs")
			assert.Nil(t, err)
			defer os.RemoveAll(dir)
			config := storage.BackendConfiguration{Directory: dir, BlockCount: 200, CacheName: "clock", CacheSize: 8}
			be, err := factory.NewWithConfig(name, config)
			assert.Nil(t, err)
			fs, err := NewFs(be)
			assert.Nil(t, err)
			ProdFs(t, fs)
			assert.Nil(t, fs.Close())

			// Remount sees the same file
			be, err = factory.NewWithConfig(name, config)
			assert.Nil(t, err)
			fs, err = NewFs(be)
			assert.Nil(t, err)
			assert.Equal(t, fs.List(), []string{"/x"})
			fi, err := fs.FileInfo("/x")
			assert.Nil(t, err)
			assert.Equal(t, fi.Length, 600)
			assert.Equal(t, fi.RefCount, 0)
			assert.Equal(t, fs.Stat().FreeBlocks, 200-1-InodeBlocks(DefaultInodes)-1-2)
			assert.Nil(t, fs.Close())
		})
	}
}

func TestIndirectBoundary(t *testing.T) {
	t.Parallel()
	for _, v := range []struct{ size, blocks int }{
		{1, 1},
		{512, 1},
		{513, 2},
		{DirectPointers * BlockSize, DirectPointers},
		{DirectPointers*BlockSize + 1, DirectPointers + 2},
		{MaxFileSize, DirectPointers + PointersPerBlock + 1},
	} {
		v := v
		t.Run(fmt.Sprintf("%d", v.size), func(t *testing.T) {
			t.Parallel()
			fs := newFs(t, 400)
			free := fs.Stat().FreeBlocks
			h, err := fs.Open("f", "w")
			assert.Nil(t, err)
			data := pattern(v.size, 1)
			n, err := h.Write(data)
			assert.Nil(t, err)
			assert.Equal(t, n, v.size)
			assert.Equal(t, free-fs.Stat().FreeBlocks, v.blocks)
			if v.blocks <= DirectPointers {
				assert.Equal(t, h.Inode.Indirect, int16(NoBlock))
			} else {
				assert.True(t, h.Inode.Indirect != NoBlock)
			}
			assert.Nil(t, h.Close())

			h, err = fs.Open("f", "r")
			assert.Nil(t, err)
			buf := make([]byte, v.size+10)
			n, err = h.Read(buf)
			assert.Nil(t, err)
			assert.Equal(t, n, v.size)
			assert.True(t, bytes.Equal(buf[:n], data))
			assert.Nil(t, h.Close())

			assert.Nil(t, fs.Delete("f"))
			assert.Equal(t, fs.Stat().FreeBlocks, free)
		})
	}
}

func TestMaxFileSize(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 400)
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	n, err := h.Write(pattern(MaxFileSize+100, 3))
	assert.True(t, Is(err, ErrOutOfSpace))
	assert.Equal(t, n, MaxFileSize)
	assert.Equal(t, h.Size(), MaxFileSize)
	n, err = h.Write([]byte("x"))
	assert.True(t, Is(err, ErrOutOfSpace))
	assert.Equal(t, n, 0)
	assert.Nil(t, h.Close())
}

func TestOutOfSpace(t *testing.T) {
	t.Parallel()
	// 1 superblock + 4 inode blocks + 10 data blocks
	fs := newFs(t, 15)
	assert.Equal(t, fs.Stat().FreeBlocks, 10-1)
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	n, err := h.Write(pattern(20*BlockSize, 5))
	assert.True(t, Is(err, ErrOutOfSpace))
	assert.Equal(t, n, 9*BlockSize)
	assert.Equal(t, h.Size(), 9*BlockSize)
	assert.Nil(t, h.Close())

	// Partial result is on disk
	h, err = fs.Open("f", "r")
	assert.Nil(t, err)
	buf := make([]byte, 10*BlockSize)
	n, err = h.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, buf[:n], pattern(20*BlockSize, 5)[:9*BlockSize])
	assert.Nil(t, h.Close())

	// Truncating open gives the space back
	h, err = fs.Open("f", "w")
	assert.Nil(t, err)
	assert.Equal(t, fs.Stat().FreeBlocks, 9)
	assert.Nil(t, h.Close())
}

func TestOutOfInodes(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	assert.Nil(t, fs.Format(3))
	for i := 0; i < 2; i++ {
		h, err := fs.Open(fmt.Sprintf("f%d", i), "w")
		assert.Nil(t, err)
		assert.Nil(t, h.Close())
	}
	_, err := fs.Open("f2", "w")
	assert.True(t, Is(err, ErrOutOfSpace))
	assert.Equal(t, fs.Stat().FreeInodes, 0)
	assert.Nil(t, fs.Delete("f0"))
	assert.Equal(t, fs.Stat().FreeInodes, 1)
	h, err := fs.Open("f2", "w")
	assert.Nil(t, err)
	assert.Equal(t, h.Inumber, 1)
	assert.Nil(t, h.Close())
}

func TestModes(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)

	_, err := fs.Open("missing", "r")
	assert.True(t, Is(err, ErrNotFound))
	_, err = fs.Open("f", "rw")
	assert.True(t, Is(err, ErrInvalidArgument))
	_, err = fs.Open(RootName, "w")
	assert.True(t, Is(err, ErrInvalidArgument))
	_, err = fs.Open("", "w")
	assert.True(t, Is(err, ErrInvalidArgument))

	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	_, err = h.Read(make([]byte, 1))
	assert.True(t, Is(err, ErrInvalidArgument))
	_, err = h.Write([]byte("hello"))
	assert.Nil(t, err)
	assert.Nil(t, h.Close())

	h, err = fs.Open("f", "r")
	assert.Nil(t, err)
	_, err = h.Write([]byte("x"))
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Nil(t, h.Close())

	// Append goes to the end, even after seeking
	h, err = fs.Open("f", "a")
	assert.Nil(t, err)
	assert.Equal(t, h.Position(), 5)
	_, err = h.Seek(0, SeekSet)
	assert.Nil(t, err)
	_, err = h.Write([]byte(" world"))
	assert.Nil(t, err)
	assert.Nil(t, h.Close())

	// w+ neither truncates nor appends
	h, err = fs.Open("f", "w+")
	assert.Nil(t, err)
	assert.Equal(t, h.Position(), 0)
	_, err = h.Write([]byte("J"))
	assert.Nil(t, err)
	_, err = h.Seek(0, SeekSet)
	assert.Nil(t, err)
	buf := make([]byte, 100)
	n, err := h.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, string(buf[:n]), "Jello world")
	assert.Nil(t, h.Close())

	// w truncates
	h, err = fs.Open("f", "w")
	assert.Nil(t, err)
	assert.Equal(t, h.Size(), 0)
	assert.Nil(t, h.Close())

	// Root can be read; it contains the directory after Sync
	assert.Nil(t, fs.Sync())
	h, err = fs.Open(RootName, "r")
	assert.Nil(t, err)
	assert.Equal(t, h.Size(), len(fs.directory.Serialize()))
	assert.Nil(t, h.Close())
	assert.True(t, Is(fs.Delete(RootName), ErrInvalidArgument))
}

func TestAppend(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	h, err := fs.Open("f", "w+")
	assert.Nil(t, err)
	_, err = h.Write([]byte("abc"))
	assert.Nil(t, err)
	_, err = h.Seek(0, SeekSet)
	assert.Nil(t, err)
	n, err := h.Append([]byte("def"))
	assert.Nil(t, err)
	assert.Equal(t, n, 3)
	assert.Equal(t, h.Position(), 6)
	buf := make([]byte, 10)
	n, err = h.ReadAt(buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, string(buf[:n]), "abcdef")
	assert.Nil(t, h.Close())

	h, err = fs.Open("f", "r")
	assert.Nil(t, err)
	_, err = h.Append([]byte("x"))
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Nil(t, h.Close())
}

func TestSeek(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	h, err := fs.Open("f", "w+")
	assert.Nil(t, err)
	data := pattern(1500, 0)
	_, err = h.Write(data)
	assert.Nil(t, err)

	pos, err := fs.Seek(h, 100, SeekSet)
	assert.Nil(t, err)
	assert.Equal(t, pos, 100)
	pos, err = fs.Seek(h, 412, SeekCur)
	assert.Nil(t, err)
	assert.Equal(t, pos, 512)
	buf := make([]byte, 600)
	n, err := h.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, n, 600)
	assert.Equal(t, buf, data[512:1112])

	pos, err = fs.Seek(h, -10, SeekEnd)
	assert.Nil(t, err)
	assert.Equal(t, pos, 1490)
	pos, err = fs.Seek(h, 100, SeekEnd)
	assert.Nil(t, err)
	assert.Equal(t, pos, 1500)
	pos, err = fs.Seek(h, 5000, SeekSet)
	assert.Nil(t, err)
	assert.Equal(t, pos, 1500)

	_, err = fs.Seek(h, -1, SeekSet)
	assert.True(t, Is(err, ErrInvalidArgument))
	_, err = fs.Seek(h, -2000, SeekCur)
	assert.True(t, Is(err, ErrInvalidArgument))
	_, err = fs.Seek(h, 0, 3)
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Equal(t, h.Position(), 1500)

	// Overwrite in the middle across block boundary
	_, err = fs.Seek(h, 500, SeekSet)
	assert.Nil(t, err)
	_, err = h.Write(bytes.Repeat([]byte{0xEE}, 30))
	assert.Nil(t, err)
	copy(data[500:], bytes.Repeat([]byte{0xEE}, 30))
	assert.Equal(t, h.Size(), 1500)
	_, err = fs.Seek(h, 0, SeekSet)
	assert.Nil(t, err)
	buf = make([]byte, 2000)
	n, err = h.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, buf[:n], data)
	assert.Nil(t, h.Close())
}

func TestReadWriteAt(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	h, err := fs.Open("f", "w+")
	assert.Nil(t, err)
	n, err := h.WriteAt([]byte("tail"), 1000)
	assert.Nil(t, err)
	assert.Equal(t, n, 4)
	assert.Equal(t, h.Size(), 1004)
	buf := make([]byte, 1010)
	n, err = h.ReadAt(buf, 0)
	assert.Nil(t, err)
	assert.Equal(t, n, 1004)
	assert.Equal(t, buf[:1000], make([]byte, 1000))
	assert.Equal(t, string(buf[1000:1004]), "tail")
	n, err = h.ReadAt(buf, 2000)
	assert.Nil(t, err)
	assert.Equal(t, n, 0)
	_, err = h.ReadAt(buf, -1)
	assert.True(t, Is(err, ErrInvalidArgument))
	assert.Nil(t, h.Close())
}

func TestDeleteWhileOpen(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	free := fs.Stat().FreeBlocks
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	_, err = h.Write(pattern(2000, 9))
	assert.Nil(t, err)
	h2, err := fs.Open("f", "r")
	assert.Nil(t, err)
	assert.True(t, h.Inode == h2.Inode)
	inumber := h.Inumber

	assert.Nil(t, fs.Delete("f"))
	_, err = fs.Open("f", "r")
	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, Is(fs.Delete("f"), ErrNotFound))
	assert.Equal(t, fs.Stat().FreeBlocks, free-4)
	assert.Equal(t, h.Inode.Flag, FlagPendingDelete)

	// Still readable through the open handle
	buf := make([]byte, 3000)
	n, err := h2.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, buf[:n], pattern(2000, 9))

	// The inumber is not reused while pending
	h3, err := fs.Open("g", "w")
	assert.Nil(t, err)
	assert.True(t, h3.Inumber != inumber)
	assert.Nil(t, h3.Close())

	assert.Nil(t, h.Close())
	assert.Equal(t, fs.Stat().FreeBlocks, free-4)
	assert.Nil(t, h2.Close())
	assert.Equal(t, fs.Stat().FreeBlocks, free)

	inode, err := fs.inodes.Load(inumber)
	assert.Nil(t, err)
	assert.Equal(t, inode.Flag, FlagUnused)
	assert.Equal(t, inode.RefCount, int16(0))
	assert.True(t, fs.files.Registered(inumber) == nil)
	assert.Equal(t, fs.files.PendingDeletes(), 0)

	// Double close
	assert.True(t, Is(h.Close(), ErrNotFound))
}

func TestDeleteClosed(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	free := fs.Stat().FreeBlocks
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	_, err = h.Write(pattern(600, 1))
	assert.Nil(t, err)
	assert.Nil(t, h.Close())
	fi, err := fs.FileInfo("f")
	assert.Nil(t, err)
	assert.Equal(t, fi.Flag, FlagUsed)
	assert.Equal(t, fi.RefCount, 0)
	assert.Nil(t, fs.Delete("f"))
	assert.Equal(t, fs.Stat().FreeBlocks, free)
	_, err = fs.FileInfo("f")
	assert.True(t, Is(err, ErrNotFound))
}

func TestRefCount(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	assert.Nil(t, h.Close())

	const k = 20
	handles := make([]*FileTableEntry, k)
	var wg util.SimpleWaitGroup
	for i := 0; i < k; i++ {
		i := i
		wg.Go(func() {
			h, err := fs.Open("f", "r")
			assert.Nil(t, err)
			handles[i] = h
		})
	}
	wg.Wait()
	for i := 1; i < k; i++ {
		assert.True(t, handles[i].Inode == handles[0].Inode)
	}
	for i := 0; i < k-1; i++ {
		i := i
		wg.Go(func() {
			assert.Nil(t, handles[i].Close())
		})
	}
	wg.Wait()
	inode := fs.files.Registered(handles[0].Inumber)
	assert.True(t, inode == handles[0].Inode)
	assert.Equal(t, inode.RefCount, int16(1))
	fi, err := fs.FileInfo("f")
	assert.Nil(t, err)
	assert.Equal(t, fi.RefCount, 1)
	assert.Nil(t, handles[k-1].Close())
	assert.True(t, fs.files.Registered(handles[0].Inumber) == nil)
}

func TestConcurrentFiles(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 2000)
	free := fs.Stat().FreeBlocks
	var wg util.SimpleWaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Go(func() {
			name := fmt.Sprintf("file%d", i)
			data := pattern(3000+i*100, byte(i))
			for j := 0; j < 3; j++ {
				h, err := fs.Open(name, "w")
				assert.Nil(t, err)
				n, err := h.Write(data)
				assert.Nil(t, err)
				assert.Equal(t, n, len(data))
				assert.Nil(t, h.Close())
				h, err = fs.Open(name, "r")
				assert.Nil(t, err)
				buf := make([]byte, len(data))
				n, err = h.Read(buf)
				assert.Nil(t, err)
				assert.True(t, bytes.Equal(buf[:n], data))
				assert.Nil(t, h.Close())
			}
			assert.Nil(t, fs.Delete(name))
		})
	}
	wg.Wait()
	assert.Equal(t, fs.Stat().FreeBlocks, free)
	assert.Equal(t, len(fs.List()), 0)
	l, err := fs.superblock.FreeList()
	assert.Nil(t, err)
	assert.Equal(t, len(l), free)
}

func TestConcurrentCreate(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 200)
	var wg util.SimpleWaitGroup
	handles := make([]*FileTableEntry, 10)
	for i := range handles {
		i := i
		wg.Go(func() {
			h, err := fs.Open("same", "w+")
			assert.Nil(t, err)
			handles[i] = h
		})
	}
	wg.Wait()
	for _, h := range handles {
		assert.True(t, h.Inode == handles[0].Inode)
	}
	assert.Equal(t, handles[0].Inode.RefCount, int16(10))
	assert.Equal(t, fs.List(), []string{"same"})
	for _, h := range handles {
		assert.Nil(t, h.Close())
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	fs := newFs(t, 100)
	h, err := fs.Open("f", "w")
	assert.Nil(t, err)
	assert.True(t, Is(fs.Format(16), ErrBusy))
	assert.Nil(t, h.Close())
	assert.True(t, Is(fs.Format(0), ErrInvalidArgument))
	assert.True(t, Is(fs.Format(MaxInodes+1), ErrInvalidArgument))
	assert.Nil(t, fs.Format(16))
	assert.Equal(t, len(fs.List()), 0)
	st := fs.Stat()
	assert.Equal(t, st.TotalInodes, 16)
	// root directory takes one block
	assert.Equal(t, st.FreeBlocks, 100-2-1)
	assert.Equal(t, st.FreeInodes, 15)
}

func TestRemount(t *testing.T) {
	t.Parallel()
	be := newBackend(t, 300)
	fs, err := NewFs(be)
	assert.Nil(t, err)
	for i := 0; i < 5; i++ {
		h, err := fs.Open(fmt.Sprintf("f%d", i), "w")
		assert.Nil(t, err)
		_, err = h.Write(pattern(700*i, byte(i)))
		assert.Nil(t, err)
		assert.Nil(t, h.Close())
	}
	assert.Nil(t, fs.Delete("f2"))
	// Left open, and open + deleted
	_, err = fs.Open("f3", "r")
	assert.Nil(t, err)
	_, err = fs.Open("f4", "r")
	assert.Nil(t, err)
	assert.Nil(t, fs.Delete("f4"))
	assert.Nil(t, fs.Sync())
	st := fs.Stat()

	fs2, err := NewFs(be)
	assert.Nil(t, err)
	assert.Equal(t, fs2.List(), []string{"f0", "f1", "f3"})
	fi, err := fs2.FileInfo("f3")
	assert.Nil(t, err)
	assert.Equal(t, fi.RefCount, 0)
	assert.Equal(t, fi.Length, 2100)
	// f4 blocks were reclaimed at mount
	st2 := fs2.Stat()
	assert.Equal(t, st2.FreeBlocks, st.FreeBlocks+6)
	assert.Equal(t, st2.FreeInodes, st.FreeInodes+1)

	h, err := fs2.Open("f1", "r")
	assert.Nil(t, err)
	buf := make([]byte, 1000)
	n, err := h.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, buf[:n], pattern(700, 1))
	assert.Nil(t, h.Close())
}

func TestIOFailure(t *testing.T) {
	t.Parallel()
	fb := &failingBackend{ProxyBackend: storage.ProxyBackend{Backend: newBackend(t, 100)}}
	fs, err := NewFs(fb)
	assert.Nil(t, err)
	h, err := fs.Open("f", "w+")
	assert.Nil(t, err)
	_, err = h.Write(pattern(1000, 0))
	assert.Nil(t, err)

	fb.failWrites.Set(1)
	n, err := h.Write(pattern(100, 0))
	assert.True(t, Is(err, ErrIOFailure))
	assert.Equal(t, n, 0)
	_, err = fs.Open("g", "w")
	assert.True(t, Is(err, ErrIOFailure))
	_, err = fs.Open("g", "r")
	assert.True(t, Is(err, ErrNotFound))
	fb.failWrites.Set(0)

	fb.failReads.Set(1)
	_, err = h.Seek(0, SeekSet)
	assert.Nil(t, err)
	_, err = h.Read(make([]byte, 10))
	assert.True(t, Is(err, ErrIOFailure))
	inode, err := fs.inodes.Load(1)
	assert.True(t, Is(err, ErrIOFailure))
	assert.Equal(t, inode.Flag, FlagUnused)
	fb.failReads.Set(0)

	assert.Nil(t, h.Close())
	_, err = fs.FileInfo("g")
	assert.True(t, Is(err, ErrNotFound))

	// Unformatted device is formatted on mount; failing device is not
	fb2 := &failingBackend{ProxyBackend: storage.ProxyBackend{Backend: newBackend(t, 100)}}
	fb2.failReads.Set(1)
	_, err = NewFs(fb2)
	assert.True(t, Is(err, ErrIOFailure))
}

// assertConsistent checks that the free list is sane, and that no
// block is both free and in use, or used twice.
func assertConsistent(t *testing.T, fs *Fs) {
	t.Helper()
	l, err := fs.superblock.FreeList()
	assert.Nil(t, err)
	assert.Equal(t, len(l), fs.superblock.FreeBlocks())
	owner := make(map[int]int)
	for _, id := range l {
		owner[id] = -1
	}
	for i := 0; i < fs.superblock.TotalInodes; i++ {
		inode := fs.files.Registered(i)
		if inode == nil {
			inode, err = fs.inodes.Load(i)
			assert.Nil(t, err)
		}
		if inode.Flag == FlagUnused {
			continue
		}
		blocks, err := inode.Blocks(fs.backend)
		assert.Nil(t, err)
		if inode.Indirect != NoBlock {
			blocks = append(blocks, int(inode.Indirect))
		}
		for _, id := range blocks {
			if o, ok := owner[id]; ok {
				t.Fatalf("block %d of inode %d already owned by %d", id, i, o)
			}
			owner[id] = i
		}
	}
}

func newFailingFs(t *testing.T, blocks int) (*Fs, *failingBackend) {
	fb := &failingBackend{ProxyBackend: storage.ProxyBackend{Backend: newBackend(t, blocks)}}
	fs, err := NewFs(fb)
	if err != nil {
		t.Fatal(err)
	}
	return fs, fb
}

func writeFile(t *testing.T, fs *Fs, filename string, data []byte) {
	h, err := fs.Open(filename, "w")
	assert.Nil(t, err)
	n, err := h.Write(data)
	assert.Nil(t, err)
	assert.Equal(t, n, len(data))
	assert.Nil(t, h.Close())
}

func TestDeleteFailure(t *testing.T) {
	t.Parallel()
	// 11 direct + indirect + 3 indirect data blocks; the delete
	// does 2 inode stores and 15 frees.
	data := pattern((DirectPointers+3)*BlockSize, 7)
	for after := 1; after <= 18; after++ {
		after := after
		t.Run(fmt.Sprintf("%d", after), func(t *testing.T) {
			t.Parallel()
			fs, fb := newFailingFs(t, 100)
			free := fs.Stat().FreeBlocks
			writeFile(t, fs, "f", data)
			writeFile(t, fs, "other", pattern(1000, 3))
			assert.Equal(t, fs.Stat().FreeBlocks, free-15-2)

			fb.failAfter.SetInt(after)
			err := fs.Delete("f")
			fb.failAfter.SetInt(0)
			if after <= 17 {
				assert.True(t, Is(err, ErrIOFailure))
			} else {
				assert.Nil(t, err)
			}
			assertConsistent(t, fs)

			// Either the name is still there, or the rest of the
			// blocks are reclaimed by Sync.
			if _, err = fs.FileInfo("f"); err == nil {
				assert.Nil(t, fs.Delete("f"))
				assertConsistent(t, fs)
			}
			assert.Nil(t, fs.Sync())
			assertConsistent(t, fs)
			assert.Equal(t, fs.Stat().FreeBlocks, free-2)
			assert.Equal(t, fs.files.PendingDeletes(), 0)
			assert.Equal(t, fs.List(), []string{"other"})

			// Freed blocks are handed out exactly once
			writeFile(t, fs, "g", data)
			assertConsistent(t, fs)
			h, err := fs.Open("other", "r")
			assert.Nil(t, err)
			buf := make([]byte, 2000)
			n, err := h.Read(buf)
			assert.Nil(t, err)
			assert.Equal(t, buf[:n], pattern(1000, 3))
			assert.Nil(t, h.Close())
		})
	}
}

func TestDeleteWhileOpenFailure(t *testing.T) {
	t.Parallel()
	fs, fb := newFailingFs(t, 100)
	free := fs.Stat().FreeBlocks
	writeFile(t, fs, "f", pattern(3000, 1))
	h, err := fs.Open("f", "r")
	assert.Nil(t, err)
	assert.Nil(t, fs.Delete("f"))

	// Last close fails halfway through returning the blocks
	fb.failAfter.SetInt(3)
	assert.True(t, Is(h.Close(), ErrIOFailure))
	fb.failAfter.SetInt(0)
	assertConsistent(t, fs)
	assert.Equal(t, fs.files.PendingDeletes(), 1)
	// root and the pending inode
	assert.Equal(t, fs.Stat().FreeInodes, fs.Stat().TotalInodes-2)

	assert.Nil(t, fs.Sync())
	assertConsistent(t, fs)
	assert.Equal(t, fs.files.PendingDeletes(), 0)
	assert.Equal(t, fs.Stat().FreeBlocks, free)
}

func TestGrowToFailure(t *testing.T) {
	t.Parallel()
	head := pattern(DirectPointers*BlockSize, 2)
	tail := pattern(2*BlockSize, 5)
	// indirect, indirect update, data, indirect update, data, inode
	for after := 1; after <= 6; after++ {
		after := after
		t.Run(fmt.Sprintf("%d", after), func(t *testing.T) {
			t.Parallel()
			fs, fb := newFailingFs(t, 100)
			free := fs.Stat().FreeBlocks
			h, err := fs.Open("f", "w+")
			assert.Nil(t, err)
			_, err = h.Write(head)
			assert.Nil(t, err)

			fb.failAfter.SetInt(after)
			n, err := h.Write(tail)
			fb.failAfter.SetInt(0)
			assert.True(t, Is(err, ErrIOFailure))
			assertConsistent(t, fs)
			assert.Equal(t, h.Size(), len(head)+n)

			buf := make([]byte, len(head)+len(tail))
			n2, err := h.ReadAt(buf, 0)
			assert.Nil(t, err)
			assert.Equal(t, n2, len(head)+n)
			assert.Equal(t, buf[:len(head)], head)
			assert.Equal(t, buf[len(head):n2], tail[:n])

			// The write can be completed afterwards
			_, err = h.WriteAt(tail, len(head))
			assert.Nil(t, err)
			assert.Nil(t, h.Close())
			assertConsistent(t, fs)
			assert.Nil(t, fs.Delete("f"))
			assertConsistent(t, fs)
			assert.Equal(t, fs.Stat().FreeBlocks, free)
		})
	}
}

func TestTruncateFailure(t *testing.T) {
	t.Parallel()
	data := pattern((DirectPointers+2)*BlockSize, 4)
	// open store, 14 frees, truncated store
	for after := 1; after <= 16; after++ {
		after := after
		t.Run(fmt.Sprintf("%d", after), func(t *testing.T) {
			t.Parallel()
			fs, fb := newFailingFs(t, 100)
			free := fs.Stat().FreeBlocks
			writeFile(t, fs, "f", data)

			fb.failAfter.SetInt(after)
			_, err := fs.Open("f", "w")
			fb.failAfter.SetInt(0)
			assert.True(t, Is(err, ErrIOFailure))
			assertConsistent(t, fs)
			assert.Equal(t, fs.Stat().OpenHandles, 0)

			h, err := fs.Open("f", "w")
			assert.Nil(t, err)
			assert.Equal(t, h.Size(), 0)
			assertConsistent(t, fs)
			_, err = h.Write([]byte("short"))
			assert.Nil(t, err)
			assert.Nil(t, h.Close())
			assert.Equal(t, fs.Stat().FreeBlocks, free-1)

			// Remount agrees with the in-memory state
			assert.Nil(t, fs.Sync())
			fs2, err := NewFs(fb)
			assert.Nil(t, err)
			assertConsistent(t, fs2)
			fi, err := fs2.FileInfo("f")
			assert.Nil(t, err)
			assert.Equal(t, fi.Length, 5)
			assert.Equal(t, fs2.Stat().FreeBlocks, free-1)
		})
	}
}

func TestNewFsWithInodes(t *testing.T) {
	t.Parallel()
	be := newBackend(t, 200)
	fs, err := NewFsWithInodes(be, 48)
	assert.Nil(t, err)
	assert.Equal(t, fs.Stat().TotalInodes, 48)
	assert.Nil(t, fs.Sync())

	// Existing file system keeps its geometry
	fs, err = NewFsWithInodes(be, 16)
	assert.Nil(t, err)
	assert.Equal(t, fs.Stat().TotalInodes, 48)

	_, err = NewFsWithInodes(newBackend(t, 10), MaxInodes+1)
	assert.True(t, Is(err, ErrInvalidArgument))
}

func BenchmarkFs(b *testing.B) {
	for _, size := range []int{100, 5000, 100000} {
		size := size
		b.Run(fmt.Sprintf("write-%d", size), func(b *testing.B) {
			fs := newFs(b, 2000)
			data := pattern(size, 0)
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h, err := fs.Open("f", "w")
				if err != nil {
					b.Fatal(err)
				}
				h.Write(data)
				h.Close()
			}
		})
		b.Run(fmt.Sprintf("read-%d", size), func(b *testing.B) {
			fs := newFs(b, 2000)
			data := pattern(size, 0)
			h, _ := fs.Open("f", "w")
			h.Write(data)
			h.Close()
			buf := make([]byte, size)
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h, err := fs.Open("f", "r")
				if err != nil {
					b.Fatal(err)
				}
				h.Read(buf)
				h.Close()
			}
		})
	}
}
