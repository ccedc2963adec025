/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Mon Apr  9 11:02:40 2018 mstenber
 * Last modified: Mon Apr  9 12:10:03 2018 mstenber
 * Edit time:     41 min
 *
 */

package fs

import (
	"fmt"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/storage/inmemory"
)

func newBackend(t testing.TB, blocks int) storage.Backend {
	be := inmemory.NewInMemoryBackend()
	err := be.Init(storage.BackendConfiguration{BlockCount: blocks})
	if err != nil {
		t.Fatal(err)
	}
	return be
}

func TestFreeListClosure(t *testing.T) {
	t.Parallel()
	for _, geo := range [][2]int{{1000, 64}, {100, 8}, {17, 1}, {20, 16}, {20, 17}, {300, 4096 / 16}} {
		blocks, inodes := geo[0], geo[1]
		t.Run(fmt.Sprintf("%d-%d", blocks, inodes), func(t *testing.T) {
			sb := NewSuperblock(newBackend(t, blocks))
			assert.Nil(t, sb.Initialize(blocks, inodes))
			l, err := sb.FreeList()
			assert.Nil(t, err)
			expected := blocks - 1 - InodeBlocks(inodes)
			assert.Equal(t, len(l), expected)
			assert.Equal(t, sb.FreeBlocks(), expected)
			seen := make(map[int]bool)
			for _, id := range l {
				assert.False(t, seen[id])
				assert.True(t, id >= 1+InodeBlocks(inodes) && id < blocks)
				seen[id] = true
			}
		})
	}
}

func TestSuperblockAllocateFree(t *testing.T) {
	t.Parallel()
	be := newBackend(t, 20)
	sb := NewSuperblock(be)
	assert.Nil(t, sb.Initialize(20, 16))
	// 2 blocks for superblock + inodes -> 18 data blocks
	assert.Equal(t, sb.FirstDataBlock(), 2)
	head := sb.FreeListHead
	id, err := sb.AllocateBlock()
	assert.Nil(t, err)
	assert.Equal(t, id, head)
	assert.Nil(t, sb.FreeBlock(id))
	assert.Equal(t, sb.FreeListHead, head)

	var ids []int
	for {
		id, err := sb.AllocateBlock()
		if err != nil {
			assert.True(t, Is(err, ErrOutOfSpace))
			break
		}
		ids = append(ids, id)
	}
	assert.Equal(t, len(ids), 18)
	assert.Equal(t, sb.FreeListHead, NoBlock)
	assert.Equal(t, sb.FreeBlocks(), 0)

	// LIFO
	assert.Nil(t, sb.FreeBlock(ids[3]))
	assert.Nil(t, sb.FreeBlock(ids[7]))
	id, err = sb.AllocateBlock()
	assert.Nil(t, err)
	assert.Equal(t, id, ids[7])

	assert.True(t, Is(sb.FreeBlock(0), ErrInvalidArgument))
	assert.True(t, Is(sb.FreeBlock(1), ErrInvalidArgument))
	assert.True(t, Is(sb.FreeBlock(20), ErrInvalidArgument))
}

func TestSuperblockLoad(t *testing.T) {
	t.Parallel()
	be := newBackend(t, 100)
	sb := NewSuperblock(be)
	assert.True(t, Is(sb.Load(), ErrNotFormatted))

	assert.Nil(t, sb.Initialize(100, 32))
	_, err := sb.AllocateBlock()
	assert.Nil(t, err)
	assert.Nil(t, sb.Persist())

	b, err := be.ReadBlock(0)
	assert.Nil(t, err)
	assert.Equal(t, b[:12], []byte{0, 0, 0, 100, 0, 0, 0, 32, 0, 0, 0, 4})

	sb2 := NewSuperblock(be)
	assert.Nil(t, sb2.Load())
	assert.Equal(t, sb2.TotalBlocks, 100)
	assert.Equal(t, sb2.TotalInodes, 32)
	assert.Equal(t, sb2.FreeListHead, sb.FreeListHead)
	assert.Equal(t, sb2.FreeBlocks(), sb.FreeBlocks())

	// Empty list is stored as all ones
	for sb.FreeListHead != NoBlock {
		_, err := sb.AllocateBlock()
		assert.Nil(t, err)
	}
	assert.Nil(t, sb.Persist())
	b, err = be.ReadBlock(0)
	assert.Nil(t, err)
	assert.Equal(t, b[8:12], []byte{0xff, 0xff, 0xff, 0xff})
	sb3 := NewSuperblock(be)
	assert.Nil(t, sb3.Load())
	assert.Equal(t, sb3.FreeListHead, NoBlock)
	assert.Equal(t, sb3.FreeBlocks(), 0)

	// Different sized device
	sb4 := NewSuperblock(newBackend(t, 50))
	assert.Nil(t, sb4.Initialize(50, 8))
	assert.True(t, Is(sb4.Initialize(50, 0), ErrInvalidArgument))
	assert.True(t, Is(sb4.Initialize(50, 50*16), ErrInvalidArgument))
}
