/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Apr  6 09:02:13 2018 mstenber
 * Last modified: Fri Apr  6 09:40:52 2018 mstenber
 * Edit time:     12 min
 *
 */

package fs

import "github.com/fingon/go-flatfs/storage"

const (
	BlockSize = storage.BlockSize

	// InodeSize is the on-disk size of one inode record.
	InodeSize      = 32
	InodesPerBlock = BlockSize / InodeSize

	DirectPointers   = 11
	PointersPerBlock = BlockSize / 2

	MaxFileSize = (DirectPointers + PointersPerBlock) * BlockSize

	MaxNameLength = 30

	// Block ids are stored as int16.
	MaxBlocks = 1 << 15

	// The serialized directory has to fit in one file.
	MaxInodes = 4096

	DefaultInodes = 64

	RootName    = "/"
	RootInumber = 0

	// NoBlock marks unallocated pointer, and end of free list.
	NoBlock = -1
)

// Whence values for Seek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// InodeBlocks returns number of blocks the inode table of n inodes
// needs.
func InodeBlocks(n int) int {
	return (n + InodesPerBlock - 1) / InodesPerBlock
}
