/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 11:14:11 2018 mstenber
 * Last modified: Wed Apr  4 09:31:20 2018 mstenber
 * Edit time:     37 min
 *
 */

// storage package describes the block device the file system lives
// on. A Backend is a fixed array of BlockSize byte blocks addressed by
// integer id; what it does with them in practise (RAM, image file,
// key-value store, object storage, cache in front of another backend)
// is left as an exercise to the implementor.
package storage

import (
	"time"

	"github.com/fingon/go-flatfs/codec"
	"github.com/pkg/errors"
)

const BlockSize = 512

// ErrInvalidBlock is returned when the block id is out of range, or
// the data handed to WriteBlock is not exactly BlockSize bytes.
var ErrInvalidBlock = errors.New("invalid block")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend closed")

// Backend is the shadow behind the throne. Every call is synchronous;
// results are consistent with the previous calls.
type Backend interface {
	// Init makes the instance actually useful
	Init(config BackendConfiguration) error

	// BlockCount returns number of blocks available.
	BlockCount() int

	// ReadBlock returns copy of BlockSize bytes of the block. Blocks
	// never written read as zeros.
	ReadBlock(id int) ([]byte, error)

	// WriteBlock stores exactly BlockSize bytes as the block.
	WriteBlock(id int, data []byte) error

	// Sync forces persistence of whatever buffering the backend
	// does.
	Sync() error

	// Close syncs and releases the backend.
	Close() error
}

type BackendConfiguration struct {
	// Directory is where on-disk backends keep their state.
	Directory string

	// BlockCount is the size of the device in blocks.
	BlockCount int

	// Codec is applied to block payloads by backends that store
	// variable-length values (bolt, badger, s3). Nil means none.
	Codec codec.Codec

	// CacheName and CacheSize select an optional cache in front of
	// the backend (see storage/factory).
	CacheName string
	CacheSize int

	// SeekDelay simulates rotating media; zero disables.
	SeekDelay time.Duration

	// Bucket, Key and Region locate the image in S3.
	Bucket, Key, Region string
}

// DefaultBlockCount is the ThreadOS disk size.
const DefaultBlockCount = 1000
