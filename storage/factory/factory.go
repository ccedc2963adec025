/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 12:22:52 2018 mstenber
 * Last modified: Thu Apr  5 15:22:31 2018 mstenber
 * Edit time:     63 min
 *
 */

package factory

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/codec"
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/storage/badger"
	"github.com/fingon/go-flatfs/storage/bolt"
	"github.com/fingon/go-flatfs/storage/cache"
	"github.com/fingon/go-flatfs/storage/file"
	"github.com/fingon/go-flatfs/storage/inmemory"
	"github.com/fingon/go-flatfs/storage/s3"
)

type factoryCallback func() storage.Backend

var backendFactories = map[string]factoryCallback{
	"inmemory": func() storage.Backend {
		return inmemory.NewInMemoryBackend()
	},
	"badger": func() storage.Backend {
		return badger.NewBadgerBackend()
	},
	"bolt": func() storage.Backend {
		return bolt.NewBoltBackend()
	},
	"file": func() storage.Backend {
		return file.NewFileBackend()
	},
	"s3": func() storage.Backend {
		return s3.NewS3Backend()
	}}

type cacheCallback func(be storage.Backend, size int) storage.Backend

var cacheFactories = map[string]cacheCallback{
	"clock": func(be storage.Backend, size int) storage.Backend {
		return cache.NewClockCache(be, size)
	},
	"arc": func(be storage.Backend, size int) storage.Backend {
		return cache.NewARCCache(be, size)
	}}

var ErrUnknown = errors.New("unknown name")

func keys(m map[string]bool) []string {
	l := make([]string, 0, len(m))
	for k := range m {
		l = append(l, k)
	}
	sort.Strings(l)
	return l
}

// List returns the backend names, sorted.
func List() []string {
	m := make(map[string]bool)
	for k := range backendFactories {
		m[k] = true
	}
	return keys(m)
}

// ListCaches returns the cache names, sorted.
func ListCaches() []string {
	m := make(map[string]bool)
	for k := range cacheFactories {
		m[k] = true
	}
	return keys(m)
}

func New(name, dir string) (storage.Backend, error) {
	var config storage.BackendConfiguration
	config.Directory = dir
	return NewWithConfig(name, config)
}

// NewWithConfig creates and initializes the named backend, wrapped in
// the configured cache (if any).
func NewWithConfig(name string, config storage.BackendConfiguration) (storage.Backend, error) {
	mlog.Printf2("storage/factory/factory", "f.NewWithConfig %v %v", name, config)
	f, ok := backendFactories[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "backend %v", name)
	}
	be := f()
	if config.CacheName != "" {
		cf, ok := cacheFactories[config.CacheName]
		if !ok {
			return nil, errors.Wrapf(ErrUnknown, "cache %v", config.CacheName)
		}
		mlog.Printf2("storage/factory/factory", " with %v cache of %d", config.CacheName, config.CacheSize)
		be = cf(be, config.CacheSize)
	}
	err := be.Init(config)
	if err != nil {
		return nil, err
	}
	return be, nil
}

type CodecConfiguration struct {
	Password, Salt string
	Iterations     int

	// Compression is one of lz4 (default), snappy, plain.
	Compression string

	// Integrity adds CMAC tag even without encryption.
	Integrity bool
}

const (
	defaultIterations = 12345
	defaultSalt       = "asdf"
)

// NewCodec builds the codec chain the configuration describes. The
// result is never nil, but may be an empty chain.
func NewCodec(config CodecConfiguration) (codec.Codec, error) {
	mlog.Printf2("storage/factory/factory", "f.NewCodec")
	iterations := config.Iterations
	if iterations == 0 {
		iterations = defaultIterations
	}
	salt := config.Salt
	if salt == "" {
		salt = defaultSalt
	}
	ct, ok := codec.ParseCompressionType(config.Compression)
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "compression %v", config.Compression)
	}
	codecs := []codec.Codec{}
	if config.Password != "" {
		mlog.Printf2("storage/factory/factory", " with encryption")
		c, err := codec.EncryptingCodec{}.Init([]byte(config.Password), []byte(salt), iterations)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	} else if config.Integrity {
		mlog.Printf2("storage/factory/factory", " with authentication")
		c, err := codec.AuthenticatingCodec{}.Init([]byte(salt), []byte(salt), iterations)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, c)
	}
	if ct != codec.CompressionType_PLAIN {
		mlog.Printf2("storage/factory/factory", " with %v compression", ct)
		codecs = append(codecs, &codec.CompressingCodec{Type: ct})
	}
	return codec.CodecChain{}.Init(codecs...), nil
}
