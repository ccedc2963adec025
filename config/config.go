/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr 11 12:02:19 2018 mstenber
 * Last modified: Wed Apr 11 13:30:55 2018 mstenber
 * Edit time:     58 min
 *
 */

// config package holds the settings shared by the flatfs commands.
// They come from (in increasing priority) the defaults, a YAML file,
// and FLATFS_* environment variables.
package config

import (
	"io/ioutil"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/fingon/go-flatfs/codec"
	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/storage/factory"
)

const (
	EnvPrefix = "FLATFS"

	// ConfigFileEnv names the YAML file if no path is given.
	ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"
)

var ErrInvalid = errors.New("invalid configuration")

type Configuration struct {
	Backend   string `envconfig:"BACKEND" yaml:"backend"`
	Directory string `envconfig:"DIRECTORY" yaml:"directory"`
	Blocks    int    `envconfig:"BLOCKS" yaml:"blocks"`
	Inodes    int    `envconfig:"INODES" yaml:"inodes"`

	Cache     string `envconfig:"CACHE" yaml:"cache"`
	CacheSize int    `envconfig:"CACHESIZE" yaml:"cachesize"`

	Password    string `envconfig:"PASSWORD" yaml:"password"`
	Salt        string `envconfig:"SALT" yaml:"salt"`
	Compression string `envconfig:"COMPRESSION" yaml:"compression"`
	Integrity   bool   `envconfig:"INTEGRITY" yaml:"integrity"`

	Family     string `envconfig:"FAMILY" yaml:"family"`
	Address    string `envconfig:"ADDRESS" yaml:"address"`
	Mountpoint string `envconfig:"MOUNTPOINT" yaml:"mountpoint"`

	SeekDelay time.Duration `envconfig:"SEEKDELAY" yaml:"seekdelay"`

	Bucket string `envconfig:"BUCKET" yaml:"bucket"`
	Key    string `envconfig:"KEY" yaml:"key"`
	Region string `envconfig:"REGION" yaml:"region"`
}

// Default returns the configuration used when nothing is set.
func Default() Configuration {
	return Configuration{
		Backend:   "file",
		Directory: ".",
		Blocks:    storage.DefaultBlockCount,
		Inodes:    fs.DefaultInodes,
		Cache:     "clock",
		CacheSize: 10,
		Family:    "tcp",
	}
}

// Load reads the YAML file at path (a missing file is fine), then
// applies the environment. Empty path means $FLATFS_CONFIG_FILE.
func Load(path string) (*Configuration, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		data, err := ioutil.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			mlog.Printf2("config/config", "Load: no %v", path)
		case err != nil:
			return nil, errors.Wrapf(err, "reading %v", path)
		default:
			err = yaml.UnmarshalStrict(data, &c)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %v", path)
			}
		}
	}
	err := envconfig.Process(EnvPrefix, &c)
	if err != nil {
		return nil, errors.Wrap(err, "environment")
	}
	mlog.Printf2("config/config", "Load %v = %+v", path, c)
	return &c, c.Validate()
}

func contains(l []string, s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func (self *Configuration) Validate() error {
	if !contains(factory.List(), self.Backend) {
		return errors.Wrapf(ErrInvalid, "backend %q (possible: %v)", self.Backend, factory.List())
	}
	if self.Cache != "" && !contains(factory.ListCaches(), self.Cache) {
		return errors.Wrapf(ErrInvalid, "cache %q (possible: %v)", self.Cache, factory.ListCaches())
	}
	if self.Blocks < 1 || self.Blocks > fs.MaxBlocks {
		return errors.Wrapf(ErrInvalid, "blocks %d not in [1, %d]", self.Blocks, fs.MaxBlocks)
	}
	if self.Inodes < 1 || self.Inodes > fs.MaxInodes {
		return errors.Wrapf(ErrInvalid, "inodes %d not in [1, %d]", self.Inodes, fs.MaxInodes)
	}
	if 1+fs.InodeBlocks(self.Inodes) > self.Blocks {
		return errors.Wrapf(ErrInvalid, "%d inodes do not fit in %d blocks", self.Inodes, self.Blocks)
	}
	if self.CacheSize < 0 || self.SeekDelay < 0 {
		return errors.Wrapf(ErrInvalid, "negative cachesize or seekdelay")
	}
	if _, ok := codec.ParseCompressionType(self.Compression); !ok {
		return errors.Wrapf(ErrInvalid, "compression %q", self.Compression)
	}
	if self.Backend == "s3" && self.Bucket == "" {
		return errors.Wrapf(ErrInvalid, "s3 backend needs bucket")
	}
	return nil
}

func (self *Configuration) CodecConfiguration() factory.CodecConfiguration {
	return factory.CodecConfiguration{Password: self.Password, Salt: self.Salt,
		Compression: self.Compression, Integrity: self.Integrity}
}

func (self *Configuration) BackendConfiguration() (storage.BackendConfiguration, error) {
	c, err := factory.NewCodec(self.CodecConfiguration())
	if err != nil {
		return storage.BackendConfiguration{}, err
	}
	return storage.BackendConfiguration{
		Directory:  self.Directory,
		BlockCount: self.Blocks,
		Codec:      c,
		CacheName:  self.Cache,
		CacheSize:  self.CacheSize,
		SeekDelay:  self.SeekDelay,
		Bucket:     self.Bucket,
		Key:        self.Key,
		Region:     self.Region,
	}, nil
}

// NewBackend creates and initializes the configured backend.
func (self *Configuration) NewBackend() (storage.Backend, error) {
	bc, err := self.BackendConfiguration()
	if err != nil {
		return nil, err
	}
	return factory.NewWithConfig(self.Backend, bc)
}
