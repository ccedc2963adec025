/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr  4 13:02:11 2018 mstenber
 * Last modified: Wed Apr  4 14:15:39 2018 mstenber
 * Edit time:     63 min
 *
 */

// s3 package keeps the whole device image in memory, and stores it
// as single (codec encoded) object in S3. The image is fetched at
// Init and uploaded whenever Sync is called with changes pending.
package s3

import (
	"bytes"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/storage"
)

const DefaultKey = "flatfs.img"

type S3Backend struct {
	storage.BackendBase

	// Client may be set before Init; otherwise one is created from
	// the default credential chain and configured Region.
	Client s3iface.S3API

	image []byte
	dirty bool
}

var _ storage.Backend = &S3Backend{}

func NewS3Backend() storage.Backend {
	return &S3Backend{}
}

func (self *S3Backend) key() string {
	if self.Key == "" {
		return DefaultKey
	}
	return self.Key
}

func (self *S3Backend) Init(config storage.BackendConfiguration) error {
	err := self.BackendBase.Init(config)
	if err != nil {
		return err
	}
	if config.Bucket == "" {
		return errors.New("s3 backend requires bucket")
	}
	if self.Client == nil {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(config.Region)})
		if err != nil {
			return errors.Wrap(err, "aws session")
		}
		self.Client = s3.New(sess)
	}
	self.image = make([]byte, self.BlockCount()*storage.BlockSize)
	self.dirty = false
	return self.load()
}

func (self *S3Backend) load() error {
	out, err := self.Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(self.Bucket),
		Key:    aws.String(self.key()),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
		mlog.Printf2("storage/s3/s3", "s3.load: no %v/%v yet", self.Bucket, self.key())
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "s3 GetObject %v/%v", self.Bucket, self.key())
	}
	defer out.Body.Close()
	b, err := ioutil.ReadAll(out.Body)
	if err != nil {
		return err
	}
	if self.Codec != nil {
		b, err = self.Codec.DecodeBytes(b, []byte(self.key()))
		if err != nil {
			return errors.Wrapf(err, "decoding %v", self.key())
		}
	}
	n := copy(self.image, b)
	mlog.Printf2("storage/s3/s3", "s3.load: %d bytes", n)
	return nil
}

func (self *S3Backend) store() error {
	if !self.dirty {
		return nil
	}
	b := self.image
	if self.Codec != nil {
		var err error
		b, err = self.Codec.EncodeBytes(b, []byte(self.key()))
		if err != nil {
			return err
		}
	}
	mlog.Printf2("storage/s3/s3", "s3.store: %d bytes", len(b))
	_, err := self.Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(self.Bucket),
		Key:    aws.String(self.key()),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return errors.Wrapf(err, "s3 PutObject %v/%v", self.Bucket, self.key())
	}
	self.dirty = false
	return nil
}

func (self *S3Backend) ReadBlock(id int) ([]byte, error) {
	if err := self.CheckId(id, nil); err != nil {
		return nil, err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	b := make([]byte, storage.BlockSize)
	copy(b, self.image[id*storage.BlockSize:])
	return b, nil
}

func (self *S3Backend) WriteBlock(id int, data []byte) error {
	if err := self.CheckId(id, data); err != nil {
		return err
	}
	unlock, err := self.Access(id)
	if err != nil {
		return err
	}
	defer unlock()
	copy(self.image[id*storage.BlockSize:], data)
	self.dirty = true
	return nil
}

func (self *S3Backend) Sync() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	return self.store()
}

func (self *S3Backend) Close() error {
	unlock, err := self.Exclusive()
	if err != nil {
		return err
	}
	defer unlock()
	self.MarkClosed()
	return self.store()
}
