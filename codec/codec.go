/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:12 2017 mstenber
 * Last modified: Tue Apr  3 10:02:44 2018 mstenber
 * Edit time:     104 min
 *
 */

// codec library is responsible for transforming data + additionalData
// to different kind of data. This means in practise either
// encrypting/decrypting, authenticating, or compressing/uncompressing
// block payloads on their way to and from a storage backend.
//
// CodecChain makes it possible to combine multiple Codecs that do the
// particular sub-EncodeBytes/DecodeBytes steps.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"

	"github.com/golang/snappy"
	"github.com/jacobsa/crypto/cmac"
	"github.com/minio/sha256-simd"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// ErrCorrupt is returned (wrapped) when a payload does not decode
// cleanly.
var ErrCorrupt = errors.New("corrupt encoded data")

// Codec
//
// Single transformation of byte slices.
type Codec interface {
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
}

func deriveKey(password, salt []byte, iter int) []byte {
	return pbkdf2.Key(password, salt, iter, 32, sha256.New)
}

// EncryptingCodec
//
// AES GCM based encrypting/decrypting (+authenticating) Codec.
type EncryptingCodec struct {
	gcm cipher.AEAD
}

func (self EncryptingCodec) Init(password, salt []byte, iter int) (*EncryptingCodec, error) {
	block, err := aes.NewCipher(deriveKey(password, salt, iter))
	if err != nil {
		return nil, err
	}
	self.gcm, err = cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &self, nil
}

func (self *EncryptingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var ed EncryptedData
	_, err = ed.UnmarshalMsg(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "encrypted envelope: %s", err)
	}
	ret, err = self.gcm.Open(nil, ed.Nonce, ed.EncryptedData, additionalData)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "gcm: %s", err)
	}
	return
}

func (self *EncryptingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	nonce := make([]byte, self.gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return
	}
	ciphertext := self.gcm.Seal(nil, nonce, data, additionalData)
	ed := EncryptedData{Nonce: nonce, EncryptedData: ciphertext}
	return ed.MarshalMsg(nil)
}

// AuthenticatingCodec
//
// AES-CMAC tag over additionalData + data. The payload itself stays
// readable; only tampering is detected.
type AuthenticatingCodec struct {
	key []byte
}

func (self AuthenticatingCodec) Init(password, salt []byte, iter int) (*AuthenticatingCodec, error) {
	self.key = deriveKey(password, salt, iter)
	// Validate the key once here so that per-call failures cannot
	// happen later.
	if _, err := cmac.New(self.key); err != nil {
		return nil, err
	}
	return &self, nil
}

func (self *AuthenticatingCodec) tag(data, additionalData []byte) []byte {
	h, err := cmac.New(self.key)
	if err != nil {
		panic(err)
	}
	h.Write(additionalData)
	h.Write(data)
	return h.Sum(nil)
}

func (self *AuthenticatingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var ad AuthenticatedData
	_, err = ad.UnmarshalMsg(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "authenticated envelope: %s", err)
	}
	if !hmac.Equal(ad.Tag, self.tag(ad.Data, additionalData)) {
		return nil, errors.Wrapf(ErrCorrupt, "tag mismatch")
	}
	return ad.Data, nil
}

func (self *AuthenticatingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ad := AuthenticatedData{Tag: self.tag(data, additionalData), Data: data}
	return ad.MarshalMsg(nil)
}

// CompressingCodec
//
// On-the-fly compressing Codec. If the result does not improve, the
// result is marked to be plaintext and passed as-is (at cost of few
// bytes).
type CompressingCodec struct {
	// Type is the compression used when encoding; decoding handles
	// whatever the payload says. Zero value means LZ4.
	Type CompressionType
}

// Gigabyte at once is madness
const largestCompressionSize = 1024000000

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	var cd CompressedData
	_, err = cd.UnmarshalMsg(data)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "compressed envelope: %s", err)
	}
	if cd.Size > largestCompressionSize {
		return nil, errors.Wrapf(ErrCorrupt, "insane size %d", cd.Size)
	}
	switch cd.CompressionType {
	case CompressionType_PLAIN:
		ret = cd.RawData
	case CompressionType_LZ4:
		ret = make([]byte, cd.Size)
		var n int
		n, err = lz4.UncompressBlock(cd.RawData, ret)
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "lz4: %s", err)
		}
		ret = ret[:n]
	case CompressionType_SNAPPY:
		ret, err = snappy.Decode(make([]byte, cd.Size), cd.RawData)
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "snappy: %s", err)
		}
	default:
		return nil, errors.Wrapf(ErrCorrupt, "unknown compression %d", cd.CompressionType)
	}
	if len(ret) != int(cd.Size) {
		return nil, errors.Wrapf(ErrCorrupt, "size mismatch %d != %d", len(ret), cd.Size)
	}
	return
}

func (self *CompressingCodec) compress(data []byte) (ct CompressionType, rd []byte, err error) {
	ct = self.Type
	switch ct {
	case CompressionType_UNSET, CompressionType_LZ4:
		ct = CompressionType_LZ4
		var hashTable [1 << 16]int
		rd = make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, rd, hashTable[:])
		if err != nil {
			return
		}
		rd = rd[:n]
	case CompressionType_SNAPPY:
		rd = snappy.Encode(nil, data)
	default:
		ct = CompressionType_PLAIN
		rd = data
	}
	return
}

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ct, rd, err := self.compress(data)
	if err != nil {
		return
	}
	if len(rd) == 0 || len(rd) >= len(data) {
		ct = CompressionType_PLAIN
		rd = data
	}
	cd := CompressedData{CompressionType: ct, Size: uint32(len(data)), RawData: rd}
	return cd.MarshalMsg(nil)
}

type CodecChain struct {
	codecs, reverseCodecs []Codec
}

// Init method initializes the codec chain.
//
// codecs are given in decryption order, so e.g.
// encrypting one should be given before compressing one.
func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	// Reverse the codec slice for encryption purposes
	rc := make([]Codec, len(codecs))
	for i, c := range codecs {
		rc[len(codecs)-i-1] = c
	}
	self.reverseCodecs = rc
	return &self
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverseCodecs {
		ret, err = c.EncodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}
