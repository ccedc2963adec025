/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:58 2017 mstenber
 * Last modified: Tue Apr  3 09:12:31 2018 mstenber
 * Edit time:     41 min
 *
 */

package codec

import "github.com/glycerine/greenpack/msgp"

// The envelopes below are msgpack arrays; the field order is the
// wire format.

type EncryptedData struct {
	// Nonce used for AES GCM
	Nonce []byte

	// EncryptedData is AES GCM encrypted payload
	EncryptedData []byte
}

func (self *EncryptedData) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBytes(b, self.Nonce)
	b = msgp.AppendBytes(b, self.EncryptedData)
	return b, nil
}

func (self *EncryptedData) UnmarshalMsg(b []byte) (o []byte, err error) {
	var nbs msgp.NilBitsStack
	var sz uint32
	sz, b, err = nbs.ReadArrayHeaderBytes(b)
	if err != nil {
		return
	}
	if sz != 2 {
		err = msgp.ArrayError{Wanted: 2, Got: sz}
		return
	}
	self.Nonce, b, err = nbs.ReadBytesBytes(b, nil)
	if err != nil {
		return
	}
	self.EncryptedData, o, err = nbs.ReadBytesBytes(b, nil)
	return
}

type CompressionType byte

const (
	CompressionType_UNSET CompressionType = iota

	// The data has not been compressed.
	CompressionType_PLAIN

	// The data is compressed with LZ4 (block format).
	CompressionType_LZ4

	// The data is compressed with Snappy.
	CompressionType_SNAPPY
)

func (self CompressionType) String() string {
	switch self {
	case CompressionType_PLAIN:
		return "plain"
	case CompressionType_LZ4:
		return "lz4"
	case CompressionType_SNAPPY:
		return "snappy"
	}
	return "unset"
}

// ParseCompressionType is the inverse of String; empty string means
// lz4.
func ParseCompressionType(s string) (CompressionType, bool) {
	switch s {
	case "", "lz4":
		return CompressionType_LZ4, true
	case "snappy":
		return CompressionType_SNAPPY, true
	case "plain", "none":
		return CompressionType_PLAIN, true
	}
	return CompressionType_UNSET, false
}

type CompressedData struct {
	// CompressionType describes how the data has been compressed.
	CompressionType CompressionType

	// Size is the length of the uncompressed data
	Size uint32

	// RawData is the (possibly compressed) payload
	RawData []byte
}

func (self *CompressedData) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendByte(b, byte(self.CompressionType))
	b = msgp.AppendUint32(b, self.Size)
	b = msgp.AppendBytes(b, self.RawData)
	return b, nil
}

func (self *CompressedData) UnmarshalMsg(b []byte) (o []byte, err error) {
	var nbs msgp.NilBitsStack
	var sz uint32
	sz, b, err = nbs.ReadArrayHeaderBytes(b)
	if err != nil {
		return
	}
	if sz != 3 {
		err = msgp.ArrayError{Wanted: 3, Got: sz}
		return
	}
	var ct byte
	ct, b, err = nbs.ReadByteBytes(b)
	if err != nil {
		return
	}
	self.CompressionType = CompressionType(ct)
	self.Size, b, err = nbs.ReadUint32Bytes(b)
	if err != nil {
		return
	}
	self.RawData, o, err = nbs.ReadBytesBytes(b, nil)
	return
}

type AuthenticatedData struct {
	// Tag is AES-CMAC of additional data + Data
	Tag []byte

	Data []byte
}

func (self *AuthenticatedData) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBytes(b, self.Tag)
	b = msgp.AppendBytes(b, self.Data)
	return b, nil
}

func (self *AuthenticatedData) UnmarshalMsg(b []byte) (o []byte, err error) {
	var nbs msgp.NilBitsStack
	var sz uint32
	sz, b, err = nbs.ReadArrayHeaderBytes(b)
	if err != nil {
		return
	}
	if sz != 2 {
		err = msgp.ArrayError{Wanted: 2, Got: sz}
		return
	}
	self.Tag, b, err = nbs.ReadBytesBytes(b, nil)
	if err != nil {
		return
	}
	self.Data, o, err = nbs.ReadBytesBytes(b, nil)
	return
}
