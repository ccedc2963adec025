/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr 10 13:20:52 2018 mstenber
 * Last modified: Tue Apr 10 13:51:06 2018 mstenber
 * Edit time:     17 min
 *
 */

package pb

import (
	"github.com/ugorji/go/codec"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the CBOR codec.
const CodecName = "cbor"

type cborCodec struct {
	handle codec.CborHandle
}

func (self *cborCodec) Marshal(v interface{}) ([]byte, error) {
	var b []byte
	err := codec.NewEncoderBytes(&b, &self.handle).Encode(v)
	return b, err
}

func (self *cborCodec) Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, &self.handle).Decode(v)
}

func (self *cborCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(&cborCodec{})
}

// CallOption makes client calls use the CBOR codec. The server picks
// the codec by the content-subtype of the request.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
