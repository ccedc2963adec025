/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr 10 13:02:11 2018 mstenber
 * Last modified: Tue Apr 10 14:40:37 2018 mstenber
 * Edit time:     38 min
 *
 */

// pb package contains the wire messages of the remote flatfs API,
// and the gRPC glue to carry them. The messages are plain structs;
// the CBOR codec (see codec.go) takes care of the encoding.
package pb

type Empty struct{}

type FormatRequest struct {
	Inodes int `codec:"inodes"`
}

type OpenRequest struct {
	Name string `codec:"name"`
	Mode string `codec:"mode"`
}

// Handle identifies an open file within one server.
type Handle struct {
	Id uint64 `codec:"id"`
}

type ReadRequest struct {
	Handle uint64 `codec:"handle"`
	Size   int    `codec:"size"`
}

type ReadResult struct {
	Data []byte `codec:"data"`
}

type WriteRequest struct {
	Handle uint64 `codec:"handle"`
	Data   []byte `codec:"data"`
}

// WriteResult has non-zero Code (google.golang.org/grpc/codes) if
// the write stopped early.
type WriteResult struct {
	Count   int    `codec:"count"`
	Code    uint32 `codec:"code"`
	Message string `codec:"message"`
}

type SeekRequest struct {
	Handle uint64 `codec:"handle"`
	Offset int    `codec:"offset"`
	Whence int    `codec:"whence"`
}

type SeekResult struct {
	Position int `codec:"position"`
}

type SizeResult struct {
	Size int `codec:"size"`
}

type NameRequest struct {
	Name string `codec:"name"`
}

type ListResult struct {
	Names []string `codec:"names"`
}

type InfoResult struct {
	Name     string `codec:"name"`
	Inumber  int    `codec:"inumber"`
	Length   int    `codec:"length"`
	RefCount int    `codec:"refcount"`
	Flag     string `codec:"flag"`
}

type StatResult struct {
	TotalBlocks int `codec:"total_blocks"`
	TotalInodes int `codec:"total_inodes"`
	FreeBlocks  int `codec:"free_blocks"`
	FreeInodes  int `codec:"free_inodes"`
	OpenHandles int `codec:"open_handles"`
}
