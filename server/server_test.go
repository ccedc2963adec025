/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Apr 11 09:30:12 2018 mstenber
 * Last modified: Wed Apr 11 09:58:41 2018 mstenber
 * Edit time:     21 min
 *
 */

package server

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stvp/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/pb"
	"github.com/fingon/go-flatfs/storage"
	"github.com/fingon/go-flatfs/storage/inmemory"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()
	for err, code := range map[error]codes.Code{
		fs.ErrNotFound:         codes.NotFound,
		fs.ErrAlreadyExists:    codes.AlreadyExists,
		fs.ErrOutOfSpace:       codes.ResourceExhausted,
		fs.ErrInvalidArgument:  codes.InvalidArgument,
		fs.ErrBusy:             codes.FailedPrecondition,
		fs.ErrIOFailure:        codes.Internal,
		errors.New("whatever"): codes.Internal,
	} {
		assert.Equal(t, codeOf(errors.Wrapf(err, "context")), code)
	}
	assert.Nil(t, toStatus(nil))
	st, ok := status.FromError(toStatus(fs.ErrNotFound))
	assert.True(t, ok)
	assert.Equal(t, st.Code(), codes.NotFound)
}

// Handlers can be driven directly, without transport.
func TestServerHandles(t *testing.T) {
	t.Parallel()
	be := inmemory.NewInMemoryBackend()
	assert.Nil(t, be.Init(storage.BackendConfiguration{BlockCount: 100}))
	myfs, err := fs.NewFs(be)
	assert.Nil(t, err)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	s, err := (&Server{Fs: myfs, Listener: lis}).Init()
	assert.Nil(t, err)
	ctx := context.Background()

	h1, err := s.Open(ctx, &pb.OpenRequest{Name: "a", Mode: "w"})
	assert.Nil(t, err)
	h2, err := s.Open(ctx, &pb.OpenRequest{Name: "a", Mode: "r"})
	assert.Nil(t, err)
	assert.True(t, h1.Id != h2.Id)

	wr, err := s.Write(ctx, &pb.WriteRequest{Handle: h1.Id, Data: []byte("abc")})
	assert.Nil(t, err)
	assert.Equal(t, wr.Count, 3)
	assert.Equal(t, wr.Code, uint32(0))

	wr, err = s.Write(ctx, &pb.WriteRequest{Handle: h2.Id, Data: []byte("abc")})
	assert.Nil(t, err)
	assert.Equal(t, wr.Count, 0)
	assert.Equal(t, codes.Code(wr.Code), codes.InvalidArgument)

	rr, err := s.Read(ctx, &pb.ReadRequest{Handle: h2.Id, Size: 10})
	assert.Nil(t, err)
	assert.Equal(t, string(rr.Data), "abc")
	_, err = s.Read(ctx, &pb.ReadRequest{Handle: h2.Id, Size: -1})
	assert.Equal(t, status.Code(err), codes.InvalidArgument)

	_, err = s.Close(ctx, h1)
	assert.Nil(t, err)
	_, err = s.Close(ctx, h1)
	assert.Equal(t, status.Code(err), codes.NotFound)
	_, err = s.Size(ctx, h1)
	assert.Equal(t, status.Code(err), codes.NotFound)

	// Leftover handle is closed with the server
	assert.Equal(t, myfs.Stat().OpenHandles, 1)
	s.Stop()
	assert.Equal(t, myfs.Stat().OpenHandles, 0)
	assert.Nil(t, myfs.Close())
}
