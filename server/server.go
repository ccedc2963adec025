/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Jan 16 14:38:35 2018 mstenber
 * Last modified: Wed Apr 11 09:12:40 2018 mstenber
 * Edit time:     187 min
 *
 */

// server package exposes fs.Fs over gRPC (see pb). Open handles live
// in the server and are referred to by opaque ids.
package server

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/mlog"
	. "github.com/fingon/go-flatfs/pb"
	"github.com/fingon/go-flatfs/util"
)

type Server struct {
	Family, Address string
	Fs              *fs.Fs

	// Listener, if set, is used instead of listening on
	// Family/Address.
	Listener net.Listener

	// Limiter bounds the number of requests executed at once.
	Limiter util.ParallelLimiter

	grpcServer *grpc.Server

	lock       util.MutexLocked
	handles    map[uint64]*fs.FileTableEntry
	nextHandle util.AtomicInt
}

var _ FsServer = &Server{}

// Init starts serving in the background.
func (self *Server) Init() (*Server, error) {
	if self.Listener == nil {
		lis, err := net.Listen(self.Family, self.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "listen %s %s", self.Family, self.Address)
		}
		self.Listener = lis
	}
	mlog.Printf2("server/server", "Server at %v", self.Listener.Addr())
	self.handles = make(map[uint64]*fs.FileTableEntry)
	self.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(self.limit))
	RegisterFsServer(self.grpcServer, self)
	go func() {
		self.grpcServer.Serve(self.Listener)
	}()
	return self, nil
}

// Stop stops the server and closes the handles clients left open.
func (self *Server) Stop() {
	self.grpcServer.Stop()
	defer self.lock.Locked()()
	for id, fh := range self.handles {
		mlog.Printf2("server/server", " closing leftover handle %d", id)
		fh.Close()
	}
	self.handles = make(map[uint64]*fs.FileTableEntry)
}

func (self *Server) limit(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	defer self.Limiter.Limited()()
	mlog.Printf2("server/server", "%s %v", info.FullMethod, req)
	return handler(ctx, req)
}

// codeOf maps the fs error taxonomy to gRPC codes.
func codeOf(err error) codes.Code {
	switch errors.Cause(err) {
	case fs.ErrNotFound:
		return codes.NotFound
	case fs.ErrAlreadyExists:
		return codes.AlreadyExists
	case fs.ErrOutOfSpace:
		return codes.ResourceExhausted
	case fs.ErrInvalidArgument:
		return codes.InvalidArgument
	case fs.ErrBusy:
		return codes.FailedPrecondition
	case fs.ErrNotFormatted:
		return codes.FailedPrecondition
	}
	return codes.Internal
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	mlog.Printf2("server/server", " error %v", err)
	return status.Error(codeOf(err), err.Error())
}

func (self *Server) handle(id uint64) (*fs.FileTableEntry, error) {
	defer self.lock.Locked()()
	fh, ok := self.handles[id]
	if !ok {
		return nil, toStatus(errors.Wrapf(fs.ErrNotFound, "handle %d", id))
	}
	return fh, nil
}

func (self *Server) Format(ctx context.Context, req *FormatRequest) (*Empty, error) {
	return &Empty{}, toStatus(self.Fs.Format(req.Inodes))
}

func (self *Server) Open(ctx context.Context, req *OpenRequest) (*Handle, error) {
	fh, err := self.Fs.Open(req.Name, req.Mode)
	if err != nil {
		return nil, toStatus(err)
	}
	id := uint64(self.nextHandle.Add(1))
	defer self.lock.Locked()()
	self.handles[id] = fh
	return &Handle{Id: id}, nil
}

func (self *Server) Close(ctx context.Context, req *Handle) (*Empty, error) {
	self.lock.Lock()
	fh, ok := self.handles[req.Id]
	delete(self.handles, req.Id)
	self.lock.Unlock()
	if !ok {
		return nil, toStatus(errors.Wrapf(fs.ErrNotFound, "handle %d", req.Id))
	}
	return &Empty{}, toStatus(fh.Close())
}

func (self *Server) Read(ctx context.Context, req *ReadRequest) (*ReadResult, error) {
	fh, err := self.handle(req.Handle)
	if err != nil {
		return nil, err
	}
	if req.Size < 0 || req.Size > fs.MaxFileSize {
		return nil, toStatus(errors.Wrapf(fs.ErrInvalidArgument, "read size %d", req.Size))
	}
	b := make([]byte, req.Size)
	n, err := fh.Read(b)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReadResult{Data: b[:n]}, nil
}

// Write reports the partial count even on failure, so the error of
// the write itself travels in the result instead of the status.
func (self *Server) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	fh, err := self.handle(req.Handle)
	if err != nil {
		return nil, err
	}
	n, err := fh.Write(req.Data)
	res := &WriteResult{Count: n}
	if err != nil {
		mlog.Printf2("server/server", " write error %v after %d", err, n)
		res.Code = uint32(codeOf(err))
		res.Message = err.Error()
	}
	return res, nil
}

func (self *Server) Seek(ctx context.Context, req *SeekRequest) (*SeekResult, error) {
	fh, err := self.handle(req.Handle)
	if err != nil {
		return nil, err
	}
	pos, err := fh.Seek(req.Offset, req.Whence)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SeekResult{Position: pos}, nil
}

func (self *Server) Size(ctx context.Context, req *Handle) (*SizeResult, error) {
	fh, err := self.handle(req.Id)
	if err != nil {
		return nil, err
	}
	return &SizeResult{Size: fh.Size()}, nil
}

func (self *Server) Delete(ctx context.Context, req *NameRequest) (*Empty, error) {
	return &Empty{}, toStatus(self.Fs.Delete(req.Name))
}

func (self *Server) List(ctx context.Context, req *Empty) (*ListResult, error) {
	return &ListResult{Names: self.Fs.List()}, nil
}

func (self *Server) Info(ctx context.Context, req *NameRequest) (*InfoResult, error) {
	fi, err := self.Fs.FileInfo(req.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InfoResult{Name: fi.Name, Inumber: fi.Inumber, Length: fi.Length,
		RefCount: fi.RefCount, Flag: fi.Flag.String()}, nil
}

func (self *Server) Stat(ctx context.Context, req *Empty) (*StatResult, error) {
	st := self.Fs.Stat()
	return &StatResult{TotalBlocks: st.TotalBlocks, TotalInodes: st.TotalInodes,
		FreeBlocks: st.FreeBlocks, FreeInodes: st.FreeInodes,
		OpenHandles: st.OpenHandles}, nil
}

func (self *Server) Sync(ctx context.Context, req *Empty) (*Empty, error) {
	return &Empty{}, toStatus(self.Fs.Sync())
}
