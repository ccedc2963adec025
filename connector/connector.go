/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan 17 14:19:35 2018 mstenber
 * Last modified: Wed Apr 11 10:48:22 2018 mstenber
 * Edit time:     142 min
 *
 */

// connector package is the client side of the remote flatfs API. It
// turns gRPC status codes back into the fs error values, and exposes
// remote handles as io.ReadWriteCloser.
package connector

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/fingon/go-flatfs/fs"
	"github.com/fingon/go-flatfs/mlog"
	"github.com/fingon/go-flatfs/pb"
)

// ReadChunk is the largest read issued per request.
const ReadChunk = 64 * 1024

type Connector struct {
	Family, Address string

	// Dialer, if set, replaces the default one (for tests).
	Dialer func(context.Context, string) (net.Conn, error)

	conn   *grpc.ClientConn
	client pb.FsClient
}

func (self *Connector) target() string {
	if self.Family == "unix" {
		return "unix:" + self.Address
	}
	return self.Address
}

func (self *Connector) Init() (*Connector, error) {
	mlog.Printf2("connector/connector", "%v.Init", self.target())
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if self.Dialer != nil {
		opts = append(opts, grpc.WithContextDialer(self.Dialer))
	}
	conn, err := grpc.Dial(self.target(), opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %v", self.target())
	}
	self.conn = conn
	self.client = pb.NewFsClient(conn)
	return self, nil
}

func (self *Connector) Close() error {
	return self.conn.Close()
}

var code2error = map[codes.Code]error{
	codes.NotFound:           fs.ErrNotFound,
	codes.AlreadyExists:      fs.ErrAlreadyExists,
	codes.ResourceExhausted:  fs.ErrOutOfSpace,
	codes.InvalidArgument:    fs.ErrInvalidArgument,
	codes.FailedPrecondition: fs.ErrBusy,
	codes.Internal:           fs.ErrIOFailure,
}

func fromCode(code codes.Code, message string) error {
	if code == codes.OK {
		return nil
	}
	if err, ok := code2error[code]; ok {
		return errors.Wrap(err, message)
	}
	return errors.Errorf("%v: %s", code, message)
}

// fromStatus maps error of a call back to the fs error values;
// transport errors are returned as-is.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if _, known := code2error[st.Code()]; !known {
		return err
	}
	return fromCode(st.Code(), st.Message())
}

func (self *Connector) Format(ctx context.Context, inodes int) error {
	_, err := self.client.Format(ctx, &pb.FormatRequest{Inodes: inodes})
	return fromStatus(err)
}

func (self *Connector) Open(ctx context.Context, name, mode string) (*File, error) {
	h, err := self.client.Open(ctx, &pb.OpenRequest{Name: name, Mode: mode})
	if err != nil {
		return nil, fromStatus(err)
	}
	mlog.Printf2("connector/connector", "Open %q %v = %d", name, mode, h.Id)
	return &File{ctx: ctx, c: self, id: h.Id}, nil
}

func (self *Connector) Delete(ctx context.Context, name string) error {
	_, err := self.client.Delete(ctx, &pb.NameRequest{Name: name})
	return fromStatus(err)
}

func (self *Connector) List(ctx context.Context) ([]string, error) {
	res, err := self.client.List(ctx, &pb.Empty{})
	if err != nil {
		return nil, fromStatus(err)
	}
	return res.Names, nil
}

func (self *Connector) Info(ctx context.Context, name string) (*pb.InfoResult, error) {
	res, err := self.client.Info(ctx, &pb.NameRequest{Name: name})
	return res, fromStatus(err)
}

func (self *Connector) Stat(ctx context.Context) (*pb.StatResult, error) {
	res, err := self.client.Stat(ctx, &pb.Empty{})
	return res, fromStatus(err)
}

func (self *Connector) Sync(ctx context.Context) error {
	_, err := self.client.Sync(ctx, &pb.Empty{})
	return fromStatus(err)
}

// File is a remote handle. Read follows io.Reader conventions, so
// end of file is io.EOF.
type File struct {
	ctx context.Context
	c   *Connector
	id  uint64
}

var _ io.ReadWriteCloser = &File{}

func (self *File) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) > ReadChunk {
		b = b[:ReadChunk]
	}
	res, err := self.c.client.Read(self.ctx, &pb.ReadRequest{Handle: self.id, Size: len(b)})
	if err != nil {
		return 0, fromStatus(err)
	}
	if len(res.Data) == 0 {
		return 0, io.EOF
	}
	return copy(b, res.Data), nil
}

func (self *File) Write(b []byte) (int, error) {
	res, err := self.c.client.Write(self.ctx, &pb.WriteRequest{Handle: self.id, Data: b})
	if err != nil {
		return 0, fromStatus(err)
	}
	return res.Count, fromCode(codes.Code(res.Code), res.Message)
}

func (self *File) Seek(offset, whence int) (int, error) {
	res, err := self.c.client.Seek(self.ctx, &pb.SeekRequest{Handle: self.id, Offset: offset, Whence: whence})
	if err != nil {
		return 0, fromStatus(err)
	}
	return res.Position, nil
}

func (self *File) Size() (int, error) {
	res, err := self.c.client.Size(self.ctx, &pb.Handle{Id: self.id})
	if err != nil {
		return 0, fromStatus(err)
	}
	return res.Size, nil
}

func (self *File) Close() error {
	_, err := self.c.client.Close(self.ctx, &pb.Handle{Id: self.id})
	return fromStatus(err)
}
