/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Tue Apr 10 13:55:20 2018 mstenber
 * Last modified: Tue Apr 10 15:31:44 2018 mstenber
 * Edit time:     52 min
 *
 */

package pb

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "flatfs.Fs"

// FsServer is what the server side implements.
type FsServer interface {
	Format(context.Context, *FormatRequest) (*Empty, error)
	Open(context.Context, *OpenRequest) (*Handle, error)
	Close(context.Context, *Handle) (*Empty, error)
	Read(context.Context, *ReadRequest) (*ReadResult, error)
	Write(context.Context, *WriteRequest) (*WriteResult, error)
	Seek(context.Context, *SeekRequest) (*SeekResult, error)
	Size(context.Context, *Handle) (*SizeResult, error)
	Delete(context.Context, *NameRequest) (*Empty, error)
	List(context.Context, *Empty) (*ListResult, error)
	Info(context.Context, *NameRequest) (*InfoResult, error)
	Stat(context.Context, *Empty) (*StatResult, error)
	Sync(context.Context, *Empty) (*Empty, error)
}

// FsClient is the client side of FsServer.
type FsClient interface {
	Format(ctx context.Context, in *FormatRequest, opts ...grpc.CallOption) (*Empty, error)
	Open(ctx context.Context, in *OpenRequest, opts ...grpc.CallOption) (*Handle, error)
	Close(ctx context.Context, in *Handle, opts ...grpc.CallOption) (*Empty, error)
	Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResult, error)
	Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResult, error)
	Seek(ctx context.Context, in *SeekRequest, opts ...grpc.CallOption) (*SeekResult, error)
	Size(ctx context.Context, in *Handle, opts ...grpc.CallOption) (*SizeResult, error)
	Delete(ctx context.Context, in *NameRequest, opts ...grpc.CallOption) (*Empty, error)
	List(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListResult, error)
	Info(ctx context.Context, in *NameRequest, opts ...grpc.CallOption) (*InfoResult, error)
	Stat(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatResult, error)
	Sync(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error)
}

type handlerFunc func(srv FsServer, ctx context.Context, req interface{}) (interface{}, error)

// unary produces grpc.MethodHandler for one method; newRequest
// returns the empty request to decode into.
func unary(method string, newRequest func() interface{}, cb handlerFunc) grpc.MethodDesc {
	handler := func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newRequest()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return cb(srv.(FsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return cb(srv.(FsServer), ctx, req)
		})
	}
	return grpc.MethodDesc{MethodName: method, Handler: handler}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Format", func() interface{} { return &FormatRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Format(ctx, in.(*FormatRequest))
			}),
		unary("Open", func() interface{} { return &OpenRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Open(ctx, in.(*OpenRequest))
			}),
		unary("Close", func() interface{} { return &Handle{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Close(ctx, in.(*Handle))
			}),
		unary("Read", func() interface{} { return &ReadRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Read(ctx, in.(*ReadRequest))
			}),
		unary("Write", func() interface{} { return &WriteRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Write(ctx, in.(*WriteRequest))
			}),
		unary("Seek", func() interface{} { return &SeekRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Seek(ctx, in.(*SeekRequest))
			}),
		unary("Size", func() interface{} { return &Handle{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Size(ctx, in.(*Handle))
			}),
		unary("Delete", func() interface{} { return &NameRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Delete(ctx, in.(*NameRequest))
			}),
		unary("List", func() interface{} { return &Empty{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.List(ctx, in.(*Empty))
			}),
		unary("Info", func() interface{} { return &NameRequest{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Info(ctx, in.(*NameRequest))
			}),
		unary("Stat", func() interface{} { return &Empty{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Stat(ctx, in.(*Empty))
			}),
		unary("Sync", func() interface{} { return &Empty{} },
			func(s FsServer, ctx context.Context, in interface{}) (interface{}, error) {
				return s.Sync(ctx, in.(*Empty))
			}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flatfs",
}

func RegisterFsServer(s grpc.ServiceRegistrar, srv FsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type fsClient struct {
	cc grpc.ClientConnInterface
}

// NewFsClient returns client which calls the server over cc using
// the CBOR codec.
func NewFsClient(cc grpc.ClientConnInterface) FsClient {
	return &fsClient{cc}
}

func (self *fsClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	return self.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (self *fsClient) Format(ctx context.Context, in *FormatRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := &Empty{}
	return out, self.invoke(ctx, "Format", in, out, opts)
}

func (self *fsClient) Open(ctx context.Context, in *OpenRequest, opts ...grpc.CallOption) (*Handle, error) {
	out := &Handle{}
	return out, self.invoke(ctx, "Open", in, out, opts)
}

func (self *fsClient) Close(ctx context.Context, in *Handle, opts ...grpc.CallOption) (*Empty, error) {
	out := &Empty{}
	return out, self.invoke(ctx, "Close", in, out, opts)
}

func (self *fsClient) Read(ctx context.Context, in *ReadRequest, opts ...grpc.CallOption) (*ReadResult, error) {
	out := &ReadResult{}
	return out, self.invoke(ctx, "Read", in, out, opts)
}

func (self *fsClient) Write(ctx context.Context, in *WriteRequest, opts ...grpc.CallOption) (*WriteResult, error) {
	out := &WriteResult{}
	return out, self.invoke(ctx, "Write", in, out, opts)
}

func (self *fsClient) Seek(ctx context.Context, in *SeekRequest, opts ...grpc.CallOption) (*SeekResult, error) {
	out := &SeekResult{}
	return out, self.invoke(ctx, "Seek", in, out, opts)
}

func (self *fsClient) Size(ctx context.Context, in *Handle, opts ...grpc.CallOption) (*SizeResult, error) {
	out := &SizeResult{}
	return out, self.invoke(ctx, "Size", in, out, opts)
}

func (self *fsClient) Delete(ctx context.Context, in *NameRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := &Empty{}
	return out, self.invoke(ctx, "Delete", in, out, opts)
}

func (self *fsClient) List(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListResult, error) {
	out := &ListResult{}
	return out, self.invoke(ctx, "List", in, out, opts)
}

func (self *fsClient) Info(ctx context.Context, in *NameRequest, opts ...grpc.CallOption) (*InfoResult, error) {
	out := &InfoResult{}
	return out, self.invoke(ctx, "Info", in, out, opts)
}

func (self *fsClient) Stat(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatResult, error) {
	out := &StatResult{}
	return out, self.invoke(ctx, "Stat", in, out, opts)
}

func (self *fsClient) Sync(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	out := &Empty{}
	return out, self.invoke(ctx, "Sync", in, out, opts)
}
