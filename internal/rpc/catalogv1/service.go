// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package catalogv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Fully-qualified names of the Catalog service and its methods.
const (
	ServiceName          = "plugscan.catalog.v1.Catalog"
	DescribeFullMethName = "/" + ServiceName + "/Describe"
)

// CatalogServer is implemented by the plugin side.
type CatalogServer interface {
	Describe(ctx context.Context, req *DescribeRequest) (*DescribeResponse, error)
}

// UnimplementedCatalogServer can be embedded for forward compatibility.
type UnimplementedCatalogServer struct{}

// Describe returns codes.Unimplemented.
func (UnimplementedCatalogServer) Describe(context.Context, *DescribeRequest) (*DescribeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Describe not implemented")
}

// CatalogClient is the host side of the Catalog service.
type CatalogClient interface {
	Describe(ctx context.Context, req *DescribeRequest, opts ...grpc.CallOption) (*DescribeResponse, error)
}

type catalogClient struct {
	cc grpc.ClientConnInterface
}

// NewCatalogClient returns a client that calls the Catalog service over cc
// using the JSON codec.
func NewCatalogClient(cc grpc.ClientConnInterface) CatalogClient {
	return &catalogClient{cc: cc}
}

func (c *catalogClient) Describe(ctx context.Context, req *DescribeRequest, opts ...grpc.CallOption) (*DescribeResponse, error) {
	out := new(DescribeResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, DescribeFullMethName, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterCatalogServer registers srv with a gRPC server.
func RegisterCatalogServer(s grpc.ServiceRegistrar, srv CatalogServer) {
	s.RegisterService(&catalogServiceDesc, srv)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DescribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CatalogServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DescribeFullMethName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CatalogServer).Describe(ctx, req.(*DescribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var catalogServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Describe",
			Handler:    describeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "plugscan/catalog/v1/catalog.go",
}
