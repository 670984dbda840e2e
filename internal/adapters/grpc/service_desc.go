package grpc

import (
	"context"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bazaar.market.v1.MarketplaceService"

// MarketplaceHandler is the server-side surface of the marketplace service.
type MarketplaceHandler interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShipOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExpirePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FailPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyForReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessReturn(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type handlerFunc func(MarketplaceHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call handlerFunc) grpcpkg.MethodDesc {
	return grpcpkg.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpcpkg.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(MarketplaceHandler)
			if interceptor == nil {
				return call(h, ctx, in)
			}
			info := &grpcpkg.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(h, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the marketplace service for grpc.Server.RegisterService.
var ServiceDesc = grpcpkg.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketplaceHandler)(nil),
	Methods: []grpcpkg.MethodDesc{
		unary("CreateOrder", MarketplaceHandler.CreateOrder),
		unary("ShipOrder", MarketplaceHandler.ShipOrder),
		unary("ConfirmReceipt", MarketplaceHandler.ConfirmReceipt),
		unary("GetOrder", MarketplaceHandler.GetOrder),
		unary("ListOrders", MarketplaceHandler.ListOrders),
		unary("CreatePayment", MarketplaceHandler.CreatePayment),
		unary("ProcessPayment", MarketplaceHandler.ProcessPayment),
		unary("ExpirePayment", MarketplaceHandler.ExpirePayment),
		unary("CancelPayment", MarketplaceHandler.CancelPayment),
		unary("FailPayment", MarketplaceHandler.FailPayment),
		unary("GetPayment", MarketplaceHandler.GetPayment),
		unary("ApplyForReturn", MarketplaceHandler.ApplyForReturn),
		unary("ProcessReturn", MarketplaceHandler.ProcessReturn),
	},
	Streams:  []grpcpkg.StreamDesc{},
	Metadata: "bazaar/market/v1/marketplace.proto",
}

// Invoke calls a marketplace method from a client connection.
func Invoke(ctx context.Context, cc grpcpkg.ClientConnInterface, method string, in *structpb.Struct, opts ...grpcpkg.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
