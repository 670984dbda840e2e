package grpc

import (
	"context"

	"bazaar/internal/auth"
	"bazaar/internal/market"
	"bazaar/internal/orders"
	"bazaar/internal/returns"

	"github.com/shopspring/decimal"
	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// OrderService is the order behavior exposed over gRPC.
type OrderService interface {
	Create(ctx context.Context, buyerID string, productIDs []string) market.Result
	Ship(ctx context.Context, orderID, sellerID string) market.Result
	ConfirmReceipt(ctx context.Context, orderID, buyerID string) market.Result
	Get(ctx context.Context, orderID, userID string) market.Result
	List(ctx context.Context, userID string, role orders.Role) market.Result
}

// PaymentService is the payment behavior exposed over gRPC.
type PaymentService interface {
	CreatePayment(ctx context.Context, buyerID string, orderIDs []string, declared decimal.Decimal, method market.PaymentMethod) market.Result
	ProcessPayment(ctx context.Context, paymentID, password, userID string) market.Result
	HandleTimeout(ctx context.Context, paymentID string) market.Result
	CancelPayment(ctx context.Context, paymentID, userID string) market.Result
	FailPayment(ctx context.Context, paymentID, reason string) market.Result
	GetPayment(ctx context.Context, paymentID, userID string) market.Result
}

// ReturnService is the return behavior exposed over gRPC.
type ReturnService interface {
	ApplyForReturn(ctx context.Context, orderID, reason, buyerID string) market.Result
	ProcessReturnRequest(ctx context.Context, orderID string, decision returns.Decision, sellerID string) market.Result
}

// MarketplaceServer adapts the marketplace services to gRPC. Business
// failures travel inside the response struct; only transport and auth
// problems become gRPC status errors.
type MarketplaceServer struct {
	orders   OrderService
	payments PaymentService
	returns  ReturnService
}

// NewMarketplaceServer constructs a MarketplaceServer.
func NewMarketplaceServer(orders OrderService, payments PaymentService, returns ReturnService) *MarketplaceServer {
	return &MarketplaceServer{orders: orders, payments: payments, returns: returns}
}

// Register attaches the marketplace service to s.
func Register(s *grpcpkg.Server, srv *MarketplaceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func (s *MarketplaceServer) CreateOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.orders.Create(ctx, caller(ctx, in), listField(in, "productIds")))
}

func (s *MarketplaceServer) ShipOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.orders.Ship(ctx, stringField(in, "orderId"), caller(ctx, in)))
}

func (s *MarketplaceServer) ConfirmReceipt(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.orders.ConfirmReceipt(ctx, stringField(in, "orderId"), caller(ctx, in)))
}

func (s *MarketplaceServer) GetOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.orders.Get(ctx, stringField(in, "orderId"), caller(ctx, in)))
}

func (s *MarketplaceServer) ListOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.orders.List(ctx, caller(ctx, in), orders.Role(stringField(in, "role"))))
}

func (s *MarketplaceServer) CreatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	amount, ok := decimalField(in, "paymentAmount")
	if !ok {
		return encodeResult(market.Fail(market.CodeInvalidParameter, "paymentAmount must be a decimal number"))
	}
	return encodeResult(s.payments.CreatePayment(ctx, caller(ctx, in), listField(in, "orderIds"),
		amount, market.PaymentMethod(stringField(in, "paymentMethod"))))
}

func (s *MarketplaceServer) ProcessPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.payments.ProcessPayment(ctx, stringField(in, "paymentId"), stringField(in, "password"), caller(ctx, in)))
}

func (s *MarketplaceServer) ExpirePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.payments.HandleTimeout(ctx, stringField(in, "paymentId")))
}

func (s *MarketplaceServer) CancelPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.payments.CancelPayment(ctx, stringField(in, "paymentId"), caller(ctx, in)))
}

// FailPayment is the gateway callback; only service tokens may call it.
func (s *MarketplaceServer) FailPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !auth.IsService(ctx) {
		return nil, status.Error(codes.PermissionDenied, "FailPayment requires a service token")
	}
	return encodeResult(s.payments.FailPayment(ctx, stringField(in, "paymentId"), stringField(in, "reason")))
}

func (s *MarketplaceServer) GetPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.payments.GetPayment(ctx, stringField(in, "paymentId"), caller(ctx, in)))
}

func (s *MarketplaceServer) ApplyForReturn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encodeResult(s.returns.ApplyForReturn(ctx, stringField(in, "orderId"), stringField(in, "reason"), caller(ctx, in)))
}

func (s *MarketplaceServer) ProcessReturn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	decision := returns.Decision{
		Approve:      boolField(in, "approve"),
		RejectReason: stringField(in, "rejectReason"),
	}
	return encodeResult(s.returns.ProcessReturnRequest(ctx, stringField(in, "orderId"), decision, caller(ctx, in)))
}

// caller prefers the authenticated user; without auth the request names it.
func caller(ctx context.Context, in *structpb.Struct) string {
	if userID, ok := auth.UserIDFrom(ctx); ok {
		return userID
	}
	return stringField(in, "userId")
}
