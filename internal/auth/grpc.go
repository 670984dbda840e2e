package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor rejects calls without a valid bearer token and
// stores the caller's user id on the context. Methods listed in public
// skip the check.
func UnaryServerInterceptor(issuer *Issuer, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]struct{}, len(public))
	for _, method := range public {
		open[method] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := open[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		claims, err := claimsFromMetadata(ctx, issuer)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		ctx = WithUserID(ctx, claims.UserID)
		if claims.Role != "" {
			ctx = WithRole(ctx, claims.Role)
		}
		return handler(ctx, req)
	}
}

func claimsFromMetadata(ctx context.Context, issuer *Issuer) (*Claims, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, ErrMissingToken
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, ErrMissingToken
	}
	raw := bearer(values[0])
	if raw == "" {
		return nil, ErrMissingToken
	}
	return issuer.ParseToken(raw)
}
