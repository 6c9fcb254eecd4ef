package session

import (
	"context"

	"github.com/dmitrijs2005/credstore/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenMetadataKey is the metadata key a client puts its session token under.
const TokenMetadataKey = "session_token"

// UnaryServerInterceptor attaches the credentials of the caller's session
// token to the request context. Methods listed in public are let through
// without a token; everything else requires one.
func UnaryServerInterceptor(issuer *Issuer, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]struct{}, len(public))
	for _, m := range public {
		open[m] = struct{}{}
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, ok := open[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		var token string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(TokenMetadataKey); len(values) > 0 {
				token = values[0]
			}
		}
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing session token")
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			return nil, common.ToStatus(err)
		}

		return handler(WithCredentials(ctx, claims.Credentials), req)
	}
}
