package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// GRPCCode maps an error kind to a gRPC status code.
func GRPCCode(kind ErrorKind) codes.Code {
	switch kind {
	case KindMissing, KindInvalid, KindExpired, KindRevoked:
		return codes.Unauthenticated
	case KindForbidden:
		return codes.PermissionDenied
	case KindRateLimited:
		return codes.ResourceExhausted
	case KindValidation:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// GRPCStatus converts err into a gRPC status error.
func GRPCStatus(err error) error {
	ae := AsError(err)
	if ae == nil {
		return nil
	}
	msg := ae.Message
	if ae.Kind == KindInternal {
		msg = KindInternal.defaultMessage()
	}
	return status.Error(GRPCCode(ae.Kind), msg)
}

// RequestFromGRPC builds an AuthRequest from incoming metadata and the
// peer address.
func RequestFromGRPC(ctx context.Context) *AuthRequest {
	headers := http.Header{}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for k, values := range md {
			for _, v := range values {
				headers.Add(k, v)
			}
		}
	}
	req := &AuthRequest{Headers: headers}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		req.RemoteAddr = p.Addr.String()
	}
	return req
}

// UnaryServerInterceptor authenticates every unary call and stores the
// identity in the handler's context.
func UnaryServerInterceptor(authn RequestAuthenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id, err := authn.Authenticate(ctx, RequestFromGRPC(ctx))
		if err != nil {
			return nil, GRPCStatus(err)
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// StreamServerInterceptor authenticates every stream.
func StreamServerInterceptor(authn RequestAuthenticator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		id, err := authn.Authenticate(ctx, RequestFromGRPC(ctx))
		if err != nil {
			return GRPCStatus(err)
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: WithIdentity(ctx, id)})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }
