package auth

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestGRPCCode(t *testing.T) {
	tests := map[ErrorKind]codes.Code{
		KindMissing:     codes.Unauthenticated,
		KindRevoked:     codes.Unauthenticated,
		KindForbidden:   codes.PermissionDenied,
		KindRateLimited: codes.ResourceExhausted,
		KindValidation:  codes.InvalidArgument,
		KindInternal:    codes.Internal,
	}
	for kind, want := range tests {
		if got := GRPCCode(kind); got != want {
			t.Errorf("GRPCCode(%s) = %v, want %v", kind, got, want)
		}
	}
	if err := GRPCStatus(nil); err != nil {
		t.Errorf("GRPCStatus(nil) = %v, want nil", err)
	}
}

func incoming(md metadata.MD) context.Context {
	ctx := metadata.NewIncomingContext(context.Background(), md)
	return peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.10"), Port: 4000}})
}

func TestUnaryServerInterceptor(t *testing.T) {
	h := newHarness(t, nil)
	pair, err := h.svc.IssueTokens(context.Background(), "42", nil)
	if err != nil {
		t.Fatalf("IssueTokens() error = %v", err)
	}

	interceptor := UnaryServerInterceptor(h.svc)
	handler := func(ctx context.Context, _ any) (any, error) {
		return UserIDFromContext(ctx), nil
	}

	got, err := interceptor(incoming(metadata.Pairs("authorization", "Bearer "+pair.AccessToken)), nil, &grpc.UnaryServerInfo{}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if got != "42" {
		t.Errorf("handler saw user %v, want 42", got)
	}

	_, err = interceptor(incoming(metadata.MD{}), nil, &grpc.UnaryServerInfo{}, handler)
	if code := status.Code(err); code != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", code)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestStreamServerInterceptor(t *testing.T) {
	h := newHarness(t, nil)
	created, err := h.svc.CreateAPIKey(context.Background(), "7", "sync", nil, APIKeyOptions{})
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	interceptor := StreamServerInterceptor(h.svc)
	var seen string
	handler := func(_ any, ss grpc.ServerStream) error {
		seen = UserIDFromContext(ss.Context())
		return nil
	}

	err = interceptor(nil, fakeStream{ctx: incoming(metadata.Pairs("x-api-key", created.Key))}, &grpc.StreamServerInfo{}, handler)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if seen != "7" {
		t.Errorf("handler saw user %q, want 7", seen)
	}
}

func TestRequestFromGRPC(t *testing.T) {
	req := RequestFromGRPC(incoming(metadata.Pairs("x-api-key", "wack_1")))
	if got := req.GetHeader("X-API-Key"); got != "wack_1" {
		t.Errorf("X-API-Key = %q", got)
	}
	if got := req.ClientIP(); got != "192.0.2.10" {
		t.Errorf("ClientIP() = %q", got)
	}
}
