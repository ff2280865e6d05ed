package grpcclient

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	testgrpc "google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

type testSvc struct {
	testgrpc.UnimplementedTestServiceServer
}

// UnaryCall echoes the payload and the caller's authorization metadata. A
// requested response status is returned as the call's status.
func (s *testSvc) UnaryCall(ctx context.Context, in *testgrpc.SimpleRequest) (*testgrpc.SimpleResponse, error) {
	if st := in.GetResponseStatus(); st != nil && st.GetCode() != 0 {
		return nil, status.Error(codes.Code(st.GetCode()), st.GetMessage())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			_ = grpc.SetHeader(ctx, metadata.Pairs("x-echo-auth", vals[0]))
		}
		if vals := md.Get("x-api-key"); len(vals) > 0 {
			_ = grpc.SetHeader(ctx, metadata.Pairs("x-echo-key", vals[0]))
		}
	}
	return &testgrpc.SimpleResponse{Payload: in.GetPayload()}, nil
}

func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	testgrpc.RegisterTestServiceServer(srv, &testSvc{})
	reflection.Register(srv)

	go func() {
		_ = srv.Serve(lis)
	}()

	stop := func() {
		srv.Stop()
		_ = lis.Close()
	}
	return lis.Addr().String(), stop
}
