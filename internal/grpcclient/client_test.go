package grpcclient

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/unkn0wn-root/reqflow/internal/auth"
	"github.com/unkn0wn-root/reqflow/internal/collection"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw    string
		addr   string
		secure bool
	}{
		{"localhost:50051", "localhost:50051", false},
		{"grpc://localhost:50051", "localhost:50051", false},
		{"grpcs://api.example.com", "api.example.com:443", true},
		{"grpcs://api.example.com:8443/ignored", "api.example.com:8443", true},
	}
	for _, tc := range cases {
		addr, secure, err := ParseTarget(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if addr != tc.addr || secure != tc.secure {
			t.Fatalf("parse %q: got %q secure=%v", tc.raw, addr, secure)
		}
	}
	if _, _, err := ParseTarget("ftp://host"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, _, err := ParseTarget("  "); err == nil {
		t.Fatalf("expected empty target error")
	}
}

func TestInvokeUnaryViaReflection(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	md, err := Metadata(http.Header{"X-Trace": {"t1"}}, &auth.Prepared{
		Basic: &collection.BasicAuth{Username: "ada", Password: "pw"},
		Query: []auth.QueryParam{{Key: "X-Api-Key", Value: "k1"}},
	})
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	resp, err := NewClient(nil).Invoke(context.Background(), Call{
		Target:     "grpc://" + addr,
		FullMethod: "/grpc.testing.TestService/UnaryCall",
		Message:    `{"payload":{"body":"aGk="}}`,
		Metadata:   md,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected OK, got %s %s", resp.StatusCode, resp.StatusMessage)
	}
	if !strings.Contains(string(resp.Body), `"aGk="`) {
		t.Fatalf("expected echoed payload, got %s", resp.Body)
	}
	if got := resp.Headers["x-echo-auth"]; len(got) != 1 || got[0] != "Basic YWRhOnB3" {
		t.Fatalf("expected basic credentials in metadata, got %v", got)
	}
	if got := resp.Headers["x-echo-key"]; len(got) != 1 || got[0] != "k1" {
		t.Fatalf("expected api key in metadata, got %v", got)
	}
}

func TestInvokeReturnsServerStatus(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	resp, err := NewClient(nil).Invoke(context.Background(), Call{
		Target:     addr,
		FullMethod: "grpc.testing.TestService/UnaryCall",
		Message:    `{"responseStatus":{"code":5,"message":"no such thing"}}`,
	})
	if err != nil {
		t.Fatalf("server status must not be an error: %v", err)
	}
	if resp.StatusCode != codes.NotFound || resp.StatusMessage != "no such thing" {
		t.Fatalf("unexpected status %s %q", resp.StatusCode, resp.StatusMessage)
	}
}

func TestInvokeRejectsStreamingMethod(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	_, err := NewClient(nil).Invoke(context.Background(), Call{
		Target:     addr,
		FullMethod: "/grpc.testing.TestService/FullDuplexCall",
	})
	if err == nil || !strings.Contains(err.Error(), "streaming") {
		t.Fatalf("expected streaming error, got %v", err)
	}
}

func TestInvokeBadMethodName(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil).Invoke(context.Background(), Call{Target: "localhost:1", FullMethod: "UnaryCall"})
	if err == nil || !strings.Contains(err.Error(), "/package.Service/Method") {
		t.Fatalf("expected method format error, got %v", err)
	}
}

func TestFetchDescriptorsReflectionError(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	_, err = fetchDescriptors(context.Background(), conn, "grpc.testing.MissingService")
	if err == nil {
		t.Fatalf("expected reflection error")
	}
	if !strings.Contains(err.Error(), "grpc reflection error") {
		t.Fatalf("expected reflection error detail, got %v", err)
	}
}
