package execute

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc"
	testgrpc "google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/events"
	"github.com/unkn0wn-root/reqflow/internal/wsclient"
)

type echoService struct {
	testgrpc.UnimplementedTestServiceServer
}

func (echoService) UnaryCall(ctx context.Context, in *testgrpc.SimpleRequest) (*testgrpc.SimpleResponse, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			_ = grpc.SetHeader(ctx, metadata.Pairs("x-echo-auth", vals[0]))
		}
	}
	return &testgrpc.SimpleResponse{Payload: in.GetPayload()}, nil
}

func startGRPC(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	testgrpc.RegisterTestServiceServer(srv, echoService{})
	reflection.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestRunGRPCWithInheritedBearer(t *testing.T) {
	t.Parallel()

	addr := startGRPC(t)
	col, item := singleRequest(&collection.Request{
		UID:    "g1",
		Name:   "unary",
		Type:   collection.TypeGRPC,
		Method: "/grpc.testing.TestService/UnaryCall",
		URL:    "grpc://{{host}}",
		Body:   collection.Body{Mode: collection.BodyJSON, JSON: `{"payload":{"body":"{{payload}}"}}`},
		Auth:   collection.AuthConfig{Mode: collection.AuthInherit},
		Assertions: []collection.KeyValue{
			{Name: "res.status", Value: "eq 0", Enabled: true},
		},
	})
	col.Root.Request.Auth = &collection.AuthConfig{Mode: collection.AuthBearer, Bearer: &collection.BearerAuth{Token: "t0k"}}
	col.Environment = &collection.Environment{Variables: []collection.KeyValue{
		{Name: "host", Value: addr, Enabled: true},
		{Name: "payload", Value: "aGk=", Enabled: true},
	}}

	rec := &events.Recorder{}
	res, err := newTestOrchestrator(rec).Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusReceived || res.Response.Status != "OK" {
		t.Fatalf("expected OK, got %s %q", res.Status, res.Response.Status)
	}
	if got := res.Response.Headers.Get("x-echo-auth"); got != "Bearer t0k" {
		t.Fatalf("expected bearer metadata, got %q", got)
	}
	if !strings.Contains(string(res.Response.Body), "aGk=") {
		t.Fatalf("expected echoed payload, got %s", res.Response.Body)
	}
	if len(res.Assertions) != 1 || !res.Assertions[0].Passed {
		t.Fatalf("unexpected assertions: %+v", res.Assertions)
	}
	sent := rec.OfType(events.RequestSent)
	if len(sent) != 1 || sent[0].Request.Method != "/grpc.testing.TestService/UnaryCall" {
		t.Fatalf("expected sent event with the full method, got %+v", sent)
	}
}

func TestRunGRPCDropsUnsupportedInheritedAuth(t *testing.T) {
	t.Parallel()

	addr := startGRPC(t)
	col, item := singleRequest(&collection.Request{
		UID:    "g1",
		Name:   "unary",
		Type:   collection.TypeGRPC,
		Method: "/grpc.testing.TestService/UnaryCall",
		URL:    addr,
		Auth:   collection.AuthConfig{Mode: collection.AuthInherit},
	})
	col.Root.Request.Auth = &collection.AuthConfig{Mode: collection.AuthDigest, Digest: &collection.DigestAuth{Username: "u", Password: "p"}}

	res, err := newTestOrchestrator(&events.Recorder{}).Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Notice == nil || res.Notice.Mode != collection.AuthDigest {
		t.Fatalf("expected a notice for the dropped digest auth, got %+v", res.Notice)
	}
	if got := res.Response.Headers.Get("x-echo-auth"); got != "" {
		t.Fatalf("expected no credentials, got %q", got)
	}
}

func TestRunWebSocketExchange(t *testing.T) {
	t.Parallel()

	handshakes := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes <- r
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, append([]byte("re:"), data...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	col, item := singleRequest(&collection.Request{
		UID:  "w1",
		Name: "socket",
		Type: collection.TypeWS,
		URL:  strings.TrimPrefix(srv.URL, "http://") + "/live",
		Body: collection.Body{Mode: collection.BodyWS, WS: []collection.WSMessage{
			{Name: "hello", Type: "text", Content: "hi {{who}}"},
		}},
		Auth: collection.AuthConfig{Mode: collection.AuthAPIKey, APIKey: &collection.APIKeyAuth{
			Key: "token", Value: "k1", Placement: "queryparams",
		}},
		Tests: `test("echo", function() { expect(res.status).toBe(101); });`,
	})
	col.Environment = &collection.Environment{Variables: []collection.KeyValue{{Name: "who", Value: "ada", Enabled: true}}}

	res, err := newTestOrchestrator(&events.Recorder{}).Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if handshake := <-handshakes; handshake.URL.Query().Get("token") != "k1" {
		t.Fatalf("expected api key on the handshake url, got %v", handshake.URL)
	}
	if res.Response.StatusCode != http.StatusSwitchingProtocols || res.Response.Status != "101 Switching Protocols" {
		t.Fatalf("unexpected status %d %q", res.Response.StatusCode, res.Response.Status)
	}
	var frames []wsclient.Frame
	if err := json.Unmarshal(res.Response.Body, &frames); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(frames) != 2 || frames[0].Data != "hi ada" || frames[1].Data != "re:hi ada" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	if len(res.Tests) != 1 || !res.Tests[0].Passed {
		t.Fatalf("unexpected tests: %+v", res.Tests)
	}
}

func TestRunWebSocketTreatsOAuth2AsNone(t *testing.T) {
	t.Parallel()

	authz := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	col, item := singleRequest(&collection.Request{
		UID:  "w1",
		Name: "socket",
		Type: collection.TypeWS,
		URL:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		Auth: collection.AuthConfig{Mode: collection.AuthOAuth2, OAuth2: &collection.OAuth2Config{
			GrantType: collection.GrantClientCredentials, AccessTokenURL: srv.URL + "/token",
		}},
	})

	res, err := newTestOrchestrator(&events.Recorder{}).Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Notice == nil || !strings.Contains(res.Notice.Message, "not yet supported") {
		t.Fatalf("expected inert oauth2 notice, got %+v", res.Notice)
	}
	if got := <-authz; got != "" {
		t.Fatalf("expected no authorization on the handshake, got %q", got)
	}
	if item.Request.Auth.Mode != collection.AuthOAuth2 {
		t.Fatalf("inert oauth2 must stay stored, got %q", item.Request.Auth.Mode)
	}
}

func TestRunGRPCResetsUnsupportedStoredAuth(t *testing.T) {
	t.Parallel()

	addr := startGRPC(t)
	oauth2 := collection.AuthConfig{Mode: collection.AuthOAuth2, OAuth2: &collection.OAuth2Config{
		GrantType: collection.GrantClientCredentials, AccessTokenURL: "http://127.0.0.1:1/token",
	}}
	req := &collection.Request{
		UID:    "g1",
		Name:   "unary",
		Type:   collection.TypeGRPC,
		Method: "/grpc.testing.TestService/UnaryCall",
		URL:    addr,
		Auth:   oauth2,
	}
	col, item := singleRequest(req)
	draft := item.BeginDraft()
	draft.Auth = oauth2.Clone()

	var saved []*collection.Collection
	o := newTestOrchestrator(&events.Recorder{})
	o.Persist = func(c *collection.Collection) error {
		saved = append(saved, c)
		return nil
	}

	res, err := o.Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Notice == nil || res.Notice.Mode != collection.AuthOAuth2 {
		t.Fatalf("expected a notice on the first run, got %+v", res.Notice)
	}
	if item.Request.Auth.Mode != collection.AuthNone || item.Draft.Auth.Mode != collection.AuthNone {
		t.Fatalf("expected stored and draft auth reset to none, got %q and %q", item.Request.Auth.Mode, item.Draft.Auth.Mode)
	}
	if len(saved) != 1 || saved[0] != col {
		t.Fatalf("expected the collection to be persisted once, got %d saves", len(saved))
	}

	res, err = o.Run(context.Background(), RunInput{Collection: col, Item: item})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Notice != nil || len(saved) != 1 {
		t.Fatalf("second run must not change anything, notice %+v saves %d", res.Notice, len(saved))
	}
}

func TestRunGRPCKeepsInheritedAuthStored(t *testing.T) {
	t.Parallel()

	addr := startGRPC(t)
	col, item := singleRequest(&collection.Request{
		UID:    "g1",
		Name:   "unary",
		Type:   collection.TypeGRPC,
		Method: "/grpc.testing.TestService/UnaryCall",
		URL:    addr,
		Auth:   collection.AuthConfig{Mode: collection.AuthInherit},
	})
	col.Root.Request.Auth = &collection.AuthConfig{Mode: collection.AuthDigest, Digest: &collection.DigestAuth{Username: "u", Password: "p"}}

	o := newTestOrchestrator(&events.Recorder{})
	o.Persist = func(*collection.Collection) error {
		t.Errorf("inherited fallback must not persist")
		return nil
	}
	if _, err := o.Run(context.Background(), RunInput{Collection: col, Item: item}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if item.Request.Auth.Mode != collection.AuthInherit || col.Root.Request.Auth.Mode != collection.AuthDigest {
		t.Fatalf("expected stored auth untouched, got %q and %q", item.Request.Auth.Mode, col.Root.Request.Auth.Mode)
	}
}
