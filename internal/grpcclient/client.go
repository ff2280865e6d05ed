package grpcclient

import (
	"context"
	"crypto/tls"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// Call is one unary invocation. Message is the request in protobuf JSON form.
type Call struct {
	Target     string
	FullMethod string
	Message    string
	Metadata   metadata.MD
	// TLS is used for grpcs:// targets. Nil means the system defaults.
	TLS     *tls.Config
	Timeout time.Duration
}

type Response struct {
	Body          []byte
	Headers       map[string][]string
	Trailers      map[string][]string
	StatusCode    codes.Code
	StatusMessage string
	Duration      time.Duration
}

// OK reports whether the call completed with status OK.
func (r *Response) OK() bool { return r != nil && r.StatusCode == codes.OK }

type Client struct {
	log logr.Logger
}

func NewClient(log *logr.Logger) *Client {
	c := &Client{log: logr.Discard()}
	if log != nil {
		c.log = *log
	}
	return c
}

// ParseTarget splits a target into a dial address and whether TLS is used.
// grpcs:// selects TLS. grpc:// and bare host:port are plaintext.
func ParseTarget(raw string) (addr string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errdef.New(errdef.CodeHTTP, "grpc target not specified")
	}
	if !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, errdef.Wrap(errdef.CodeHTTP, err, "parse grpc target")
	}
	switch strings.ToLower(u.Scheme) {
	case "grpc", "http":
	case "grpcs", "https":
		secure = true
	default:
		return "", false, errdef.New(errdef.CodeHTTP, "unsupported grpc target scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", false, errdef.New(errdef.CodeHTTP, "grpc target %q has no host", raw)
	}
	addr = u.Host
	if u.Port() == "" {
		if secure {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}
	return addr, secure, nil
}

// Invoke resolves the method through server reflection and performs a unary
// call. A call the server answers with a non-OK status returns a response and
// a nil error. Transport failures, cancellation and deadlines are errors.
func (c *Client) Invoke(parent context.Context, call Call) (resp *Response, err error) {
	addr, secure, err := ParseTarget(call.Target)
	if err != nil {
		return nil, err
	}
	service, method, err := splitMethod(call.FullMethod)
	if err != nil {
		return nil, err
	}

	ctx := parent
	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, call.Timeout)
		defer cancel()
	}

	creds := insecure.NewCredentials()
	if secure {
		cfg := call.TLS
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		creds = credentials.NewTLS(cfg)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "dial grpc target")
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = errdef.Wrap(errdef.CodeHTTP, closeErr, "close grpc connection")
		}
	}()

	log := c.log.WithValues("target", addr, "method", "/"+service+"/"+method)
	log.V(1).Info("resolving grpc method")
	desc, err := resolveMethod(ctx, conn, service, method)
	if err != nil {
		return nil, callErr(parent, err)
	}

	in := dynamicpb.NewMessage(desc.Input())
	if msg := strings.TrimSpace(call.Message); msg != "" {
		if err := protojson.Unmarshal([]byte(msg), in); err != nil {
			return nil, errdef.Wrap(errdef.CodeParse, err, "decode grpc request body")
		}
	}
	if len(call.Metadata) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, call.Metadata)
	}

	var header, trailer metadata.MD
	out := dynamicpb.NewMessage(desc.Output())
	start := time.Now()
	invokeErr := conn.Invoke(ctx, "/"+service+"/"+method, in, out, grpc.Header(&header), grpc.Trailer(&trailer))
	resp = &Response{
		Headers:    copyMetadata(header),
		Trailers:   copyMetadata(trailer),
		StatusCode: codes.OK,
		Duration:   time.Since(start),
	}
	if invokeErr != nil {
		st := status.Convert(invokeErr)
		resp.StatusCode, resp.StatusMessage = st.Code(), st.Message()
		switch st.Code() {
		case codes.Unavailable, codes.Canceled, codes.DeadlineExceeded:
			return resp, callErr(parent, errdef.Wrap(errdef.CodeHTTP, invokeErr, "invoke grpc method"))
		}
		log.V(1).Info("grpc call returned status", "code", st.Code().String())
		return resp, nil
	}

	body, err := protojson.MarshalOptions{Multiline: true, EmitUnpopulated: true}.Marshal(out)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "encode grpc response")
	}
	resp.Body = body
	resp.StatusMessage = "OK"
	return resp, nil
}

func callErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "grpc call cancelled")
	}
	return err
}

// splitMethod accepts /pkg.Service/Method and pkg.Service/Method.
func splitMethod(full string) (service, method string, err error) {
	s := strings.TrimPrefix(strings.TrimSpace(full), "/")
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", errdef.New(errdef.CodeHTTP, "grpc method %q must look like /package.Service/Method", full)
	}
	return s[:idx], s[idx+1:], nil
}

func resolveMethod(ctx context.Context, conn *grpc.ClientConn, service, method string) (protoreflect.MethodDescriptor, error) {
	set, err := fetchDescriptors(ctx, conn, service)
	if err != nil {
		return nil, err
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "build descriptors from reflection")
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "service %s not found", service)
	}
	svc, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, errdef.New(errdef.CodeHTTP, "descriptor for %s is not a service", service)
	}
	md := svc.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, errdef.New(errdef.CodeHTTP, "method %s not found on %s", method, service)
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return nil, errdef.New(errdef.CodeHTTP, "method %s/%s is streaming; only unary calls are supported", service, method)
	}
	return md, nil
}

func fetchDescriptors(ctx context.Context, conn *grpc.ClientConn, symbol string) (set *descriptorpb.FileDescriptorSet, err error) {
	stream, err := reflectpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "open reflection stream")
	}
	defer func() {
		if closeErr := stream.CloseSend(); closeErr != nil && err == nil {
			err = errdef.Wrap(errdef.CodeHTTP, closeErr, "close reflection stream")
		}
	}()

	req := &reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	}
	if err := stream.Send(req); err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "send reflection request")
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "receive reflection response")
	}
	if errResp := res.GetErrorResponse(); errResp != nil {
		code := codes.Code(errResp.GetErrorCode()).String()
		if msg := strings.TrimSpace(errResp.GetErrorMessage()); msg != "" {
			return nil, errdef.New(errdef.CodeHTTP, "grpc reflection error %s: %s", code, msg)
		}
		return nil, errdef.New(errdef.CodeHTTP, "grpc reflection error %s", code)
	}
	fileResp := res.GetFileDescriptorResponse()
	if fileResp == nil {
		return nil, errdef.New(errdef.CodeHTTP, "reflection response missing descriptors")
	}

	set = &descriptorpb.FileDescriptorSet{}
	for _, raw := range fileResp.FileDescriptorProto {
		fd := &descriptorpb.FileDescriptorProto{}
		if err := proto.Unmarshal(raw, fd); err != nil {
			return nil, errdef.Wrap(errdef.CodeHTTP, err, "decode reflected descriptor")
		}
		set.File = append(set.File, fd)
	}
	return set, nil
}

func copyMetadata(md metadata.MD) map[string][]string {
	if md == nil {
		return nil
	}
	out := make(map[string][]string, len(md))
	for k, values := range md {
		out[k] = append([]string(nil), values...)
	}
	return out
}
