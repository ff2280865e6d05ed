package execute

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/auth"
	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/grpcclient"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
	"github.com/unkn0wn-root/reqflow/internal/wsclient"
)

const wsReplyWindow = 10 * time.Second

// invokeGRPC performs a unary call. The request url is the target, the
// method is the full method name and the json body is the message.
func (r *run) invokeGRPC() (*httpclient.Response, error) {
	if r.o.GRPC == nil {
		return nil, errdef.New(errdef.CodeConfig, "no grpc client configured")
	}
	col, req := r.line.col, r.line.req
	resolver := r.resolver()

	target := strings.TrimSpace(resolver.ExpandTemplates(r.sreq.URL))
	addr, secure, err := grpcclient.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	header := r.expandHeaders(resolver)
	opts := r.o.httpOptions(col, req, r.sreq.Timeout)
	prepared, err := r.compileAuth(resolver, opts)
	if err != nil {
		return nil, err
	}
	md, err := grpcclient.Metadata(header, prepared)
	if err != nil {
		return nil, err
	}

	call := grpcclient.Call{
		Target:     target,
		FullMethod: resolver.ExpandTemplates(r.sreq.Method),
		Message:    resolver.ExpandJSON(grpcMessage(r.sreq.Body, req)),
		Metadata:   md,
		Timeout:    r.sreq.Timeout,
	}
	scheme := "http"
	if secure {
		scheme = "https"
		host, _, _ := net.SplitHostPort(addr)
		if call.TLS, err = httpclient.TLSConfig(opts, host); err != nil {
			return nil, err
		}
	}
	sent := http.Header(md.Copy())
	r.sreq.URL, r.sreq.Method, r.sreq.Headers, r.sreq.Body = target, call.FullMethod, sent, call.Message

	// The span describes the call as the HTTP/2 POST it travels as.
	wire := &http.Request{
		Method: http.MethodPost,
		URL:    &url.URL{Scheme: scheme, Host: addr, Path: "/" + strings.TrimPrefix(call.FullMethod, "/")},
		Header: sent,
	}
	spanCtx, span := r.startSpan(wire)
	r.emitSent(call.FullMethod, target, sent)
	r.log.V(1).Info("invoking grpc method", "target", addr, "method", call.FullMethod)

	res, err := r.o.GRPC.Invoke(spanCtx, call)
	var resp *httpclient.Response
	if res != nil {
		resp = &httpclient.Response{
			Status:       res.StatusCode.String(),
			StatusCode:   int(res.StatusCode),
			Proto:        "grpc",
			Headers:      grpcHeaders(res),
			Body:         res.Body,
			Duration:     res.Duration,
			EffectiveURL: target,
		}
		if !res.OK() && res.StatusMessage != "" {
			resp.Status += ": " + res.StatusMessage
		}
	}
	endSpan(span, resp, err)
	if err != nil {
		return nil, r.transportFailure(err)
	}
	return resp, nil
}

func grpcMessage(scripted string, req *collection.Request) string {
	if strings.TrimSpace(scripted) != "" {
		return scripted
	}
	return req.Body.JSON
}

func grpcHeaders(res *grpcclient.Response) http.Header {
	h := make(http.Header, len(res.Headers)+len(res.Trailers))
	for k, v := range res.Headers {
		h[k] = append(h[k], v...)
	}
	for k, v := range res.Trailers {
		h[k] = append(h[k], v...)
	}
	return h
}

// exchangeWS opens the socket, sends the enabled messages and collects the
// replies. The response body is the json list of frames in both directions.
func (r *run) exchangeWS() (*httpclient.Response, error) {
	if r.o.WS == nil {
		return nil, errdef.New(errdef.CodeConfig, "no websocket client configured")
	}
	col, req := r.line.col, r.line.req
	resolver := r.resolver()

	target, err := buildURL(r.sreq.URL, "ws", req.Params, resolver, encodeURL(req))
	if err != nil {
		return nil, err
	}
	header := r.expandHeaders(resolver)
	opts := r.o.httpOptions(col, req, r.sreq.Timeout)
	prepared, err := r.compileAuth(resolver, opts)
	if err != nil {
		return nil, err
	}
	handshake, err := http.NewRequestWithContext(r.ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "build websocket request")
	}
	handshake.Header = header
	if err := auth.Apply(handshake, prepared); err != nil {
		return nil, err
	}
	client, err := httpclient.HandshakeClient(opts, handshake.URL)
	if err != nil {
		return nil, err
	}

	var messages []wsclient.Message
	for _, m := range req.Body.WS {
		messages = append(messages, wsclient.Message{Type: m.Type, Content: resolver.ExpandTemplates(m.Content)})
	}
	window := r.sreq.Timeout
	if window <= 0 {
		window = wsReplyWindow
	}
	r.sreq.URL, r.sreq.Headers = handshake.URL.String(), handshake.Header.Clone()

	spanCtx, span := r.startSpan(handshake)
	r.emitSent(http.MethodGet, handshake.URL.String(), handshake.Header)
	r.log.V(1).Info("opening websocket", "url", handshake.URL.Redacted(), "messages", len(messages))

	res, err := r.o.WS.Run(spanCtx, wsclient.Exchange{
		URL:        handshake.URL.String(),
		Header:     handshake.Header,
		Messages:   messages,
		Timeout:    window,
		HTTPClient: client,
	})
	var resp *httpclient.Response
	if err == nil {
		resp, err = wsResponse(res, handshake.URL.String())
	}
	endSpan(span, resp, err)
	if err != nil {
		return nil, r.transportFailure(err)
	}
	return resp, nil
}

func wsResponse(res *wsclient.Result, target string) (*httpclient.Response, error) {
	frames := res.Frames
	if frames == nil {
		frames = []wsclient.Frame{}
	}
	body, err := json.Marshal(frames)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "encode websocket frames")
	}
	headers := res.Headers
	if headers == nil {
		headers = make(http.Header)
	}
	headers.Set("Content-Type", "application/json")
	return &httpclient.Response{
		Status:       fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode)),
		StatusCode:   res.StatusCode,
		Proto:        "websocket",
		Headers:      headers,
		Body:         body,
		Duration:     res.Duration,
		EffectiveURL: target,
	}, nil
}
