package execute

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/reqflow/internal/auth"
	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/events"
	"github.com/unkn0wn-root/reqflow/internal/grpcclient"
	"github.com/unkn0wn-root/reqflow/internal/history"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
	"github.com/unkn0wn-root/reqflow/internal/oauth"
	"github.com/unkn0wn-root/reqflow/internal/scripts"
	"github.com/unkn0wn-root/reqflow/internal/telemetry"
	"github.com/unkn0wn-root/reqflow/internal/vars"
	"github.com/unkn0wn-root/reqflow/internal/wsclient"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusReceived  Status = "received"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// RequestCancelled marks a result whose run was aborted.
const RequestCancelled = "REQUEST_CANCELLED"

const historySnippetSize = 512

// FailureHook is called when the request never got a response. Its error is
// appended to the reported failure.
type FailureHook func(ctx context.Context, err error) error

type History interface {
	Append(entry history.Entry) error
}

type RunInput struct {
	Collection *collection.Collection
	Item       *collection.Item
	RunUID     string

	// Background suppresses request-queued and request-sent.
	Background bool
	OnFailure  FailureHook
	OnLog      scripts.LogFunc

	// Nil env and global maps fall back to the collection's environment and
	// globals.
	EnvVars     map[string]string
	RuntimeVars map[string]string
	GlobalVars  map[string]string
	ProcessEnv  map[string]string
}

type Result struct {
	RequestUID     string
	CancelTokenUID string
	Status         Status
	Response       *httpclient.Response
	IsCancel       bool
	Error          string
	Notice         *auth.Notice

	Next    scripts.Jump
	Stop    bool
	Skipped bool

	PreRequestTests   []scripts.TestResult
	PostResponseTests []scripts.TestResult
	Tests             []scripts.TestResult
	Assertions        []scripts.AssertionResult
	// ScriptErrors holds failures of the phases that run after the response.
	ScriptErrors []string

	EnvVars     map[string]string
	RuntimeVars map[string]string
	GlobalVars  map[string]string
}

// Failed reports whether the run errored or any check did not pass.
func (r *Result) Failed() bool {
	if r == nil {
		return true
	}
	if r.Status == StatusError || len(r.ScriptErrors) > 0 {
		return true
	}
	for _, group := range [][]scripts.TestResult{r.PreRequestTests, r.PostResponseTests, r.Tests} {
		for _, t := range group {
			if !t.Passed {
				return true
			}
		}
	}
	for _, a := range r.Assertions {
		if !a.Passed {
			return true
		}
	}
	return false
}

// Orchestrator runs the request pipeline. Scripts and HTTP are required;
// every other collaborator is optional.
type Orchestrator struct {
	Scripts   scripts.Engine
	HTTP      *httpclient.Client
	GRPC      *grpcclient.Client
	WS        *wsclient.Client
	OAuth     *oauth.Engine
	Cancels   *CancelRegistry
	Sink      events.Sink
	Logger    logr.Logger
	Telemetry telemetry.Instrumenter
	History   History
	Settings  config.Settings

	// Auth carries the signer and credential hooks handed to the compiler.
	// Tokens and Logger are filled per run.
	Auth auth.Options

	// Persist saves the collection after stored auth was reset to none.
	Persist func(*collection.Collection) error
	Now     func() time.Time
}

func New(engine scripts.Engine, client *httpclient.Client, log *logr.Logger) *Orchestrator {
	o := &Orchestrator{
		Scripts:   engine,
		HTTP:      client,
		GRPC:      grpcclient.NewClient(log),
		WS:        wsclient.NewClient(log),
		Cancels:   NewCancelRegistry(),
		Sink:      events.Discard(),
		Logger:    logr.Discard(),
		Telemetry: telemetry.Noop(),
		Now:       time.Now,
	}
	if log != nil {
		o.Logger = *log
	}
	return o
}

func (o *Orchestrator) cancels() *CancelRegistry {
	if o.Cancels == nil {
		o.Cancels = NewCancelRegistry()
	}
	return o.Cancels
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() logr.Logger {
	if o.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return o.Logger
}

// Cancel aborts the run registered under uid.
func (o *Orchestrator) Cancel(uid string) error {
	return o.cancels().Cancel(uid)
}

// Run executes one request through the full pipeline. Cancellation is
// reported through Result.IsCancel, never as an error. A pre-request script
// failure or a transport failure returns the result together with an error.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*Result, error) {
	req := in.Item.Effective()
	if in.Collection == nil || req == nil {
		return nil, errdef.New(errdef.CodeRunner, "item is not a request")
	}
	if o.Scripts == nil || o.HTTP == nil {
		return nil, errdef.New(errdef.CodeConfig, "orchestrator needs a script engine and an http client")
	}

	cancels := o.cancels()
	cancelUID, runCtx, cancel := cancels.Register(ctx)
	defer func() {
		cancels.Remove(cancelUID)
		cancel()
	}()

	folders, _ := collection.TreePath(in.Collection, req.UID)
	r := &run{
		o:       o,
		in:      in,
		ctx:     runCtx,
		line:    lineage{col: in.Collection, folders: folders, req: req},
		vars:    newVariables(in.Collection, in),
		started: o.now(),
		res: &Result{
			RequestUID:     uuid.NewString(),
			CancelTokenUID: cancelUID,
			Status:         StatusQueued,
		},
	}
	r.log = o.logger().WithValues("request", req.Name, "requestUid", r.res.RequestUID)

	if !in.Background {
		r.emit(events.Event{Type: events.RequestQueued, CancelTokenUID: cancelUID})
	}

	err := r.execute()
	r.finish()
	return r.res, err
}

type run struct {
	o       *Orchestrator
	in      RunInput
	ctx     context.Context
	line    lineage
	vars    *variables
	res     *Result
	log     logr.Logger
	started time.Time

	sreq       *scripts.Request
	authMode   collection.AuthMode
	authSource auth.Source
}

func (r *run) emit(e events.Event) {
	sink := r.o.Sink
	if sink == nil {
		return
	}
	e.Time = r.o.now()
	e.CollectionUID = r.line.col.UID
	e.ItemUID = r.in.Item.UID()
	e.RequestUID = r.res.RequestUID
	e.RunUID = r.in.RunUID
	sink.Emit(e)
}

func (r *run) input(src string, resp *scripts.Response) scripts.Input {
	return scripts.Input{
		Source:         src,
		Request:        r.sreq,
		Response:       resp,
		EnvVars:        r.vars.env,
		RuntimeVars:    r.vars.runtime,
		GlobalVars:     r.vars.global,
		ProcessEnv:     r.vars.process,
		CollectionPath: r.line.col.Path,
		CollectionName: r.line.col.Name,
		OnLog:          r.in.OnLog,
	}
}

func (r *run) control(out *scripts.Output) {
	if out == nil {
		return
	}
	if out.Next.Set {
		r.res.Next = out.Next
	}
	if out.Stop {
		r.res.Stop = true
	}
}

func (r *run) canceled(err error) bool {
	return errdef.Is(err, errdef.CodeCanceled) || r.ctx.Err() != nil
}

func (r *run) markCancelled() {
	r.res.Status = StatusCancelled
	r.res.IsCancel = true
	r.res.Error = RequestCancelled
	r.log.V(1).Info("request cancelled")
}

func (r *run) fail(err error) error {
	if r.canceled(err) {
		r.markCancelled()
		return nil
	}
	r.res.Status = StatusError
	r.res.Error = errdef.Message(err)
	return err
}

func (r *run) execute() error {
	req := r.line.req
	method := strings.TrimSpace(req.Method)
	if req.Type != collection.TypeGRPC {
		method = strings.ToUpper(method)
		if method == "" {
			method = http.MethodGet
		}
	}
	r.sreq = &scripts.Request{
		Name:    req.Name,
		Method:  method,
		URL:     req.URL,
		Headers: r.line.headers(),
		Body:    scriptBody(req.Body),
		Timeout: r.o.timeout(req),
	}

	if err := r.preRequest(); err != nil {
		return r.fail(err)
	}
	if r.ctx.Err() != nil {
		r.markCancelled()
		return nil
	}
	if r.res.Skipped {
		r.log.V(1).Info("request skipped by script")
		return nil
	}

	var resp *httpclient.Response
	var err error
	switch req.Type {
	case collection.TypeGRPC:
		resp, err = r.invokeGRPC()
	case collection.TypeWS:
		resp, err = r.exchangeWS()
	default:
		resp, err = r.sendHTTP()
	}
	if err != nil {
		return r.fail(err)
	}
	r.postResponse(resp)
	return nil
}

func (r *run) sendHTTP() (*httpclient.Response, error) {
	httpReq, prepared, opts, err := r.prepare()
	if err != nil {
		return nil, err
	}
	return r.dispatch(httpReq, prepared, opts)
}

func (r *run) preRequest() error {
	src := r.line.script(phasePre, r.line.col.Config.ScriptFlow())
	if src == "" {
		r.emit(events.Event{Type: events.PreRequestScriptExecution})
		return nil
	}
	out, err := r.o.Scripts.RunRequestScript(r.ctx, r.input(src, nil))
	if err != nil {
		if r.canceled(err) {
			return err
		}
		msg := errdef.Message(err)
		r.emit(events.Event{Type: events.PreRequestScriptExecution, ErrorMessage: &msg})
		return err
	}
	r.emit(events.Event{Type: events.PreRequestScriptExecution})
	if len(out.Results) > 0 {
		r.res.PreRequestTests = out.Results
		r.emit(events.Event{Type: events.TestResultsPreRequest, Tests: out.Results})
	}
	r.vars.absorb(out)
	r.control(out)
	if out.Request != nil {
		r.sreq = out.Request
	}
	if out.Skip {
		r.res.Skipped = true
	}
	return nil
}

// resolver loads the collection's oauth2 variables and returns the resolver
// for this run's scopes.
func (r *run) resolver() *vars.Resolver {
	if r.o.OAuth != nil {
		oauthVars, err := r.o.OAuth.Variables(r.ctx, r.line.col.UID)
		if err != nil {
			r.log.V(1).Info("oauth2 variables unavailable", "error", errdef.Message(err))
		}
		r.vars.oauth2 = oauthVars
	}
	return r.vars.scopes(r.line).Resolver()
}

func (r *run) expandHeaders(resolver *vars.Resolver) http.Header {
	header := make(http.Header, len(r.sreq.Headers))
	for name, values := range r.sreq.Headers {
		key := resolver.ExpandTemplates(name)
		for _, v := range values {
			header.Add(key, resolver.ExpandTemplates(v))
		}
	}
	return header
}

func (r *run) prepare() (*http.Request, *auth.Prepared, httpclient.Options, error) {
	col, req := r.line.col, r.line.req
	resolver := r.resolver()

	target, err := buildURL(r.sreq.URL, "http", req.Params, resolver, encodeURL(req))
	if err != nil {
		return nil, nil, httpclient.Options{}, err
	}
	header := r.expandHeaders(resolver)

	body, err := buildBody(req.Body, r.sreq.Body, resolver, col.Path)
	if err != nil {
		return nil, nil, httpclient.Options{}, err
	}
	var data []byte
	if body != nil {
		data = body.data
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", body.contentType)
		}
	}

	opts := r.o.httpOptions(col, req, r.sreq.Timeout)
	prepared, err := r.compileAuth(resolver, opts)
	if err != nil {
		return nil, nil, opts, err
	}

	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(r.ctx, r.sreq.Method, target.String(), reader)
	if err != nil {
		return nil, nil, opts, errdef.Wrap(errdef.CodeHTTP, err, "build request")
	}
	httpReq.Header = header
	if err := auth.Apply(httpReq, prepared); err != nil {
		return nil, nil, opts, err
	}

	r.sreq = &scripts.Request{
		Name:    r.sreq.Name,
		Method:  httpReq.Method,
		URL:     httpReq.URL.String(),
		Headers: httpReq.Header.Clone(),
		Body:    string(data),
		Timeout: r.sreq.Timeout,
	}
	return httpReq, prepared, opts, nil
}

// buildURL expands the url and merges enabled params into its query. A url
// without a scheme gets scheme.
func buildURL(raw, scheme string, params []collection.KeyValue, r *vars.Resolver, encode bool) (*url.URL, error) {
	expanded := strings.TrimSpace(r.ExpandTemplates(raw))
	if expanded == "" {
		return nil, errdef.New(errdef.CodeHTTP, "request url is empty")
	}
	if !strings.Contains(expanded, "://") {
		expanded = scheme + "://" + expanded
	}
	u, err := url.Parse(expanded)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "parse url %q", expanded)
	}
	enabled := collection.EnabledPairs(params)
	if len(enabled) == 0 && !encode {
		return u, nil
	}
	q := u.Query()
	for _, kv := range enabled {
		q.Set(r.ExpandTemplates(kv.Name), r.ExpandTemplates(kv.Value))
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func encodeURL(req *collection.Request) bool {
	return req.Settings.EncodeURL != nil && *req.Settings.EncodeURL
}

// coerceStored resets an explicit request auth the transport cannot run to
// none, on the committed request and on an open draft, and persists it.
func (r *run) coerceStored(m auth.Matrix) {
	item := r.in.Item
	changed := false
	for _, req := range []*collection.Request{item.Request, item.Draft} {
		if req != nil && m.CoerceStored(&req.Auth) {
			changed = true
		}
	}
	if !changed {
		return
	}
	r.log.Info("stored auth reset to none", "transport", string(m.Transport))
	if r.o.Persist == nil {
		return
	}
	if err := r.o.Persist(r.line.col); err != nil {
		r.log.Error(err, "persist auth reset")
	}
}

func (r *run) compileAuth(resolver *vars.Resolver, opts httpclient.Options) (*auth.Prepared, error) {
	col, req := r.line.col, r.line.req
	eff := auth.EffectiveForRequest(col, r.in.Item)
	matrix := auth.MatrixFor(auth.TransportFor(req.Type))
	execAuth, notice := matrix.ForExecution(eff)
	if eff.Source == auth.SourceRequest {
		r.coerceStored(matrix)
	}
	if notice != nil {
		r.res.Notice = notice
		r.log.Info("auth not applied", "mode", string(notice.Mode), "message", notice.Message)
	}
	interpolateAuth(&execAuth, resolver)
	r.authMode, r.authSource = execAuth.Mode, eff.Source

	requestAuth := execAuth
	if eff.Source != auth.SourceRequest {
		requestAuth = collection.AuthConfig{Mode: collection.AuthInherit}
	}

	authOpts := r.o.Auth
	authOpts.Logger = r.log
	if r.o.OAuth != nil {
		tokenOpts := opts
		tokenOpts.Trace, tokenOpts.Name = true, "oauth2 token"
		authOpts.Tokens = engineTokens{engine: r.o.OAuth, collectionUID: col.UID, opts: tokenOpts}
	}
	prepared, err := auth.Compile(r.ctx, nil, requestAuth, execAuth, authOpts)
	if err != nil {
		if errdef.Is(err, errdef.CodeAuth) && !r.canceled(err) {
			r.log.Info("sending without oauth2 token", "error", errdef.Message(err))
			return prepared, nil
		}
		return nil, err
	}
	return prepared, nil
}

// startSpan opens the telemetry span for the outgoing request described by
// httpReq and marks the run as sending.
func (r *run) startSpan(httpReq *http.Request) (context.Context, telemetry.RequestSpan) {
	instr := r.o.Telemetry
	if instr == nil {
		instr = telemetry.Noop()
	}
	start := telemetry.RequestStart{Name: r.line.req.Name, Collection: r.line.col.Name, HTTPRequest: httpReq}
	if n := len(r.line.folders); n > 0 {
		start.Folder = r.line.folders[n-1].Name
	}
	ctx, span := instr.Start(r.ctx, start)
	span.RecordAuth(string(r.authMode), string(r.authSource))
	r.res.Status = StatusSending
	return ctx, span
}

func (r *run) emitSent(method, target string, header http.Header) {
	if r.in.Background {
		return
	}
	r.emit(events.Event{Type: events.RequestSent, Request: &events.SentRequest{
		Method:    method,
		URL:       target,
		Headers:   header.Clone(),
		Body:      r.sreq.Body,
		Timestamp: r.o.now(),
	}})
}

func endSpan(span telemetry.RequestSpan, resp *httpclient.Response, err error) {
	result := telemetry.RequestResult{Err: err}
	if resp != nil {
		result.StatusCode, result.Redirects = resp.StatusCode, resp.Redirects
	}
	span.End(result)
}

func (r *run) dispatch(httpReq *http.Request, prepared *auth.Prepared, opts httpclient.Options) (*httpclient.Response, error) {
	spanCtx, span := r.startSpan(httpReq)
	r.emitSent(httpReq.Method, httpReq.URL.String(), httpReq.Header)
	r.log.V(1).Info("sending request", "method", httpReq.Method, "url", httpReq.URL.Redacted())

	resp, err := r.o.HTTP.Do(spanCtx, httpReq.WithContext(spanCtx), opts, func(rt http.RoundTripper) http.RoundTripper {
		return auth.WrapTransport(rt, prepared)
	})
	endSpan(span, resp, err)
	if err != nil {
		return nil, r.transportFailure(err)
	}
	return resp, nil
}

// transportFailure runs the failure hook for a request that got no response
// and folds its outcome into the returned error.
func (r *run) transportFailure(err error) error {
	if r.canceled(err) {
		return err
	}
	msg := errdef.Message(err)
	if hookErr := r.failureHook(err); hookErr != nil {
		msg += "; failure hook: " + errdef.Message(hookErr)
	}
	r.log.Info("request failed", "error", msg)
	return errdef.New(errdef.CodeHTTP, "%s", msg)
}

func (r *run) failureHook(cause error) (err error) {
	if r.in.OnFailure == nil {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = errdef.New(errdef.CodeUnknown, "panic: %v", v)
		}
	}()
	return r.in.OnFailure(r.ctx, cause)
}

// postResponse runs vars, script, assertions and tests in that order. Each
// phase reports on its own so one failure never hides another's results.
func (r *run) postResponse(resp *httpclient.Response) {
	r.res.Status = StatusReceived
	r.res.Response = resp
	sresp := &scripts.Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Headers,
		Body:       resp.Body,
		Duration:   resp.Duration,
		URL:        resp.EffectiveURL,
	}
	flow := r.line.col.Config.ScriptFlow()

	if pairs := r.line.postVars(); len(pairs) > 0 {
		out, err := r.o.Scripts.RunPostResponseVars(r.ctx, pairs, r.input("", sresp))
		if err != nil {
			if r.canceled(err) {
				r.markCancelled()
				return
			}
			r.scriptError("post-response vars", err)
		}
		r.vars.absorb(out)
	}

	var postErr *string
	if src := r.line.script(phasePost, flow); src != "" {
		out, err := r.o.Scripts.RunResponseScript(r.ctx, r.input(src, sresp))
		if err != nil {
			if r.canceled(err) {
				r.markCancelled()
				return
			}
			postErr = r.scriptError("post-response script", err)
		} else {
			r.vars.absorb(out)
			r.control(out)
			r.res.PostResponseTests = out.Results
		}
	}
	r.emit(events.Event{Type: events.PostResponseScriptExecution, ErrorMessage: postErr})
	if len(r.res.PostResponseTests) > 0 {
		r.emit(events.Event{Type: events.TestResultsPostResponse, Tests: r.res.PostResponseTests})
	}

	if pairs := r.line.assertions(); len(pairs) > 0 {
		results, err := r.o.Scripts.RunAssertions(r.ctx, pairs, r.input("", sresp))
		if err != nil {
			if r.canceled(err) {
				r.markCancelled()
				return
			}
			r.scriptError("assertions", err)
		}
		r.res.Assertions = results
		r.emit(events.Event{Type: events.AssertionResults, Assertions: results})
	}

	if src := r.line.script(phaseTests, flow); src != "" {
		out, err := r.o.Scripts.RunTests(r.ctx, r.input(src, sresp))
		var testErr *string
		if err != nil {
			if r.canceled(err) {
				r.markCancelled()
				return
			}
			var partial *scripts.PartialError
			if errors.As(err, &partial) {
				out = partial.Output
			}
			testErr = r.scriptError("tests", err)
		}
		if out != nil {
			r.vars.absorb(out)
			r.control(out)
			r.res.Tests = out.Results
		}
		r.emit(events.Event{Type: events.TestResults, Tests: r.res.Tests})
		r.emit(events.Event{Type: events.TestScriptExecution, ErrorMessage: testErr})
	}
}

func (r *run) scriptError(phase string, err error) *string {
	msg := errdef.Message(err)
	r.res.ScriptErrors = append(r.res.ScriptErrors, msg)
	r.log.Info("script phase failed", "phase", phase, "error", msg)
	return &msg
}

func (r *run) finish() {
	r.res.EnvVars = r.vars.env
	r.res.RuntimeVars = r.vars.runtime
	r.res.GlobalVars = r.vars.global

	if r.o.History == nil || r.res.Skipped {
		return
	}
	entry := history.Entry{
		ID:            r.res.RequestUID,
		ExecutedAt:    r.started,
		CollectionUID: r.line.col.UID,
		ItemUID:       r.in.Item.UID(),
		RunUID:        r.in.RunUID,
		RequestName:   r.line.req.Name,
		Method:        r.sreq.Method,
		URL:           r.sreq.URL,
		Status:        string(r.res.Status),
		Error:         r.res.Error,
		Cancelled:     r.res.IsCancel,
	}
	if env := r.line.col.Environment; env != nil {
		entry.Environment = env.Name
	}
	if resp := r.res.Response; resp != nil {
		entry.StatusCode = resp.StatusCode
		entry.Duration = resp.Duration
		entry.Timings = resp.Phases.Durations()
		snippet := resp.Body
		if len(snippet) > historySnippetSize {
			snippet = snippet[:historySnippetSize]
		}
		entry.BodySnippet = string(snippet)
	}
	for _, group := range [][]scripts.TestResult{r.res.PreRequestTests, r.res.PostResponseTests, r.res.Tests} {
		for _, t := range group {
			if t.Passed {
				entry.Tests.Passed++
			} else {
				entry.Tests.Failed++
			}
		}
	}
	for _, a := range r.res.Assertions {
		if a.Passed {
			entry.Assertions.Passed++
		} else {
			entry.Assertions.Failed++
		}
	}
	if err := r.o.History.Append(entry); err != nil {
		r.log.Info("recording history failed", "error", errdef.Message(err))
	}
}

func (o *Orchestrator) timeout(req *collection.Request) time.Duration {
	if req.Settings.TimeoutMS > 0 {
		return time.Duration(req.Settings.TimeoutMS) * time.Millisecond
	}
	return o.Settings.Request.Timeout.Std()
}

func (o *Orchestrator) httpOptions(col *collection.Collection, req *collection.Request, timeout time.Duration) httpclient.Options {
	s := o.Settings
	mode, spec := config.ResolveProxy(col.Config.Proxy, s.Proxy)
	opts := httpclient.Options{
		Timeout:            timeout,
		FollowRedirects:    true,
		MaxRedirects:       s.MaxRedirects(),
		InsecureSkipVerify: !s.VerifyTLS(),
		ProxyMode:          mode,
		Proxy:              spec,
		CACertFile:         s.TLS.CACertFile,
		KeepDefaultCAs:     s.KeepDefaultCAs(),
		BaseDir:            col.Path,
		SendCookies:        boolOr(s.Request.SendCookies, true),
		StoreCookies:       boolOr(s.Request.StoreCookies, true),
		Name:               req.Name,
	}
	if req.Settings.MaxRedirects != nil {
		opts.MaxRedirects = *req.Settings.MaxRedirects
		opts.FollowRedirects = opts.MaxRedirects > 0
	}
	if certs := col.Config.ClientCertificates; certs.Enabled {
		opts.ClientCerts = certs.Certs
	}
	return opts
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
