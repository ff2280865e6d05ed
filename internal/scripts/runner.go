package scripts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/go-logr/logr"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// Runner is the goja backed Engine. Every call gets a fresh VM.
type Runner struct {
	log logr.Logger
	now func() time.Time
}

var _ Engine = (*Runner)(nil)

func NewRunner(log *logr.Logger) *Runner {
	r := &Runner{log: logr.Discard(), now: time.Now}
	if log != nil {
		r.log = *log
	}
	return r
}

func (r *Runner) RunRequestScript(ctx context.Context, in Input) (*Output, error) {
	return r.runPhase(ctx, "pre-request", in)
}

func (r *Runner) RunResponseScript(ctx context.Context, in Input) (*Output, error) {
	return r.runPhase(ctx, "post-response", in)
}

func (r *Runner) RunTests(ctx context.Context, in Input) (*Output, error) {
	out, err := r.runPhase(ctx, "test", in)
	if err != nil && !errdef.Is(err, errdef.CodeCanceled) {
		return out, &PartialError{Output: out, Err: err}
	}
	return out, err
}

func (r *Runner) runPhase(ctx context.Context, phase string, in Input) (*Output, error) {
	s := r.newSession(ctx, in)
	source := strings.TrimSpace(in.Source)
	if source == "" {
		return s.out, nil
	}
	stop, err := s.start(ctx)
	if err != nil {
		return s.out, err
	}
	defer stop()

	if _, err := s.vm.RunString(source); err != nil {
		return s.out, s.fail(ctx, err, "%s script", phase)
	}
	r.log.V(2).Info("script finished", "phase", phase, "tests", len(s.out.Results))
	return s.out, nil
}

// RunPostResponseVars evaluates each expression against the response and
// stores the result as a runtime variable.
func (r *Runner) RunPostResponseVars(ctx context.Context, vars []Pair, in Input) (*Output, error) {
	s := r.newSession(ctx, in)
	if len(vars) == 0 {
		return s.out, nil
	}
	stop, err := s.start(ctx)
	if err != nil {
		return s.out, err
	}
	defer stop()

	for _, v := range vars {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			continue
		}
		value, err := s.eval(v.Value)
		if err != nil {
			return s.out, s.fail(ctx, err, "post-response var %s", name)
		}
		s.out.RuntimeVars[name] = stringify(value)
	}
	return s.out, nil
}

func (r *Runner) RunAssertions(ctx context.Context, assertions []Pair, in Input) ([]AssertionResult, error) {
	if len(assertions) == 0 {
		return nil, nil
	}
	s := r.newSession(ctx, in)
	stop, err := s.start(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	results := make([]AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		op, operand := parseAssertion(a.Value)
		res := AssertionResult{LHS: a.Name, RHS: a.Value, Operator: op}
		value, err := s.eval(a.Name)
		if err != nil {
			if ctx.Err() != nil {
				return results, errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "assertions interrupted")
			}
			res.Error = exceptionMessage(err)
			results = append(results, res)
			continue
		}
		if err := checkAssertion(op, observe(value), operand); err != nil {
			res.Error = err.Error()
		} else {
			res.Passed = true
		}
		results = append(results, res)
	}
	return results, nil
}

type session struct {
	vm  *goja.Runtime
	ctx context.Context
	in  Input
	out *Output
	req *Request
	now func() time.Time
	log logr.Logger
}

func (r *Runner) newSession(ctx context.Context, in Input) *session {
	req := in.Request.Clone()
	if req == nil {
		req = &Request{}
	}
	return &session{
		vm:  goja.New(),
		ctx: ctx,
		in:  in,
		req: req,
		now: r.now,
		log: r.log,
		out: &Output{
			Request:     req,
			EnvVars:     copyMap(in.EnvVars),
			RuntimeVars: copyMap(in.RuntimeVars),
			GlobalVars:  copyMap(in.GlobalVars),
		},
	}
}

// start binds the script API and arms interruption on ctx.
func (s *session) start(ctx context.Context) (func() bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeCanceled, err, "script not started")
	}
	bindings := map[string]any{
		"console": s.consoleAPI(),
		"bru":     s.bruAPI(),
		"req":     s.requestAPI(),
		"test":    s.test,
		"expect":  s.expect,
	}
	if s.in.Response != nil {
		bindings["res"] = s.responseAPI()
	}
	for name, value := range bindings {
		if err := s.vm.Set(name, value); err != nil {
			return nil, errdef.Wrap(errdef.CodeScript, err, "bind %s api", name)
		}
	}
	stop := context.AfterFunc(ctx, func() {
		s.vm.Interrupt(ctx.Err())
	})
	return stop, nil
}

func (s *session) eval(expr string) (goja.Value, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return goja.Undefined(), nil
	}
	return s.vm.RunString("(" + expr + ")")
}

func (s *session) fail(ctx context.Context, err error, format string, args ...any) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		cause := ctx.Err()
		if cause == nil {
			cause = err
		}
		return errdef.Wrap(errdef.CodeCanceled, cause, format, args...)
	}
	return errdef.New(errdef.CodeScript, "%s: %s", fmt.Sprintf(format, args...), exceptionMessage(err))
}

func (s *session) consoleAPI() map[string]any {
	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			if s.in.OnLog != nil {
				s.in.OnLog(level, args)
			}
			s.log.V(1).Info("script console", "level", level, "args", args)
			return goja.Undefined()
		}
	}
	return map[string]any{
		"log":   logAt("log"),
		"info":  logAt("info"),
		"warn":  logAt("warn"),
		"error": logAt("error"),
		"debug": logAt("debug"),
	}
}

func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		if v := ex.Value(); v != nil {
			return v.String()
		}
	}
	return err.Error()
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
