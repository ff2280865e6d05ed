package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/events"
	"github.com/unkn0wn-root/reqflow/internal/execute"
)

// MaxJumps bounds script-driven jumps within one run.
const MaxJumps = 10000

const (
	StatusTerminated = "terminated"
	StatusBailed     = "bailed"
	StatusCancelled  = "cancelled"
)

type Options struct {
	Recursive bool
	Delay     time.Duration
	// Bail ends the run after the first item that errors or fails a check.
	Bail bool
	// TestsOnly runs only requests that carry tests or assertions.
	TestsOnly bool

	ProcessEnv  map[string]string
	RuntimeVars map[string]string
}

type Executor interface {
	Run(ctx context.Context, in execute.RunInput) (*execute.Result, error)
}

type ItemResult struct {
	ItemUID string
	Name    string
	Result  *execute.Result
	Err     error
}

type Report struct {
	RunUID     string
	Items      []ItemResult
	Summary    events.RunSummary
	StatusText string
	Duration   time.Duration
}

type Runner struct {
	exec Executor
	sink events.Sink
	log  logr.Logger
	now  func() time.Time
}

func New(exec Executor, sink events.Sink, log *logr.Logger) *Runner {
	r := &Runner{exec: exec, sink: sink, log: logr.Discard(), now: time.Now}
	if r.sink == nil {
		r.sink = events.Discard()
	}
	if log != nil {
		r.log = *log
	}
	return r
}

// Run executes the requests under folder, or the whole collection when
// folder is nil, one after another. A failing item is reported and the run
// moves on. Only cancellation, a missing jump target and the jump limit end
// the run with an error.
func (r *Runner) Run(ctx context.Context, col *collection.Collection, folder *collection.Folder, opts Options) (*Report, error) {
	if col == nil {
		return nil, errdef.New(errdef.CodeRunner, "no collection to run")
	}
	source := col.Items
	if folder != nil {
		source = folder.Items
	}
	items := collection.Flatten(source, opts.Recursive)
	if opts.TestsOnly {
		items = withChecks(items)
	}

	st := &state{
		runner: r,
		col:    col,
		report: &Report{RunUID: uuid.NewString()},
		start:  r.now(),
		vars:   threaded{runtime: opts.RuntimeVars, process: opts.ProcessEnv},
	}
	log := r.log.WithValues("runUid", st.report.RunUID, "collection", col.Name)
	log.V(1).Info("run started", "items", len(items), "recursive", opts.Recursive)
	st.emit(events.Event{Type: events.TestrunStarted})

	jumps := 0
	for i := 0; i < len(items); {
		if err := ctx.Err(); err != nil {
			st.end(StatusCancelled, "")
			return st.report, errdef.Wrap(errdef.CodeCanceled, err, "run cancelled")
		}

		item := items[i]
		res, failed := st.runItem(ctx, item)
		if res != nil && res.IsCancel && ctx.Err() != nil {
			st.end(StatusCancelled, "")
			return st.report, errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "run cancelled")
		}

		if res != nil && res.Stop {
			log.V(1).Info("run stopped by script", "item", item.Effective().Name)
			st.end(StatusTerminated, "")
			return st.report, nil
		}
		if opts.Bail && failed {
			st.end(StatusBailed, "")
			return st.report, nil
		}

		next := i + 1
		if res != nil && res.Next.Set {
			if res.Next.Name == nil {
				log.V(1).Info("run halted by script", "item", item.Effective().Name)
				break
			}
			jumps++
			if jumps > MaxJumps {
				msg := "Too many jumps, possible infinite loop"
				st.end("", msg)
				return st.report, errdef.New(errdef.CodeRunner, "%s", msg)
			}
			target := indexOf(items, *res.Next.Name)
			if target < 0 {
				msg := fmt.Sprintf("Could not find request with name '%s'", *res.Next.Name)
				st.end("", msg)
				return st.report, errdef.New(errdef.CodeRunner, "%s", msg)
			}
			next = target
		}
		i = next

		if opts.Delay > 0 && i < len(items) {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
	}

	st.end("", "")
	log.V(1).Info("run finished",
		"passed", st.report.Summary.Passed,
		"failed", st.report.Summary.Failed,
		"skipped", st.report.Summary.Skipped,
		"errored", st.report.Summary.Errored)
	return st.report, nil
}

// threaded is the variable state carried from one item to the next.
type threaded struct {
	env     map[string]string
	runtime map[string]string
	global  map[string]string
	process map[string]string
}

type state struct {
	runner *Runner
	col    *collection.Collection
	report *Report
	start  time.Time
	vars   threaded
}

func (s *state) emit(e events.Event) {
	e.Time = s.runner.now()
	e.CollectionUID = s.col.UID
	e.RunUID = s.report.RunUID
	s.runner.sink.Emit(e)
}

// runItem executes one request and reports it. failed is true when the item
// errored or a check did not pass.
func (s *state) runItem(ctx context.Context, item *collection.Item) (res *execute.Result, failed bool) {
	req := item.Effective()
	out := ItemResult{ItemUID: item.UID(), Name: req.Name}
	s.report.Summary.Total++

	res, err := s.exec(ctx, item)
	out.Result, out.Err = res, err
	s.report.Items = append(s.report.Items, out)

	var requestUID string
	if res != nil {
		requestUID = res.RequestUID
		s.vars.env, s.vars.runtime, s.vars.global = res.EnvVars, res.RuntimeVars, res.GlobalVars
	}

	switch {
	case err != nil:
		s.report.Summary.Errored++
		s.runner.log.Info("request failed", "request", req.Name, "error", errdef.Message(err))
		s.emit(events.Event{Type: events.Error, ItemUID: item.UID(), RequestUID: requestUID, Error: errdef.Message(err)})
		return res, true
	case res == nil:
		s.report.Summary.Errored++
		s.emit(events.Event{Type: events.Error, ItemUID: item.UID(), Error: "no result"})
		return nil, true
	case res.IsCancel:
		s.report.Summary.Errored++
		s.emit(events.Event{Type: events.Error, ItemUID: item.UID(), RequestUID: requestUID, Error: res.Error, IsCancel: true})
		return res, true
	case res.Skipped:
		s.report.Summary.Skipped++
		s.emit(events.Event{Type: events.RunnerRequestSkipped, ItemUID: item.UID(), RequestUID: requestUID})
		return res, false
	}

	resp := res.Response
	s.emit(events.Event{
		Type:       events.ResponseReceived,
		ItemUID:    item.UID(),
		RequestUID: requestUID,
		Response: &events.ResponseSummary{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Headers,
			Size:       len(resp.Body),
			Duration:   resp.Duration,
			Redirects:  resp.Redirects,
		},
	})
	if res.Failed() {
		s.report.Summary.Failed++
		return res, true
	}
	s.report.Summary.Passed++
	return res, false
}

// exec shields the run from a panicking executor so one item cannot abort
// the others.
func (s *state) exec(ctx context.Context, item *collection.Item) (res *execute.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, errdef.New(errdef.CodeRunner, "request panicked: %v", v)
		}
	}()
	return s.runner.exec.Run(ctx, execute.RunInput{
		Collection:  s.col,
		Item:        item,
		RunUID:      s.report.RunUID,
		Background:  true,
		EnvVars:     s.vars.env,
		RuntimeVars: s.vars.runtime,
		GlobalVars:  s.vars.global,
		ProcessEnv:  s.vars.process,
	})
}

func (s *state) end(statusText, errMsg string) {
	s.report.StatusText = statusText
	s.report.Duration = s.runner.now().Sub(s.start)
	summary := s.report.Summary
	s.emit(events.Event{Type: events.TestrunEnded, StatusText: statusText, Error: errMsg, Summary: &summary})
}

func indexOf(items []*collection.Item, name string) int {
	for i, it := range items {
		if req := it.Effective(); req != nil && req.Name == name {
			return i
		}
	}
	return -1
}

func withChecks(items []*collection.Item) []*collection.Item {
	out := items[:0:0]
	for _, it := range items {
		req := it.Effective()
		if req == nil {
			continue
		}
		if req.Tests != "" || len(collection.EnabledPairs(req.Assertions)) > 0 {
			out = append(out, it)
		}
	}
	return out
}
