package scripts

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Request is the view of an outgoing request handed to scripts. Pre-request
// scripts may mutate it.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers http.Header
	Body    string
	Timeout time.Duration
}

func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = r.Headers.Clone()
	return &out
}

type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	URL        string
}

type LogFunc func(level string, args []any)

type Input struct {
	Source   string
	Request  *Request
	Response *Response

	EnvVars     map[string]string
	RuntimeVars map[string]string
	GlobalVars  map[string]string
	ProcessEnv  map[string]string

	CollectionPath string
	CollectionName string
	OnLog          LogFunc
}

// Jump records a script's setNextRequest call. Set is false when the script
// never called it. A nil Name asks the runner to stop after this item.
type Jump struct {
	Set  bool
	Name *string
}

type Output struct {
	// Request is the request as the script left it.
	Request     *Request
	EnvVars     map[string]string
	RuntimeVars map[string]string
	GlobalVars  map[string]string
	Results     []TestResult
	Next        Jump
	Stop        bool
	Skip        bool
}

type TestResult struct {
	Name    string
	Passed  bool
	Error   string
	Elapsed time.Duration
}

// Pair is a name and expression, used for post-response vars and assertions.
type Pair struct {
	Name  string
	Value string
}

type AssertionResult struct {
	LHS      string
	RHS      string
	Operator string
	Passed   bool
	Error    string
}

// Engine runs the scripting phases of one request.
type Engine interface {
	RunRequestScript(ctx context.Context, in Input) (*Output, error)
	RunResponseScript(ctx context.Context, in Input) (*Output, error)
	// RunTests may fail with a *PartialError carrying the results recorded
	// before the script threw.
	RunTests(ctx context.Context, in Input) (*Output, error)
	RunPostResponseVars(ctx context.Context, vars []Pair, in Input) (*Output, error)
	RunAssertions(ctx context.Context, assertions []Pair, in Input) ([]AssertionResult, error)
}

type PartialError struct {
	Output *Output
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("test script failed: %v", e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}
