package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/scripts"
)

type Type string

const (
	RequestQueued               Type = "request-queued"
	RequestSent                 Type = "request-sent"
	PreRequestScriptExecution   Type = "pre-request-script-execution"
	TestResultsPreRequest       Type = "test-results-pre-request"
	PostResponseScriptExecution Type = "post-response-script-execution"
	TestResultsPostResponse     Type = "test-results-post-response"
	AssertionResults            Type = "assertion-results"
	TestResults                 Type = "test-results"
	TestScriptExecution         Type = "test-script-execution"
	ResponseReceived            Type = "response-received"
	Error                       Type = "error"
	RunnerRequestSkipped        Type = "runner-request-skipped"
	TestrunStarted              Type = "testrun-started"
	TestrunEnded                Type = "testrun-ended"
)

type SentRequest struct {
	Method    string
	URL       string
	Headers   http.Header
	Body      string
	Timestamp time.Time
}

type ResponseSummary struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Size       int
	Duration   time.Duration
	Redirects  int
}

// Event is one lifecycle notification. Only the fields that belong to Type
// are set.
type Event struct {
	Type          Type
	Time          time.Time
	CollectionUID string
	ItemUID       string
	RequestUID    string
	RunUID        string

	CancelTokenUID string
	Request        *SentRequest
	Response       *ResponseSummary
	// ErrorMessage is nil when a script phase succeeded.
	ErrorMessage *string
	Tests        []scripts.TestResult
	Assertions   []scripts.AssertionResult

	Error      string
	IsCancel   bool
	StatusText string
	Summary    *RunSummary
}

type RunSummary struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int
}

type Sink interface {
	Emit(Event)
}

type FuncSink func(Event)

func (f FuncSink) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// ChanSink delivers events on a channel. Sends block until received.
type ChanSink chan<- Event

func (c ChanSink) Emit(e Event) {
	c <- e
}

type discard struct{}

func (discard) Emit(Event) {}

func Discard() Sink { return discard{} }

type tee []Sink

func (t tee) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}

// Tee fans every event out to each sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every event it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
