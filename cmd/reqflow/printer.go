package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/events"
)

// printer renders run events as a plain text report.
type printer struct {
	w  io.Writer
	mu sync.Mutex
}

func (p *printer) Emit(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Type {
	case events.RequestSent:
		if e.Request != nil {
			fmt.Fprintf(p.w, "-> %s %s\n", e.Request.Method, e.Request.URL)
		}
	case events.ResponseReceived:
		if r := e.Response; r != nil {
			fmt.Fprintf(p.w, "<- %s (%d bytes, %s)\n", r.Status, r.Size, r.Duration.Round(time.Millisecond))
		}
	case events.PreRequestScriptExecution, events.PostResponseScriptExecution, events.TestScriptExecution:
		if e.ErrorMessage != nil {
			fmt.Fprintf(p.w, "   ! %s: %s\n", e.Type, *e.ErrorMessage)
		}
	case events.TestResultsPreRequest, events.TestResultsPostResponse, events.TestResults:
		for _, t := range e.Tests {
			if t.Passed {
				fmt.Fprintf(p.w, "   ✓ %s\n", t.Name)
			} else {
				fmt.Fprintf(p.w, "   ✗ %s: %s\n", t.Name, t.Error)
			}
		}
	case events.AssertionResults:
		for _, a := range e.Assertions {
			if a.Passed {
				fmt.Fprintf(p.w, "   ✓ assert %s: %s\n", a.LHS, a.RHS)
			} else {
				fmt.Fprintf(p.w, "   ✗ assert %s: %s (%s)\n", a.LHS, a.RHS, a.Error)
			}
		}
	case events.RunnerRequestSkipped:
		fmt.Fprintf(p.w, "-- skipped %s\n", e.ItemUID)
	case events.Error:
		fmt.Fprintf(p.w, "!! %s: %s\n", e.ItemUID, e.Error)
	case events.TestrunEnded:
		p.summary(e)
	}
}

func (p *printer) summary(e events.Event) {
	if e.Error != "" {
		fmt.Fprintf(p.w, "run aborted: %s\n", e.Error)
	}
	if e.StatusText != "" {
		fmt.Fprintf(p.w, "run %s\n", e.StatusText)
	}
	if s := e.Summary; s != nil {
		fmt.Fprintf(p.w, "\n%d requests: %d passed, %d failed, %d errored, %d skipped\n",
			s.Total, s.Passed, s.Failed, s.Errored, s.Skipped)
	}
}

// jsonPrinter writes one JSON object per event.
type jsonPrinter struct {
	w  io.Writer
	mu sync.Mutex
}

func (p *jsonPrinter) Emit(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = json.NewEncoder(p.w).Encode(e)
}
