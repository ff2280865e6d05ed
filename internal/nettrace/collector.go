package nettrace

import (
	"sync"
	"time"
)

type phaseState struct {
	start time.Time
	meta  PhaseMeta
}

// Collector gathers phases reported from httptrace callbacks, which may fire
// on transport goroutines.
type Collector struct {
	mu       sync.Mutex
	started  time.Time
	finished time.Time
	err      string
	phases   []Phase
	active   map[PhaseKind]*phaseState
}

func NewCollector() *Collector {
	return &Collector{active: make(map[PhaseKind]*phaseState)}
}

func (c *Collector) Begin(kind PhaseKind, ts time.Time) {
	if kind == "" {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() || ts.Before(c.started) {
		c.started = ts
	}
	c.active[kind] = &phaseState{start: ts}
}

// Active reports whether kind has begun and not yet ended.
func (c *Collector) Active(kind PhaseKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[kind]
	return ok
}

func (c *Collector) End(kind PhaseKind, ts time.Time, err error) {
	if kind == "" {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.active[kind]
	if !ok {
		state = &phaseState{start: ts}
		if c.started.IsZero() {
			c.started = ts
		}
	}
	if ts.Before(state.start) {
		ts = state.start
	}

	phase := Phase{
		Kind:     kind,
		Start:    state.start,
		End:      ts,
		Duration: ts.Sub(state.start),
		Meta:     state.meta,
	}
	if err != nil {
		phase.Err = err.Error()
	}
	c.phases = append(c.phases, phase)
	delete(c.active, kind)
	if ts.After(c.finished) {
		c.finished = ts
	}
}

func (c *Collector) UpdateMeta(kind PhaseKind, fn func(*PhaseMeta)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if state := c.active[kind]; state != nil {
		fn(&state.meta)
	}
}

func (c *Collector) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == "" {
		c.err = err.Error()
	}
	c.mu.Unlock()
}

// Complete closes any phase still open at ts and marks it incomplete.
func (c *Collector) Complete(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.After(c.finished) {
		c.finished = ts
	}
	for kind, state := range c.active {
		c.phases = append(c.phases, Phase{
			Kind:     kind,
			Start:    state.start,
			End:      ts,
			Duration: ts.Sub(state.start),
			Meta:     state.meta,
			Err:      "incomplete",
		})
	}
	c.active = make(map[PhaseKind]*phaseState)
}

func (c *Collector) Timeline() *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.phases) == 0 && c.started.IsZero() {
		return nil
	}

	ph := make([]Phase, len(c.phases))
	copy(ph, c.phases)
	ph = normalizePhases(ph)

	tl := &Timeline{Started: c.started, Completed: c.finished, Err: c.err, Phases: ph}
	if !tl.Started.IsZero() && !tl.Completed.Before(tl.Started) {
		tl.Duration = tl.Completed.Sub(tl.Started)
	}
	return tl
}
