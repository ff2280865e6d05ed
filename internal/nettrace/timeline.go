package nettrace

import (
	"sort"
	"time"
)

type PhaseKind string

const (
	PhaseDNS      PhaseKind = "dns"
	PhaseConnect  PhaseKind = "connect"
	PhaseTLS      PhaseKind = "tls"
	PhaseReqBody  PhaseKind = "request_body"
	PhaseTTFB     PhaseKind = "ttfb"
	PhaseTransfer PhaseKind = "transfer"
)

type PhaseMeta struct {
	Addr   string
	Reused bool
}

type Phase struct {
	Kind     PhaseKind
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Err      string
	Meta     PhaseMeta
}

// Timeline is the phase breakdown of a single request/response exchange.
type Timeline struct {
	Started   time.Time
	Completed time.Time
	Duration  time.Duration
	Err       string
	Phases    []Phase
}

// Durations sums phase durations per kind. A nil timeline yields nil.
func (tl *Timeline) Durations() map[string]time.Duration {
	if tl == nil || len(tl.Phases) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(tl.Phases))
	for _, p := range tl.Phases {
		out[string(p.Kind)] += p.Duration
	}
	return out
}

func normalizePhases(phases []Phase) []Phase {
	if len(phases) <= 1 {
		return phases
	}

	sort.SliceStable(phases, func(i, j int) bool {
		if phases[i].Start.Equal(phases[j].Start) {
			return phases[i].End.Before(phases[j].End)
		}
		return phases[i].Start.Before(phases[j].Start)
	})
	return phases
}
