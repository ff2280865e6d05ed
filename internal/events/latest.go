package events

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const retiredCacheSize = 4096

// Latest forwards only events from the newest run of each item. The first
// event carrying an unseen request uid makes that run current; events from
// earlier runs of the same item are dropped. Events with no item or request
// uid pass through.
//
// Supersession follows arrival order, so callers must emit the first event of
// each run (request-queued) in the order runs were submitted. Orchestrator.Run
// emits it synchronously before any work starts, which holds as long as runs
// of one item are started one after another rather than from racing
// goroutines.
type Latest struct {
	next    Sink
	mu      sync.Mutex
	current map[string]string
	retired *lru.Cache[string, struct{}]
}

func NewLatest(next Sink) *Latest {
	retired, _ := lru.New[string, struct{}](retiredCacheSize)
	return &Latest{next: next, current: make(map[string]string), retired: retired}
}

func (l *Latest) Emit(e Event) {
	if e.ItemUID == "" || e.RequestUID == "" {
		l.next.Emit(e)
		return
	}
	if !l.admit(e.ItemUID, e.RequestUID) {
		return
	}
	l.next.Emit(e)
}

func (l *Latest) admit(item, request string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retired.Contains(request) {
		return false
	}
	cur, ok := l.current[item]
	if ok && cur == request {
		return true
	}
	if ok {
		l.retired.Add(cur, struct{}{})
	}
	l.current[item] = request
	return true
}
