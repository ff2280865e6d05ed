package execute

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

var ErrCancelTokenNotFound = errdef.New(errdef.CodeRunner, "cancel token not found")

// CancelRegistry tracks the abort handle of every in-flight request run.
// Entries live from Register until Remove.
type CancelRegistry struct {
	mu     sync.Mutex
	tokens map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{tokens: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context from parent and files its cancel
// func under a fresh uid.
func (r *CancelRegistry) Register(parent context.Context) (string, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	uid := uuid.NewString()

	r.mu.Lock()
	r.tokens[uid] = cancel
	r.mu.Unlock()
	return uid, ctx, cancel
}

func (r *CancelRegistry) Cancel(uid string) error {
	r.mu.Lock()
	cancel, ok := r.tokens[uid]
	delete(r.tokens, uid)
	r.mu.Unlock()

	if !ok {
		return ErrCancelTokenNotFound
	}
	cancel()
	return nil
}

func (r *CancelRegistry) Remove(uid string) {
	r.mu.Lock()
	delete(r.tokens, uid)
	r.mu.Unlock()
}

// Len reports how many runs are still registered.
func (r *CancelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
