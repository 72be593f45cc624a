// Package pending tracks the newest of a series of asynchronous operations.
// Starting a new operation cancels the previous one, and results of a
// superseded operation are recognisably stale.
package pending

import (
	"context"
	"sync"
)

// Ticket identifies one operation started by Begin.
type Ticket uint64

// Latest is safe for concurrent use. The zero value is ready.
type Latest struct {
	mu     sync.Mutex
	seq    Ticket
	cancel context.CancelFunc
}

// Begin cancels the running operation, if any, and returns a context for
// the new one together with its ticket.
func (l *Latest) Begin(parent context.Context) (context.Context, Ticket) {
	ctx, cancel := context.WithCancel(parent)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	l.cancel = cancel
	return ctx, l.seq
}

// Current reports whether t is still the newest operation.
func (l *Latest) Current(t Ticket) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return t == l.seq && l.cancel != nil
}

// Done releases the context of t if it is still current. Results must be
// applied before calling Done.
func (l *Latest) Done(t Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t == l.seq && l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Cancel aborts the running operation. Its ticket stops being current.
func (l *Latest) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.seq++
}

// Apply runs fn under the tracker's lock if t is current. It returns false
// when the result is stale and fn was not called. fn must not call back
// into l.
func (l *Latest) Apply(t Ticket, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t != l.seq || l.cancel == nil {
		return false
	}
	fn()
	return true
}
