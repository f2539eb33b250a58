package nodecache

import "sync/atomic"

// CancelToken lets a caller abort a long-running search or tag query in
// progress. Setting it causes the in-progress SQL step to return
// SQLITE_INTERRUPT at the next progress-handler invocation (spec.md §5:
// "default every ~1000 VM instructions"). Cancellation is idempotent;
// already-committed mutations are never rolled back by it.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns a token in the not-cancelled state.
func NewCancelToken() *CancelToken { return &CancelToken{} }

// Cancel marks the token cancelled. Safe to call more than once or
// concurrently with the query it guards.
func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

// Cancelled reports the current state.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}

// progressHandlerSteps is how many SQLite VM instructions elapse between
// progress-handler invocations, matching spec.md §5's "~1000".
const progressHandlerSteps = 1000
