package batch

import "sync"

// SignalTable delivers out-of-band pause/cancel requests to a running batch
// session, keyed by session id. The controller polls it only between batches:
// cancellation is cooperative, never preemptive. Injected rather than global
// so controllers stay testable in isolation.
type SignalTable struct {
	mu     sync.Mutex
	pause  map[string]bool
	cancel map[string]bool
}

func NewSignalTable() *SignalTable {
	return &SignalTable{
		pause:  make(map[string]bool),
		cancel: make(map[string]bool),
	}
}

// RequestPause asks the session to park at the next batch boundary.
func (t *SignalTable) RequestPause(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pause[sessionID] = true
}

// RequestCancel asks the session to stop at the next batch boundary.
func (t *SignalTable) RequestCancel(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel[sessionID] = true
}

func (t *SignalTable) PauseRequested(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pause[sessionID]
}

func (t *SignalTable) CancelRequested(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel[sessionID]
}

// Clear drops any pending signals for the session.
func (t *SignalTable) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pause, sessionID)
	delete(t.cancel, sessionID)
}
