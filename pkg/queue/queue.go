package queue

import (
	"sync"
	"time"
)

// PendingCall is an HTTP call that failed and is waiting for another
// attempt.
type PendingCall struct {
	ID          string
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	NextAttempt time.Time
	Attempts    int
	MaxAttempts int
}

// RetryQueue holds pending calls until their next attempt is due.
type RetryQueue struct {
	mu    sync.Mutex
	calls []*PendingCall
}

func NewRetryQueue() *RetryQueue {
	return &RetryQueue{calls: make([]*PendingCall, 0)}
}

func (q *RetryQueue) Enqueue(call *PendingCall) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call)
}

// DequeueReady removes and returns the first call whose next attempt is
// due, or nil when nothing is ready.
func (q *RetryQueue) DequeueReady(now time.Time) *PendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, call := range q.calls {
		if !call.NextAttempt.After(now) {
			q.calls = append(q.calls[:i], q.calls[i+1:]...)
			return call
		}
	}
	return nil
}

// Requeue schedules another attempt after the given delay. It returns false
// when the call has exhausted its attempts, in which case it is dropped.
func (q *RetryQueue) Requeue(call *PendingCall, delay time.Duration) bool {
	call.Attempts++
	if call.Attempts >= call.MaxAttempts {
		return false
	}
	call.NextAttempt = time.Now().Add(delay)
	q.Enqueue(call)
	return true
}

func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// Snapshot copies the current contents for inspection.
func (q *RetryQueue) Snapshot() []*PendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := make([]*PendingCall, len(q.calls))
	copy(snapshot, q.calls)
	return snapshot
}
