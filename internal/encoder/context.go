package encoder

import "sync"

// submission ties one encoder submission to its target timestamp and
// force-keyframe flag across the asynchronous completion boundary.
type submission struct {
	targetTsNs uint64
	forceIDR   bool
}

// submissionTable is a single-owner transfer registry: attach on submit,
// take on completion (or on the submission-failure path if the submit
// never succeeded). take removes the entry, so release happens exactly
// once no matter which path runs.
type submissionTable struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]submission
}

func (t *submissionTable) attach(targetTsNs uint64, forceIDR bool) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		t.pending = make(map[uint64]submission)
	}
	t.next++
	t.pending[t.next] = submission{targetTsNs: targetTsNs, forceIDR: forceIDR}
	return t.next
}

func (t *submissionTable) take(token uint64) (submission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.pending[token]
	if ok {
		delete(t.pending, token)
	}
	return sub, ok
}

// outstanding reports how many submissions have not completed, used for
// shutdown accounting of abandoned in-flight frames.
func (t *submissionTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
