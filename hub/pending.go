package hub

import (
	"sync"
	"time"
)

// How long an asynchronous call may stay unanswered before its pending
// entry is reclaimed, and how often the reclaim sweep runs.
const (
	pendingTTL   = 10 * time.Minute
	sweepEvery   = 30 * time.Second
	syncChanSize = 1
)

// callResult is what a waiting callAndWait handler receives when its
// pending entry is resolved.
type callResult struct {
	resp map[string]any
	err  error
}

// pendingCall tracks one routed call awaiting a reply. Synchronous
// entries carry a channel their waiting handler blocks on; asynchronous
// entries only remember where the eventual reply must be forwarded.
type pendingCall struct {
	msgID    string
	caller   string
	tag      string
	sync     bool
	ch       chan callResult
	deadline time.Time
}

// resolve hands the result to the synchronous waiter. The channel is
// buffered and only the goroutine that took the entry sends, so resolve
// never blocks.
func (pc *pendingCall) resolve(res callResult) {
	if pc.sync {
		pc.ch <- res
	}
}

// pendingSet is the hub-side table of calls in flight. Entries are
// removed exactly once: whichever of reply, timeout, caller cancellation
// or shutdown takes an entry first owns its resolution, and the rest
// find it gone.
type pendingSet struct {
	mu     sync.Mutex
	m      map[string]*pendingCall
	closed bool
}

func newPendingSet() *pendingSet {
	return &pendingSet{m: make(map[string]*pendingCall)}
}

// addSync registers a synchronous entry whose waiter will block on the
// returned entry's channel. Returns nil once the set has been drained
// for shutdown.
func (p *pendingSet) addSync(msgID, caller string, timeout time.Duration) *pendingCall {
	pc := &pendingCall{
		msgID:    msgID,
		caller:   caller,
		sync:     true,
		ch:       make(chan callResult, syncChanSize),
		deadline: deadlineFor(timeout),
	}
	if !p.put(pc) {
		return nil
	}
	return pc
}

// addAsync registers a tag-correlated entry to be resolved by a later
// reply and forwarded to the caller. Returns nil once the set has been
// drained for shutdown.
func (p *pendingSet) addAsync(msgID, caller, tag string) *pendingCall {
	pc := &pendingCall{
		msgID:    msgID,
		caller:   caller,
		tag:      tag,
		deadline: time.Now().Add(pendingTTL),
	}
	if !p.put(pc) {
		return nil
	}
	return pc
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Now().Add(pendingTTL)
	}
	return time.Now().Add(timeout)
}

func (p *pendingSet) put(pc *pendingCall) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.m[pc.msgID] = pc
	return true
}

// take removes and returns the entry for msgID. Only one caller can ever
// succeed for a given entry.
func (p *pendingSet) take(msgID string) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.m[msgID]
	if ok {
		delete(p.m, msgID)
	}
	return pc, ok
}

// drain removes and returns every entry and refuses all further puts.
// Used at shutdown to fail all waiters.
func (p *pendingSet) drain() []*pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	out := make([]*pendingCall, 0, len(p.m))
	for _, pc := range p.m {
		out = append(out, pc)
	}
	p.m = make(map[string]*pendingCall)
	return out
}

// expired removes and returns entries whose deadline has passed.
func (p *pendingSet) expired(now time.Time) []*pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*pendingCall
	for id, pc := range p.m {
		if now.After(pc.deadline) {
			delete(p.m, id)
			out = append(out, pc)
		}
	}
	return out
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
