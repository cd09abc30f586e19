package workflow

import (
	"context"
	"sync"
	"time"
)

// notifier delivers pending-graph snapshots to a callback while attached.
// With a delay, bursts of changes collapse into the last snapshot.
type notifier struct {
	mu     sync.Mutex
	fn     func(Pending)
	delay  time.Duration
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	latest Pending
}

func (n *notifier) attach(parent context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	n.ctx, n.cancel = context.WithCancel(parent)
}

func (n *notifier) detach() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.ctx = nil
}

func (n *notifier) send(p Pending) {
	n.mu.Lock()
	if n.fn == nil || n.ctx == nil || n.ctx.Err() != nil {
		n.mu.Unlock()
		return
	}
	if n.delay <= 0 {
		fn := n.fn
		n.mu.Unlock()
		fn(p)
		return
	}
	n.latest = p
	if n.timer != nil {
		n.timer.Stop()
	}
	ctx := n.ctx
	n.timer = time.AfterFunc(n.delay, func() {
		n.mu.Lock()
		if ctx.Err() != nil {
			n.mu.Unlock()
			return
		}
		fn, latest := n.fn, n.latest
		n.timer = nil
		n.mu.Unlock()
		fn(latest)
	})
	n.mu.Unlock()
}
