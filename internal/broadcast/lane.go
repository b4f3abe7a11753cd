// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/metrics"
	"github.com/adiadia/live-scoreboard/internal/subscription"
)

// job is one committed change waiting for fan-out. targets is set only for
// removal notices, whose subscribers were detached at hand-off time.
type job struct {
	rec     domain.EventRecord
	removed bool
	targets []*subscription.Conn
}

// lane is an unbounded FIFO drained by a single goroutine. All jobs of one
// event id land on the same lane, so their order is kept.
type lane struct {
	mu      sync.Mutex
	backlog []job
	notify  chan struct{}
	closed  bool
}

func newLane() *lane {
	return &lane{notify: make(chan struct{}, 1)}
}

func (l *lane) push(j job) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.backlog = append(l.backlog, j)
	l.mu.Unlock()
	metrics.AddLaneBacklog(1)

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return true
}

// take removes everything queued so far.
func (l *lane) take() []job {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.backlog
	l.backlog = nil
	return out
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *lane) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed && len(l.backlog) == 0
}

func (l *lane) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog)
}

// run drains the lane until ctx is done or the lane is closed and empty.
func (l *lane) run(ctx context.Context, deliver func(job)) {
	for {
		for _, j := range l.take() {
			deliver(j)
			metrics.AddLaneBacklog(-1)
		}
		if l.isClosed() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}
	}
}
