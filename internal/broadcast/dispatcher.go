// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"context"
	"hash/maphash"
	"log/slog"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/metrics"
	"github.com/adiadia/live-scoreboard/internal/subscription"
	"github.com/google/uuid"
)

const DefaultLanes = 8

// Router is the part of the subscription registry the dispatcher reads.
type Router interface {
	Subscribers(eventID uuid.UUID) []*subscription.Conn
	Detach(eventID uuid.UUID) []*subscription.Conn
}

// Dispatcher fans committed records out to observer queues. Hand-off never
// blocks the caller; delivery happens on the event's lane goroutine.
type Dispatcher struct {
	router Router
	logger *slog.Logger
	seed   maphash.Seed
	lanes  []*lane

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(router Router, lanes int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if lanes <= 0 {
		lanes = DefaultLanes
	}

	d := &Dispatcher{
		router: router,
		logger: logger,
		seed:   maphash.MakeSeed(),
		lanes:  make([]*lane, lanes),
	}
	for i := range d.lanes {
		d.lanes[i] = newLane()
	}
	return d
}

// Start launches one goroutine per lane. They exit when ctx is done or
// after Stop has drained the lanes.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i, l := range d.lanes {
			d.wg.Add(1)
			go func(idx int, l *lane) {
				defer d.wg.Done()
				l.run(ctx, d.deliver)
				d.logger.Debug("dispatch lane stopped", "lane", idx)
			}(i, l)
		}
		d.logger.Info("dispatcher started", "lanes", len(d.lanes))
	})
}

// Stop refuses new hand-offs, lets the lanes drain and waits for them.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		for _, l := range d.lanes {
			l.close()
		}
		d.wg.Wait()
		d.logger.Info("dispatcher stopped")
	})
}

// Publish hands a committed state to its event's lane.
func (d *Dispatcher) Publish(rec domain.EventRecord) {
	if !d.laneFor(rec.ID).push(job{rec: rec}) {
		d.logger.Warn("publish after dispatcher stop", "event_id", rec.ID, "version", rec.Version)
	}
}

// PublishRemoved detaches every observer of rec.ID right away and queues
// the terminal notice for exactly those connections.
func (d *Dispatcher) PublishRemoved(rec domain.EventRecord) {
	targets := d.router.Detach(rec.ID)
	if len(targets) == 0 {
		return
	}
	if !d.laneFor(rec.ID).push(job{rec: rec, removed: true, targets: targets}) {
		d.logger.Warn("publish after dispatcher stop", "event_id", rec.ID, "version", rec.Version)
	}
}

// Backlog is the number of jobs not yet fanned out.
func (d *Dispatcher) Backlog() int {
	n := 0
	for _, l := range d.lanes {
		n += l.size()
	}
	return n
}

func (d *Dispatcher) laneFor(id uuid.UUID) *lane {
	return d.lanes[maphash.Bytes(d.seed, id[:])%uint64(len(d.lanes))]
}

func (d *Dispatcher) deliver(j job) {
	var (
		msg     subscription.Message
		targets []*subscription.Conn
	)
	if j.removed {
		msg = subscription.RemovedMessage(j.rec)
		targets = j.targets
	} else {
		msg = subscription.StateMessage(j.rec)
		targets = d.router.Subscribers(j.rec.ID)
	}

	for _, conn := range targets {
		switch conn.Enqueue(msg) {
		case subscription.Enqueued:
			metrics.IncMessagesEnqueued(string(msg.Type))
		case subscription.EnqueuedWithDrop:
			metrics.IncMessagesEnqueued(string(msg.Type))
			metrics.IncChannelOverflow()
			d.logger.Warn("live channel overflow, dropped superseded state",
				"conn_id", conn.ID,
				"event_id", j.rec.ID,
				"version", j.rec.Version,
			)
		}
	}
}
