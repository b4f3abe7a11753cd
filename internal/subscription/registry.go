// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/adiadia/live-scoreboard/internal/metrics"
	"github.com/google/uuid"
)

// Snapshotter reads the current state of an event while holding its
// ordering slot, so that registration and catch-up happen between two
// commits and never straddle one.
type Snapshotter interface {
	Snapshot(ctx context.Context, eventID uuid.UUID, observe func(domain.EventRecord)) (domain.EventRecord, error)
}

// eventSet is the observer set of one event id. A retired set has been
// removed from the index and must not be reused.
type eventSet struct {
	mu      sync.Mutex
	conns   map[uuid.UUID]*Conn
	retired bool
}

// Registry maps event ids to observer connections and back. Each id's set
// is guarded by its own mutex; there is no registry-wide lock.
type Registry struct {
	sets   sync.Map // uuid.UUID -> *eventSet
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Subscribe registers conn for eventID and enqueues the catch-up state on
// its queue. The returned record is that catch-up state.
func (r *Registry) Subscribe(ctx context.Context, conn *Conn, eventID uuid.UUID, source Snapshotter) (domain.EventRecord, error) {
	registered := false
	rec, err := source.Snapshot(ctx, eventID, func(current domain.EventRecord) {
		if !r.add(conn, eventID) {
			return
		}
		registered = true
		conn.Enqueue(StateMessage(current))
	})
	if err != nil {
		return domain.EventRecord{}, err
	}
	if !registered {
		return domain.EventRecord{}, ErrConnClosed
	}

	r.logger.Debug("subscription added",
		"conn_id", conn.ID,
		"event_id", eventID,
		"version", rec.Version,
	)
	return rec, nil
}

// Unsubscribe removes conn from eventID's set. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(conn *Conn, eventID uuid.UUID) {
	if !conn.unwatch(eventID) {
		return
	}
	r.remove(conn, eventID)
	r.logger.Debug("subscription removed", "conn_id", conn.ID, "event_id", eventID)
}

// DropConnection removes every subscription held by conn and closes its
// queue. Safe to call more than once.
func (r *Registry) DropConnection(conn *Conn) {
	ids, first := conn.markDropped()
	if !first {
		return
	}
	for _, id := range ids {
		r.remove(conn, id)
	}
	conn.Close()
	metrics.DecLiveConnections()

	r.logger.Debug("connection dropped", "conn_id", conn.ID, "subscriptions", len(ids))
}

// Track counts conn as a live connection. Paired with DropConnection.
func (r *Registry) Track(conn *Conn) {
	metrics.IncLiveConnections()
	r.logger.Debug("connection tracked", "conn_id", conn.ID)
}

// Subscribers returns the connections currently watching eventID.
func (r *Registry) Subscribers(eventID uuid.UUID) []*Conn {
	v, ok := r.sets.Load(eventID)
	if !ok {
		return nil
	}
	set := v.(*eventSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]*Conn, 0, len(set.conns))
	for _, c := range set.conns {
		out = append(out, c)
	}
	return out
}

// Detach removes every subscription for eventID and returns the connections
// that held one. Used to fence subscribers off before an event is deleted.
func (r *Registry) Detach(eventID uuid.UUID) []*Conn {
	v, ok := r.sets.Load(eventID)
	if !ok {
		return nil
	}
	set := v.(*eventSet)

	set.mu.Lock()
	out := make([]*Conn, 0, len(set.conns))
	for _, c := range set.conns {
		c.unwatch(eventID)
		out = append(out, c)
	}
	set.conns = nil
	set.retired = true
	r.sets.CompareAndDelete(eventID, set)
	set.mu.Unlock()

	metrics.AddLiveSubscriptions(-len(out))
	return out
}

// Count returns the number of connections watching eventID.
func (r *Registry) Count(eventID uuid.UUID) int {
	v, ok := r.sets.Load(eventID)
	if !ok {
		return 0
	}
	set := v.(*eventSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.conns)
}

func (r *Registry) add(conn *Conn, eventID uuid.UUID) bool {
	if !conn.watch(eventID) {
		return false
	}

	for {
		v, _ := r.sets.LoadOrStore(eventID, &eventSet{conns: make(map[uuid.UUID]*Conn)})
		set := v.(*eventSet)

		set.mu.Lock()
		if set.retired {
			set.mu.Unlock()
			continue
		}
		if _, exists := set.conns[conn.ID]; !exists {
			set.conns[conn.ID] = conn
			metrics.AddLiveSubscriptions(1)
		}
		set.mu.Unlock()

		// lost a race with DropConnection
		if conn.isDropped() {
			r.remove(conn, eventID)
			return false
		}
		return true
	}
}

func (r *Registry) remove(conn *Conn, eventID uuid.UUID) {
	v, ok := r.sets.Load(eventID)
	if !ok {
		return
	}
	set := v.(*eventSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	if set.retired {
		return
	}
	if _, exists := set.conns[conn.ID]; !exists {
		return
	}
	delete(set.conns, conn.ID)
	metrics.AddLiveSubscriptions(-1)

	if len(set.conns) == 0 {
		set.retired = true
		r.sets.CompareAndDelete(eventID, set)
	}
}
