// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/adiadia/live-scoreboard/internal/domain"
	"github.com/google/uuid"
)

const DefaultQueueSize = 16

var ErrConnClosed = errors.New("connection closed")

type MessageType string

const (
	MessageState   MessageType = "event.state"
	MessageRemoved MessageType = "event.removed"
)

// Message is one outbound push to an observer.
type Message struct {
	Type    MessageType         `json:"type"`
	EventID uuid.UUID           `json:"event_id"`
	Version domain.Version      `json:"version"`
	Event   *domain.EventRecord `json:"event,omitempty"`
}

func StateMessage(rec domain.EventRecord) Message {
	return Message{Type: MessageState, EventID: rec.ID, Version: rec.Version, Event: &rec}
}

func RemovedMessage(rec domain.EventRecord) Message {
	return Message{Type: MessageRemoved, EventID: rec.ID, Version: rec.Version}
}

// Conn is the registry-side view of one observer connection: a bounded
// outbound queue drained by the connection's own send loop, plus the set of
// event ids it watches.
type Conn struct {
	ID uuid.UUID

	mu       sync.Mutex
	queue    []Message
	capacity int
	notify   chan struct{}
	closed   bool
	dropped  bool
	watching map[uuid.UUID]struct{}
	// last version enqueued per event id; older or equal states are stale
	lastVersion map[uuid.UUID]domain.Version
	overflows   uint64
}

func NewConn(capacity int) *Conn {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Conn{
		ID:          uuid.New(),
		capacity:    capacity,
		notify:      make(chan struct{}, 1),
		watching:    make(map[uuid.UUID]struct{}),
		lastVersion: make(map[uuid.UUID]domain.Version),
	}
}

type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	// EnqueuedWithDrop means the queue was full and a superseded state was
	// discarded to make room.
	EnqueuedWithDrop
	SkippedStale
	SkippedNotWatching
	SkippedClosed
)

// Enqueue appends msg to the outbound queue without blocking. States are
// only accepted for watched events and only when newer than the last state
// enqueued for that event.
func (c *Conn) Enqueue(msg Message) EnqueueResult {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return SkippedClosed
	}

	if msg.Type == MessageState {
		if _, ok := c.watching[msg.EventID]; !ok {
			c.mu.Unlock()
			return SkippedNotWatching
		}
		if last, ok := c.lastVersion[msg.EventID]; ok && msg.Version <= last {
			c.mu.Unlock()
			return SkippedStale
		}
		c.lastVersion[msg.EventID] = msg.Version
	}

	res := Enqueued
	if len(c.queue) >= c.capacity && c.evictLocked(msg) {
		c.overflows++
		res = EnqueuedWithDrop
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return res
}

// evictLocked makes room for msg in a full queue by dropping one state that
// a newer queued message makes obsolete: first a state for msg's own event,
// then the oldest state whose event has a later message queued. Removal
// notices and the newest state of each event are never dropped, so a full
// queue of those grows past capacity by at most one entry per watched
// event. Caller holds c.mu.
func (c *Conn) evictLocked(msg Message) bool {
	for i, queued := range c.queue {
		if queued.Type == MessageState && queued.EventID == msg.EventID {
			c.queue = slices.Delete(c.queue, i, i+1)
			return true
		}
	}

	last := make(map[uuid.UUID]int, len(c.queue))
	for i, queued := range c.queue {
		last[queued.EventID] = i
	}
	for i, queued := range c.queue {
		if queued.Type == MessageState && last[queued.EventID] > i {
			c.queue = slices.Delete(c.queue, i, i+1)
			return true
		}
	}
	return false
}

// Next blocks until a message is available, the connection is closed or
// ctx is done.
func (c *Conn) Next(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return Message{}, ErrConnClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.notify:
		}
	}
}

// Close stops delivery. Messages still queued are discarded.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued messages.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Overflows returns how many queued messages were dropped to make room.
func (c *Conn) Overflows() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflows
}

// Watching returns the event ids this connection is subscribed to.
func (c *Conn) Watching() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.watching))
	for id := range c.watching {
		out = append(out, id)
	}
	return out
}

func (c *Conn) watch(eventID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return false
	}
	c.watching[eventID] = struct{}{}
	return true
}

func (c *Conn) unwatch(eventID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watching[eventID]; !ok {
		return false
	}
	delete(c.watching, eventID)
	delete(c.lastVersion, eventID)
	return true
}

func (c *Conn) isDropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// markDropped flips the connection into the dropped state once and returns
// the ids it was watching at that moment.
func (c *Conn) markDropped() ([]uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropped {
		return nil, false
	}
	c.dropped = true
	ids := make([]uuid.UUID, 0, len(c.watching))
	for id := range c.watching {
		ids = append(ids, id)
	}
	c.watching = make(map[uuid.UUID]struct{})
	c.lastVersion = make(map[uuid.UUID]domain.Version)
	return ids, true
}
