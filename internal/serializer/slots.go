// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"hash/maphash"
	"sync"

	"github.com/google/uuid"
)

const slotShards = 64

// slot is a one-token semaphore for a single event id. refs counts holders
// and waiters so the slot can be dropped once idle.
type slot struct {
	token chan struct{}
	refs  int
}

type slotShard struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

type slotTable struct {
	seed   maphash.Seed
	shards [slotShards]slotShard
}

func newSlotTable() *slotTable {
	t := &slotTable{seed: maphash.MakeSeed()}
	for i := range t.shards {
		t.shards[i].slots = make(map[uuid.UUID]*slot)
	}
	return t
}

func (t *slotTable) shard(id uuid.UUID) *slotShard {
	return &t.shards[maphash.Bytes(t.seed, id[:])%slotShards]
}

// acquire blocks until the caller owns id's slot or ctx is done. The
// returned func releases the slot and must be called exactly once.
func (t *slotTable) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	sh := t.shard(id)

	sh.mu.Lock()
	s, ok := sh.slots[id]
	if !ok {
		s = &slot{token: make(chan struct{}, 1)}
		sh.slots[id] = s
	}
	s.refs++
	sh.mu.Unlock()

	select {
	case s.token <- struct{}{}:
	case <-ctx.Done():
		t.unref(sh, id, s)
		return nil, ctx.Err()
	}

	return func() {
		<-s.token
		t.unref(sh, id, s)
	}, nil
}

func (t *slotTable) unref(sh *slotShard, id uuid.UUID, s *slot) {
	sh.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(sh.slots, id)
	}
	sh.mu.Unlock()
}

// size is the number of live slots, for tests.
func (t *slotTable) size() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].slots)
		t.shards[i].mu.Unlock()
	}
	return n
}
