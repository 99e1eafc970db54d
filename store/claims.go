package store

import (
	"context"
	"errors"
	"sync"
)

// errClaimStored tells a waiting writer that the claim holder stored the id.
var errClaimStored = errors.New("message-id stored by concurrent writer")

type claim struct {
	done   chan struct{}
	stored bool
}

// claimTable serialises writers per message-id. Writers of different ids
// only share the short critical section around the map.
type claimTable struct {
	mu sync.Mutex
	m  map[string]*claim
}

func newClaimTable() *claimTable {
	return &claimTable{m: make(map[string]*claim)}
}

// acquire returns the claim for id once no other writer holds it, or
// errClaimStored if the previous holder stored it.
func (t *claimTable) acquire(ctx context.Context, id string) (*claim, error) {
	for {
		t.mu.Lock()
		held, busy := t.m[id]
		if !busy {
			c := &claim{done: make(chan struct{})}
			t.m[id] = c
			t.mu.Unlock()
			return c, nil
		}
		t.mu.Unlock()

		select {
		case <-held.done:
			if held.stored {
				return nil, errClaimStored
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *claimTable) release(id string, c *claim, stored bool) {
	c.stored = stored
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
	close(c.done)
}
