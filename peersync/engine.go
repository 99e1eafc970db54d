// Package peersync replicates articles between peers.
//
// Inbound, a Session answers CHECK/IHAVE offers and hands transferred
// articles to the store. Outbound, a Feed per configured peer offers every
// article announced to the engine, skipping ids the peer's KnowledgeSet
// already holds.
package peersync

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/logging"
	"github.com/javi11/nntpchand/metrics"
	"github.com/javi11/nntpchand/store"
)

var logger = logging.Logger("peersync")

// Store is the part of the article store the engine needs.
type Store interface {
	Put(ctx context.Context, a *article.Article) (store.Outcome, error)
	Get(id string) (*article.Article, bool, error)
	Exists(id string) bool
}

// Config tunes the engine. Zero values take defaults.
type Config struct {
	KnowledgeSize     int
	QueueSize         int
	OfferTimeout      time.Duration
	RetryInterval     time.Duration
	ReconnectInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.KnowledgeSize <= 0 {
		c.KnowledgeSize = DefaultKnowledgeSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 10 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 30 * time.Second
	}
	return c
}

// Engine owns the knowledge sets and feeds.
type Engine struct {
	cfg     Config
	store   Store
	metrics *metrics.Metrics

	mu        sync.Mutex
	knowledge map[string]*KnowledgeSet
	feeds     []*Feed
	pending   map[string]string // message-id -> session holding the accept

	sessionSeq atomic.Uint64
}

func NewEngine(cfg Config, st Store, m *metrics.Metrics) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		store:     st,
		metrics:   m,
		knowledge: make(map[string]*KnowledgeSet),
		pending:   make(map[string]string),
	}
}

// Knowledge returns the knowledge set of peer, creating it on first use.
func (e *Engine) Knowledge(peer string) *KnowledgeSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.knowledge[peer]
	if !ok {
		k = NewKnowledgeSet(e.cfg.KnowledgeSize)
		e.knowledge[peer] = k
	}
	return k
}

func (e *Engine) learn(peer, id string) {
	k := e.Knowledge(peer)
	k.Add(id)
	e.metrics.KnowledgeSize(peer, k.Len())
}

// AddFeed registers an outbound feed. Call before Run.
func (e *Engine) AddFeed(p PeerConfig, dial Dialer) *Feed {
	f := &Feed{
		peer:      p,
		engine:    e,
		knowledge: e.Knowledge(p.Name),
		queue:     make(chan string, e.cfg.QueueSize),
		dial:      dial,
	}
	e.mu.Lock()
	e.feeds = append(e.feeds, f)
	e.mu.Unlock()
	return f
}

// Announce tells the engine a new article was stored. The origin peer (empty
// for local posts) is marked as knowing it, every other feed gets it
// queued. Announce never blocks; a full feed queue drops the id.
func (e *Engine) Announce(id, origin string) {
	if origin != "" {
		e.learn(origin, id)
	}

	e.mu.Lock()
	feeds := append([]*Feed(nil), e.feeds...)
	e.mu.Unlock()

	for _, f := range feeds {
		if f.peer.Name == origin || f.knowledge.Contains(id) {
			continue
		}
		if !f.enqueue(id) {
			logger.Warn("feed queue full, dropping offer", "peer", f.peer.Name, "message_id", id)
			e.metrics.Offer(f.peer.Name, "out", "dropped")
		}
	}
}

// Run drives every feed until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	feeds := append([]*Feed(nil), e.feeds...)
	e.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range feeds {
		g.Go(func() error { return f.Run(ctx) })
	}
	return g.Wait()
}

// NewSession starts inbound exchange tracking for one connection from peer.
func (e *Engine) NewSession(peer string) *Session {
	return &Session{
		engine:    e,
		peer:      peer,
		key:       peer + "#" + strconv.FormatUint(e.sessionSeq.Add(1), 10),
		knowledge: e.Knowledge(peer),
		knownBad:  make(map[string]struct{}),
		exchanges: make(map[string]*Exchange),
		now:       time.Now,
	}
}

// claimPending reserves id for the session owner. Only one connection at a
// time may hold an accepted, not yet transferred exchange for an id.
func (e *Engine) claimPending(id, owner string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if holder, ok := e.pending[id]; ok && holder != owner {
		return false
	}
	e.pending[id] = owner
	return true
}

func (e *Engine) releasePending(id, owner string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[id] == owner {
		delete(e.pending, id)
	}
}
