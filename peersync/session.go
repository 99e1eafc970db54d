package peersync

import (
	"context"
	"errors"
	"time"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/store"
)

// Decision answers an offer.
type Decision int

const (
	// Accept asks the peer to send the article.
	Accept Decision = iota
	// Reject means we have it, or will never take it in this session.
	Reject
	// Defer asks the peer to try later; another transfer is in flight.
	Defer
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	default:
		return "defer"
	}
}

// ErrNotWanted is returned by Receive for a transfer we would have
// rejected had it been offered first.
var ErrNotWanted = errors.New("article not wanted")

// Session holds the inbound exchange state of one peer connection. It is
// owned by that connection and not safe for concurrent use.
type Session struct {
	engine    *Engine
	peer      string
	key       string
	knowledge *KnowledgeSet

	// ids that failed validation; dropped with the session
	knownBad  map[string]struct{}
	exchanges map[string]*Exchange

	now func() time.Time
}

// Peer names the remote side.
func (s *Session) Peer() string { return s.peer }

// Check decides an offer of id (CHECK or IHAVE).
func (s *Session) Check(id string) Decision {
	s.sweep()

	if x, ok := s.exchanges[id]; ok && x.State == Accepted {
		return Accept
	}

	d := s.decide(id)
	x := newExchange(id, s.now())
	switch d {
	case Accept:
		_ = x.Advance(Accepted)
		s.exchanges[id] = x
	case Reject:
		_ = x.Advance(Rejected)
	}
	s.engine.metrics.Offer(s.peer, "in", d.String())
	return d
}

func (s *Session) decide(id string) Decision {
	if !article.ValidMessageID(id) {
		s.knownBad[id] = struct{}{}
		return Reject
	}
	if _, bad := s.knownBad[id]; bad {
		return Reject
	}
	if s.knowledge.Contains(id) {
		return Reject
	}
	if s.engine.store.Exists(id) {
		s.engine.learn(s.peer, id)
		return Reject
	}
	if !s.engine.claimPending(id, s.key) {
		return Defer
	}
	return Accept
}

// Receive completes the transfer of id. a is the parsed article, or nil
// with parseErr set when the body could not be parsed.
//
// A transfer without a preceding Check is treated as an implicit offer.
// Accepted and Duplicate outcomes both record the id as known to the peer;
// validation failures mark it known-bad for this session; storage failures
// leave it retryable.
func (s *Session) Receive(ctx context.Context, id string, a *article.Article, parseErr error) (store.Outcome, error) {
	x, ok := s.exchanges[id]
	if !ok || x.State != Accepted {
		switch s.Check(id) {
		case Accept:
			x = s.exchanges[id]
		case Defer:
			return 0, ErrNotWanted
		default:
			if _, bad := s.knownBad[id]; bad {
				return 0, &article.ValidationError{Field: "Message-ID", Reason: "rejected earlier in this session"}
			}
			return store.Duplicate, nil
		}
	}
	defer s.finish(id)

	if parseErr != nil {
		s.knownBad[id] = struct{}{}
		_ = x.Advance(Failed)
		s.engine.metrics.Offer(s.peer, "in", "invalid")
		return 0, parseErr
	}
	if a.MessageID != id {
		s.knownBad[id] = struct{}{}
		_ = x.Advance(Failed)
		s.engine.metrics.Offer(s.peer, "in", "protocol-error")
		return 0, &PeerProtocolError{Peer: s.peer, MessageID: id, Reason: "article carries Message-ID " + a.MessageID}
	}

	out, err := s.engine.store.Put(ctx, a)
	if err != nil {
		_ = x.Advance(Failed)
		if article.IsValidation(err) {
			s.knownBad[id] = struct{}{}
			s.engine.metrics.Offer(s.peer, "in", "invalid")
		} else {
			s.engine.metrics.Offer(s.peer, "in", "failed")
		}
		return 0, err
	}

	_ = x.Advance(Stored)
	s.engine.learn(s.peer, id)
	s.engine.metrics.Offer(s.peer, "in", out.String())
	if out == store.Accepted {
		s.engine.Announce(id, s.peer)
	}
	return out, nil
}

// Known reports whether id was marked bad in this session.
func (s *Session) Known(id string) bool {
	_, bad := s.knownBad[id]
	return bad
}

func (s *Session) finish(id string) {
	delete(s.exchanges, id)
	s.engine.releasePending(id, s.key)
}

// sweep times out accepted exchanges whose transfer never arrived.
func (s *Session) sweep() {
	now := s.now()
	for id, x := range s.exchanges {
		if x.Expired(now, s.engine.cfg.OfferTimeout) {
			_ = x.Advance(TimedOut)
			s.finish(id)
			s.engine.metrics.Offer(s.peer, "in", "timed-out")
			logger.Debug("offer timed out", "peer", s.peer, "message_id", id)
		}
	}
}

// Close releases every pending exchange; call when the connection ends.
func (s *Session) Close() {
	for id := range s.exchanges {
		s.finish(id)
	}
}
