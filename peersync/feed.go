package peersync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PeerConfig describes one outbound peer.
type PeerConfig struct {
	Name     string
	Address  string
	Username string
	Password string
}

// Conn is an established connection to a peer, speaking the transfer
// commands. Codes are the raw NNTP reply codes.
type Conn interface {
	Stream() (bool, error)
	Check(id string) (int, error)
	TakeThis(id string, raw []byte) (int, error)
	IHave(id string, raw []byte) (int, error)
	Close() error
}

// Dialer opens a Conn to a peer.
type Dialer func(ctx context.Context, p PeerConfig) (Conn, error)

// Feed offers announced articles to one peer.
type Feed struct {
	peer      PeerConfig
	engine    *Engine
	knowledge *KnowledgeSet
	queue     chan string
	dial      Dialer
}

// Peer returns the feed's peer.
func (f *Feed) Peer() PeerConfig { return f.peer }

func (f *Feed) enqueue(id string) bool {
	select {
	case f.queue <- id:
		return true
	default:
		return false
	}
}

// Run connects to the peer and offers queued ids until ctx is done,
// reconnecting after failures.
func (f *Feed) Run(ctx context.Context) error {
	log := logger.With("peer", f.peer.Name, "address", f.peer.Address)
	for {
		err := f.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("peer feed disconnected", "error", err, "retry_in", f.engine.cfg.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.engine.cfg.ReconnectInterval):
		}
	}
}

// connect runs one connection. Ids the peer asked us to retry are kept
// only for the life of this connection.
func (f *Feed) connect(ctx context.Context) error {
	conn, err := f.dial(ctx, f.peer)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	streaming, err := conn.Stream()
	if err != nil {
		return fmt.Errorf("mode stream: %w", err)
	}
	logger.Info("peer feed connected", "peer", f.peer.Name, "streaming", streaming)

	var retry []string
	ticker := time.NewTicker(f.engine.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case id := <-f.queue:
			again, err := f.offer(conn, streaming, id)
			if err != nil {
				f.enqueue(id)
				return err
			}
			if again {
				retry = append(retry, id)
			}

		case <-ticker.C:
			pending := retry
			retry = nil
			for i, id := range pending {
				again, err := f.offer(conn, streaming, id)
				if err != nil {
					for _, rest := range pending[i:] {
						f.enqueue(rest)
					}
					return err
				}
				if again {
					retry = append(retry, id)
				}
			}
		}
	}
}

// offer runs one exchange. It reports whether the peer asked to retry
// later; errors are connection failures.
func (f *Feed) offer(conn Conn, streaming bool, id string) (bool, error) {
	if f.knowledge.Contains(id) {
		return false, nil
	}

	a, ok, err := f.engine.store.Get(id)
	if err != nil {
		logger.Warn("cannot load article for peer", "peer", f.peer.Name, "message_id", id, "error", err)
		return false, nil
	}
	if !ok {
		return false, nil
	}
	raw := a.Bytes()

	x := newExchange(id, time.Now())
	var result ExchangeState
	if streaming {
		result, err = f.stream(conn, x, raw)
	} else {
		result, err = f.ihave(conn, x, raw)
	}
	if err != nil {
		var pe *PeerProtocolError
		if errors.As(err, &pe) {
			logger.Warn("peer broke exchange", "peer", f.peer.Name, "message_id", id, "error", err)
			f.engine.metrics.Offer(f.peer.Name, "out", "protocol-error")
			return false, nil
		}
		return false, err
	}

	f.engine.metrics.Offer(f.peer.Name, "out", result.String())
	switch result {
	case Stored, Rejected:
		f.engine.learn(f.peer.Name, id)
		return false, nil
	default:
		// Failed or TimedOut: the peer wants it again later
		return true, nil
	}
}

func (f *Feed) stream(conn Conn, x *Exchange, raw []byte) (ExchangeState, error) {
	code, err := conn.Check(x.MessageID)
	if err != nil {
		return x.State, err
	}
	switch code {
	case 238:
		_ = x.Advance(Accepted)
	case 438:
		_ = x.Advance(Rejected)
		return x.State, nil
	case 431:
		_ = x.Advance(TimedOut)
		return x.State, nil
	default:
		return x.State, f.unexpected(x, "CHECK", code)
	}

	code, err = conn.TakeThis(x.MessageID, raw)
	if err != nil {
		return x.State, err
	}
	switch code {
	case 239:
		_ = x.Advance(Stored)
		return Stored, nil
	case 439:
		// the receiver also answers 439 for transient store failures;
		// a later CHECK yields 438 if it really has the article
		_ = x.Advance(Failed)
		return Failed, nil
	default:
		return x.State, f.unexpected(x, "TAKETHIS", code)
	}
}

func (f *Feed) ihave(conn Conn, x *Exchange, raw []byte) (ExchangeState, error) {
	code, err := conn.IHave(x.MessageID, raw)
	if err != nil {
		return x.State, err
	}
	switch code {
	case 235:
		_ = x.Advance(Accepted)
		_ = x.Advance(Stored)
	case 435, 437:
		_ = x.Advance(Rejected)
	case 436:
		_ = x.Advance(Accepted)
		_ = x.Advance(Failed)
	default:
		return x.State, f.unexpected(x, "IHAVE", code)
	}
	return x.State, nil
}

func (f *Feed) unexpected(x *Exchange, cmd string, code int) error {
	return &PeerProtocolError{
		Peer:      f.peer.Name,
		MessageID: x.MessageID,
		Reason:    fmt.Sprintf("unexpected %s reply %d", cmd, code),
	}
}
