// Package nntpserver serves the reader, posting and peering subset of NNTP
// on top of the article store and the peer sync engine.
package nntpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/textproto"
	"sync"
	"sync/atomic"
	"time"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/auth"
	"github.com/javi11/nntpchand/frontend"
	"github.com/javi11/nntpchand/logging"
	"github.com/javi11/nntpchand/metrics"
	"github.com/javi11/nntpchand/peersync"
	"github.com/javi11/nntpchand/store"
)

var logger = logging.Logger("nntp")

// Config holds the listener settings and protocol limits.
type Config struct {
	Address        string
	InstanceName   string
	MaxLineLength  int
	MaxArticleSize int
	IdleTimeout    time.Duration
	AllowPost      bool

	// Peers maps inbound connections to peer names by host.
	Peers []peersync.PeerConfig
}

// Store is the article store as seen by the protocol engine.
type Store interface {
	peersync.Store
	Group(name string) (store.GroupInfo, bool, error)
	Groups() ([]store.GroupInfo, error)
	Lookup(group string, n int64) (string, bool, error)
	ListGroup(group string, r store.Range) iter.Seq2[store.Entry, error]
	Path(id string) (string, bool)
}

// Notifier receives accepted articles without blocking.
type Notifier interface {
	Submit(ev frontend.Event) bool
}

// Deps are the collaborators of a Server. Store is required.
type Deps struct {
	Store    Store
	Engine   *peersync.Engine
	Logins   auth.LoginDB
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Server accepts connections and runs one session per connection.
type Server struct {
	Handlers map[string]Handler

	cfg      Config
	store    Store
	engine   *peersync.Engine
	logins   auth.LoginDB
	notifier Notifier
	metrics  *metrics.Metrics

	peerHosts map[string]string

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	ln      net.Listener
	conns   map[net.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
	connSeq atomic.Uint64
}

func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("nntpserver: a store is required")
	}
	if cfg.InstanceName == "" {
		return nil, errors.New("nntpserver: instance name is required")
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = 4096
	}
	if cfg.MaxArticleSize <= 0 {
		cfg.MaxArticleSize = 10 << 20
	}
	engine := deps.Engine
	if engine == nil {
		engine = peersync.NewEngine(peersync.Config{}, deps.Store, deps.Metrics)
	}

	hosts := make(map[string]string)
	for _, p := range cfg.Peers {
		host, _, err := net.SplitHostPort(p.Address)
		if err != nil {
			host = p.Address
		}
		hosts[host] = p.Name
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Handlers:  defaultHandlers(),
		cfg:       cfg,
		store:     deps.Store,
		engine:    engine,
		logins:    deps.Logins,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		peerHosts: hosts,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	logger.Info("listening", "address", ln.Addr().String(), "instance", s.cfg.InstanceName)
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr is the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			logger.Error("accept failed", "error", err)
			return
		}
		if !s.track(nc) {
			nc.Close()
			return
		}
		s.wg.Add(1)
		go s.process(nc)
	}
}

func (s *Server) track(nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[nc] = struct{}{}
	return true
}

func (s *Server) untrack(nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, nc)
}

// process runs an NNTP session on nc until the client quits, the
// connection fails or idles out, or the server closes.
func (s *Server) process(nc net.Conn) {
	defer s.wg.Done()
	defer s.untrack(nc)
	defer nc.Close()

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()

	log := logger.With("remote", nc.RemoteAddr().String(), "conn", s.connSeq.Add(1))
	lr := newLineReader(nc, s.cfg.MaxLineLength)
	w := textproto.NewWriter(bufio.NewWriter(nc))

	sess := &session{
		server: s,
		w:      w,
		log:    log,
		remote: nc.RemoteAddr(),
		state:  stateReady,
	}
	if s.logins != nil {
		sess.state = stateUnauthenticated
	}
	defer sess.close()

	s.touch(nc)
	if s.cfg.AllowPost {
		w.PrintfLine("200 %s nntpchand ready, posting allowed", s.cfg.InstanceName)
	} else {
		w.PrintfLine("201 %s nntpchand ready, no posting", s.cfg.InstanceName)
	}
	log.Debug("connection opened")

	for {
		s.touch(nc)
		line, err := lr.ReadLine()
		switch {
		case errors.Is(err, errLineTooLong):
			err = sess.overlong()
		case err != nil:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed, dropping conn", "error", err, "state", sess.state)
			}
			return
		default:
			err = sess.feed(s.ctx, line)
		}

		if err != nil {
			if err != errQuit {
				log.Debug("dropping conn", "error", err, "state", sess.state)
			}
			return
		}
	}
}

func (s *Server) touch(nc net.Conn) {
	if s.cfg.IdleTimeout > 0 {
		nc.SetDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

// Close stops accepting, closes every connection and waits for their
// sessions to end.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// peerName identifies the remote side of a peering session: the
// authenticated user, else a configured peer with a matching host, else
// the remote host.
func (s *Server) peerName(user string, remote net.Addr) string {
	if user != "" {
		return user
	}
	host := remote.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if name, ok := s.peerHosts[host]; ok {
		return name
	}
	return host
}

// prepareLocal fills in the headers a locally posted article may lack.
func (s *Server) prepareLocal(a *article.Article) {
	if a.Get("Message-ID") == "" {
		a.Set("Message-ID", article.GenerateMessageID(s.cfg.InstanceName))
	}
	if a.Get("Date") == "" {
		a.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	}
	if p := a.Get("Path"); p != "" {
		a.Set("Path", s.cfg.InstanceName+"!"+p)
	} else {
		a.Set("Path", s.cfg.InstanceName)
	}
}

func frontendEvent(a *article.Article, path string) frontend.Event {
	return frontend.Event{
		MessageID:  a.MessageID,
		Path:       path,
		Newsgroups: a.Newsgroups,
	}
}
