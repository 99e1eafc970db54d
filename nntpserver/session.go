package nntpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strings"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/peersync"
	"github.com/javi11/nntpchand/store"
)

type state int

const (
	stateUnauthenticated state = iota
	stateReady
	stateReading
	statePosting
	stateTransferring
)

func (s state) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateReady:
		return "ready"
	case stateReading:
		return "reading"
	case statePosting:
		return "posting"
	case stateTransferring:
		return "transferring"
	default:
		return "unknown"
	}
}

type mode int

const (
	modeReader mode = iota
	modeStream
)

// Commands accepted before authentication.
var preAuth = map[string]bool{
	"capabilities": true,
	"authinfo":     true,
	"mode":         true,
	"quit":         true,
}

type transferKind int

const (
	transferPost transferKind = iota
	transferIHave
	transferTakeThis
)

// pending is an article body being received, line by line.
type pending struct {
	kind transferKind
	id   string
	buf  bytes.Buffer

	// set when the body broke a limit; the rest is drained and discarded
	fault error
}

// session is the protocol state of one connection. It is fed one line at a
// time and writes its replies to w.
type session struct {
	server *Server
	w      *textproto.Writer
	log    *slog.Logger
	remote net.Addr

	state  state
	resume state // state to return to after a body
	mode   mode

	authUser string // from AUTHINFO USER, awaiting PASS
	user     string

	group   string
	current int64

	body *pending
	peer *peersync.Session
}

func (s *session) authenticated() bool {
	return s.state != stateUnauthenticated
}

// feed handles one input line.
func (s *session) feed(ctx context.Context, line string) error {
	if s.body != nil {
		return s.bodyLine(ctx, line)
	}
	return s.command(ctx, line)
}

// overlong handles a line that exceeded the length limit. Inside a body the
// article is spoiled but the body is still drained to its terminator.
func (s *session) overlong() error {
	if s.body != nil {
		if s.body.fault == nil {
			s.body.fault = &article.ValidationError{Field: "body", Reason: "line too long"}
			s.body.buf.Reset()
		}
		return nil
	}
	return s.reply(ErrLineTooLong)
}

func (s *session) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return s.reply(ErrUnknownCommand)
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	handler, found := s.server.Handlers[name]
	if !found {
		s.server.metrics.Command("unknown")
		return s.reply(ErrUnknownCommand)
	}
	s.server.metrics.Command(name)

	if !s.authenticated() && !preAuth[name] {
		if name == "takethis" {
			// the article follows without waiting for a reply
			s.expect(transferTakeThis, "")
			s.body.fault = ErrNotAuthenticated
			return nil
		}
		return s.reply(ErrNotAuthenticated)
	}
	return s.reply(handler(ctx, args, s))
}

// reply writes err as a status line when it is an NNTPError and passes any
// other error through.
func (s *session) reply(err error) error {
	var ne *NNTPError
	if errors.As(err, &ne) {
		return s.w.PrintfLine("%s", ne.Error())
	}
	return err
}

// expect switches to body collection.
func (s *session) expect(kind transferKind, id string) {
	s.body = &pending{kind: kind, id: id}
	s.resume = s.state
	if kind == transferPost {
		s.state = statePosting
	} else {
		s.state = stateTransferring
	}
}

func (s *session) bodyLine(ctx context.Context, line string) error {
	p := s.body
	if line == "." {
		s.body = nil
		s.state = s.resume
		return s.complete(ctx, p)
	}
	if p.fault != nil {
		return nil
	}
	if strings.HasPrefix(line, ".") {
		line = line[1:]
	}
	if p.buf.Len()+len(line)+2 > s.server.cfg.MaxArticleSize {
		p.fault = &article.ValidationError{Field: "body", Reason: "article too large"}
		p.buf.Reset()
		return nil
	}
	p.buf.WriteString(line)
	p.buf.WriteString("\r\n")
	return nil
}

func (s *session) complete(ctx context.Context, p *pending) error {
	var a *article.Article
	err := p.fault
	if err == nil {
		a, err = article.Parse(p.buf.Bytes())
	}

	switch p.kind {
	case transferPost:
		return s.reply(s.finishPost(ctx, a, err))
	case transferIHave:
		return s.finishIHave(ctx, p.id, a, err)
	default:
		return s.finishTakeThis(ctx, p.id, a, err)
	}
}

// peerSession returns the peer exchange state of this connection, creating
// it on first use.
func (s *session) peerSession() *peersync.Session {
	if s.peer == nil {
		name := s.server.peerName(s.user, s.remote)
		s.peer = s.server.engine.NewSession(name)
		s.log.Debug("peer session started", "peer", name)
	}
	return s.peer
}

// close discards any partial body and releases peer state.
func (s *session) close() {
	if s.body != nil {
		s.log.Debug("discarding partial article", "state", s.state, "message_id", s.body.id)
		s.body = nil
	}
	if s.peer != nil {
		s.peer.Close()
	}
}

// accepted runs the after-store side effects of a new article.
func (s *session) accepted(a *article.Article, source string) {
	s.server.metrics.Article(source, store.Accepted.String())
	if s.server.notifier == nil {
		return
	}
	path, _ := s.server.store.Path(a.MessageID)
	s.server.notifier.Submit(frontendEvent(a, path))
}

var errQuit = io.EOF
