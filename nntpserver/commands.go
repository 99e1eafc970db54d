package nntpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/peersync"
	"github.com/javi11/nntpchand/store"
)

// Handler runs one command. Returning an *NNTPError sends it as the reply;
// any other error drops the connection.
type Handler func(ctx context.Context, args []string, s *session) error

func defaultHandlers() map[string]Handler {
	return map[string]Handler{
		"quit":         handleQuit,
		"capabilities": handleCap,
		"mode":         handleMode,
		"authinfo":     handleAuthInfo,
		"date":         handleDate,
		"group":        handleGroup,
		"listgroup":    handleListGroup,
		"list":         handleList,
		"article":      handleArticle,
		"head":         handleHead,
		"body":         handleBody,
		"stat":         handleStat,
		"next":         handleNext,
		"last":         handleLast,
		"over":         handleOver,
		"xover":        handleOver,
		"post":         handlePost,
		"ihave":        handleIHave,
		"check":        handleCheck,
		"takethis":     handleTakeThis,
	}
}

func handleQuit(_ context.Context, _ []string, s *session) error {
	s.w.PrintfLine("205 bye")
	return errQuit
}

func handleCap(_ context.Context, _ []string, s *session) error {
	s.w.PrintfLine("101 Capability list:")
	dw := s.w.DotWriter()
	defer dw.Close()

	fmt.Fprintf(dw, "VERSION 2\n")
	fmt.Fprintf(dw, "IMPLEMENTATION nntpchand\n")
	fmt.Fprintf(dw, "READER\n")
	if s.server.cfg.AllowPost {
		fmt.Fprintf(dw, "POST\n")
	}
	fmt.Fprintf(dw, "IHAVE\n")
	fmt.Fprintf(dw, "STREAMING\n")
	fmt.Fprintf(dw, "OVER\n")
	fmt.Fprintf(dw, "LIST ACTIVE NEWSGROUPS OVERVIEW.FMT\n")
	if s.server.logins != nil && s.state == stateUnauthenticated {
		fmt.Fprintf(dw, "AUTHINFO USER\n")
	}
	if s.mode == modeReader {
		fmt.Fprintf(dw, "MODE-READER\n")
	}
	return nil
}

func handleMode(_ context.Context, args []string, s *session) error {
	if len(args) != 1 {
		return ErrSyntax
	}
	switch strings.ToLower(args[0]) {
	case "reader":
		s.mode = modeReader
		if s.server.cfg.AllowPost {
			return s.w.PrintfLine("200 Posting allowed")
		}
		return s.w.PrintfLine("201 Posting prohibited")
	case "stream":
		s.mode = modeStream
		return s.w.PrintfLine("203 Streaming permitted")
	default:
		return ErrSyntax
	}
}

/*
   AUTHINFO USER username
     281 accepted (no password needed)
     381 password required
   AUTHINFO PASS password
     281 accepted
     481 rejected
     482 out of sequence
*/

func handleAuthInfo(_ context.Context, args []string, s *session) error {
	if len(args) != 2 {
		return ErrSyntax
	}
	if s.user != "" {
		return ErrAlreadyAuthenticated
	}

	switch strings.ToLower(args[0]) {
	case "user":
		if s.server.logins == nil {
			// nothing to check the name against, so it identifies nobody
			return s.w.PrintfLine("281 authentication accepted")
		}
		s.authUser = args[1]
		return s.w.PrintfLine("381 password required")

	case "pass":
		if s.authUser == "" {
			return ErrAuthOutOfSequence
		}
		user := s.authUser
		s.authUser = ""
		ok, err := s.server.logins.CheckLogin(user, args[1])
		if err != nil {
			s.log.Error("login db failed", "user", user, "error", err)
			return ErrInternal
		}
		if !ok {
			s.log.Info("authentication failed", "user", user)
			return ErrAuthRejected
		}
		s.user = user
		if s.state == stateUnauthenticated {
			s.state = stateReady
		}
		s.log.Info("authenticated", "user", user)
		return s.w.PrintfLine("281 authentication accepted")

	default:
		return ErrSyntax
	}
}

func handleDate(_ context.Context, _ []string, s *session) error {
	return s.w.PrintfLine("111 %s", time.Now().UTC().Format("20060102150405"))
}

func handleGroup(_ context.Context, args []string, s *session) error {
	if len(args) != 1 {
		return ErrSyntax
	}
	info, err := s.selectGroup(args[0])
	if err != nil {
		return err
	}
	return s.w.PrintfLine("211 %d %d %d %s", info.Count, info.Low, info.High, info.Name)
}

func (s *session) selectGroup(name string) (store.GroupInfo, error) {
	info, ok, err := s.server.store.Group(name)
	if err != nil {
		s.log.Error("group lookup failed", "group", name, "error", err)
		return info, ErrInternal
	}
	if !ok {
		return info, ErrNoSuchGroup
	}
	s.group = info.Name
	s.current = 0
	if info.Count > 0 {
		s.current = info.Low
	}
	s.state = stateReading
	return info, nil
}

func handleListGroup(_ context.Context, args []string, s *session) error {
	var info store.GroupInfo
	var err error
	r := store.All
	if len(args) > 1 {
		if r, err = parseRange(args[1]); err != nil {
			return err
		}
	}

	switch {
	case len(args) > 0:
		info, err = s.selectGroup(args[0])
	case s.group != "":
		info, err = s.selectGroup(s.group)
	default:
		return ErrNoGroupSelected
	}
	if err != nil {
		return err
	}

	s.w.PrintfLine("211 %d %d %d %s list follows", info.Count, info.Low, info.High, info.Name)
	dw := s.w.DotWriter()
	defer dw.Close()
	for e, err := range s.server.store.ListGroup(info.Name, r) {
		if err != nil {
			// the status line is out; cut the listing short
			s.log.Error("listgroup scan failed", "group", info.Name, "error", err)
			return nil
		}
		fmt.Fprintf(dw, "%d\n", e.Number)
	}
	return nil
}

// parseRange reads "n", "n-" or "n-m".
func parseRange(spec string) (store.Range, error) {
	if spec == "" {
		return store.All, nil
	}
	lo, hi, dash := strings.Cut(spec, "-")
	l, err := strconv.ParseUint(lo, 10, 63)
	if err != nil {
		return store.Range{}, ErrSyntax
	}
	r := store.Range{Low: int64(l), High: int64(l)}
	if !dash {
		return r, nil
	}
	r.High = math.MaxInt64
	if hi != "" {
		h, err := strconv.ParseUint(hi, 10, 63)
		if err != nil {
			return store.Range{}, ErrSyntax
		}
		r.High = int64(h)
	}
	return r, nil
}

func handleListOverviewFmt(s *session) error {
	err := s.w.PrintfLine("215 Order of fields in overview database.")
	if err != nil {
		return err
	}
	dw := s.w.DotWriter()
	defer dw.Close()
	_, err = fmt.Fprintln(dw, `Subject:
From:
Date:
Message-ID:
References:
:bytes
:lines`)
	return err
}

func handleList(_ context.Context, args []string, s *session) error {
	ltype := "active"
	if len(args) > 0 {
		ltype = strings.ToLower(args[0])
	}

	switch ltype {
	case "overview.fmt":
		return handleListOverviewFmt(s)
	case "active", "newsgroups":
	default:
		return ErrSyntax
	}

	groups, err := s.server.store.Groups()
	if err != nil {
		s.log.Error("list groups failed", "error", err)
		return ErrInternal
	}
	posting := "n"
	if s.server.cfg.AllowPost {
		posting = "y"
	}

	s.w.PrintfLine("215 list of newsgroups follows")
	dw := s.w.DotWriter()
	defer dw.Close()
	for _, g := range groups {
		switch ltype {
		case "active":
			fmt.Fprintf(dw, "%s %d %d %s\r\n", g.Name, g.High, g.Low, posting)
		case "newsgroups":
			fmt.Fprintf(dw, "%s %s\r\n", g.Name, g.Name)
		}
	}
	return nil
}

// target resolves the article argument of ARTICLE/HEAD/BODY/STAT: a
// message-id, a number in the selected group, or the current article.
// The returned number is 0 for the message-id form.
func (s *session) target(args []string) (int64, string, error) {
	if len(args) > 0 && strings.HasPrefix(args[0], "<") {
		id := args[0]
		if !s.server.store.Exists(id) {
			return 0, "", ErrInvalidMessageID
		}
		return 0, id, nil
	}

	if s.group == "" {
		return 0, "", ErrNoGroupSelected
	}
	n := s.current
	if len(args) > 0 {
		var err error
		n, err = strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, "", ErrSyntax
		}
	} else if n == 0 {
		return 0, "", ErrNoCurrentArticle
	}

	id, ok, err := s.server.store.Lookup(s.group, n)
	if err != nil {
		s.log.Error("article lookup failed", "group", s.group, "number", n, "error", err)
		return 0, "", ErrInternal
	}
	if !ok {
		if len(args) == 0 {
			return 0, "", ErrNoCurrentArticle
		}
		return 0, "", ErrInvalidArticleNumber
	}
	s.current = n
	return n, id, nil
}

func (s *session) load(args []string) (int64, *article.Article, error) {
	n, id, err := s.target(args)
	if err != nil {
		return 0, nil, err
	}
	a, ok, err := s.server.store.Get(id)
	if err != nil {
		s.log.Error("article read failed", "message_id", id, "error", err)
		return 0, nil, ErrInternal
	}
	if !ok {
		return 0, nil, ErrInvalidMessageID
	}
	return n, a, nil
}

/*
   ARTICLE / HEAD / BODY / STAT with a message-id, an article number, or
   nothing (current article).

     220/221/222/223 n message-id
     430  No article with that message-id
     412  No newsgroup selected
     423  No article with that number
     420  Current article number is invalid
*/

func handleArticle(_ context.Context, args []string, s *session) error {
	n, a, err := s.load(args)
	if err != nil {
		return err
	}
	s.w.PrintfLine("220 %d %s", n, a.MessageID)
	dw := s.w.DotWriter()
	defer dw.Close()
	_, err = dw.Write(a.Bytes())
	return err
}

func handleHead(_ context.Context, args []string, s *session) error {
	n, a, err := s.load(args)
	if err != nil {
		return err
	}
	s.w.PrintfLine("221 %d %s", n, a.MessageID)
	dw := s.w.DotWriter()
	defer dw.Close()
	_, err = dw.Write(a.HeaderBytes())
	return err
}

func handleBody(_ context.Context, args []string, s *session) error {
	n, a, err := s.load(args)
	if err != nil {
		return err
	}
	s.w.PrintfLine("222 %d %s", n, a.MessageID)
	dw := s.w.DotWriter()
	defer dw.Close()
	_, err = dw.Write(a.Body)
	return err
}

func handleStat(_ context.Context, args []string, s *session) error {
	n, id, err := s.target(args)
	if err != nil {
		return err
	}
	return s.w.PrintfLine("223 %d %s", n, id)
}

func handleNext(_ context.Context, _ []string, s *session) error {
	return s.step(1, ErrNoNextArticle)
}

func handleLast(_ context.Context, _ []string, s *session) error {
	return s.step(-1, ErrNoPrevArticle)
}

func (s *session) step(dir int64, none *NNTPError) error {
	if s.group == "" {
		return ErrNoGroupSelected
	}
	if s.current == 0 {
		return ErrNoCurrentArticle
	}
	n := s.current + dir
	id, ok, err := s.server.store.Lookup(s.group, n)
	if err != nil {
		s.log.Error("article lookup failed", "group", s.group, "number", n, "error", err)
		return ErrInternal
	}
	if !ok {
		return none
	}
	s.current = n
	return s.w.PrintfLine("223 %d %s", n, id)
}

/*
   "0" or article number (see below)
   Subject header content
   From header content
   Date header content
   Message-ID header content
   References header content
   :bytes metadata item
   :lines metadata item
*/

func handleOver(_ context.Context, args []string, s *session) error {
	if s.group == "" {
		return ErrNoGroupSelected
	}
	r := store.Range{Low: s.current, High: s.current}
	if len(args) > 0 {
		var err error
		if r, err = parseRange(args[0]); err != nil {
			return err
		}
	} else if s.current == 0 {
		return ErrNoCurrentArticle
	}

	s.w.PrintfLine("224 here it comes")
	dw := s.w.DotWriter()
	defer dw.Close()
	for e, err := range s.server.store.ListGroup(s.group, r) {
		if err != nil {
			s.log.Error("overview scan failed", "group", s.group, "error", err)
			return nil
		}
		a, ok, err := s.server.store.Get(e.MessageID)
		if err != nil || !ok {
			continue
		}
		fmt.Fprintf(dw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n", e.Number,
			overField(a.Get("Subject")),
			overField(a.Get("From")),
			overField(a.Get("Date")),
			a.MessageID,
			overField(a.Get("References")),
			len(a.Bytes()), bytes.Count(a.Body, []byte("\n")))
	}
	return nil
}

// overField keeps tabs and line breaks out of an overview line.
func overField(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\r', '\n':
			return ' '
		}
		return r
	}, v)
}

/*
   POST
     340    Send article to be posted
     440    Posting not permitted
   then
     240    Article received OK
     441    Posting failed
*/

func handlePost(_ context.Context, args []string, s *session) error {
	if len(args) != 0 {
		return ErrSyntax
	}
	if !s.server.cfg.AllowPost {
		return ErrPostingNotPermitted
	}
	s.expect(transferPost, "")
	return s.w.PrintfLine("340 Go ahead")
}

func (s *session) finishPost(ctx context.Context, a *article.Article, err error) error {
	if err != nil {
		s.server.metrics.Article("post", "invalid")
		return &NNTPError{441, "posting failed: " + err.Error()}
	}
	s.server.prepareLocal(a)

	out, err := s.server.store.Put(ctx, a)
	switch {
	case article.IsValidation(err):
		s.server.metrics.Article("post", "invalid")
		return &NNTPError{441, "posting failed: " + err.Error()}
	case err != nil:
		s.log.Error("storing post failed", "message_id", a.MessageID, "error", err)
		s.server.metrics.Article("post", "failed")
		return &NNTPError{441, "posting failed"}
	case out == store.Duplicate:
		s.server.metrics.Article("post", out.String())
		return &NNTPError{441, "duplicate article " + a.MessageID}
	}

	s.log.Info("article posted", "message_id", a.MessageID, "newsgroups", a.Newsgroups)
	s.accepted(a, "post")
	s.server.engine.Announce(a.MessageID, "")
	return s.w.PrintfLine("240 article received %s", a.MessageID)
}

/*
   IHAVE message-id
     335    Send article to be transferred
     435    Article not wanted
     436    Transfer not possible; try again later
   then
     235    Article transferred OK
     436    Transfer failed; try again later
     437    Transfer rejected; do not retry
*/

func handleIHave(_ context.Context, args []string, s *session) error {
	if len(args) != 1 {
		return ErrSyntax
	}
	id := args[0]
	switch s.peerSession().Check(id) {
	case peersync.Accept:
		s.expect(transferIHave, id)
		return s.w.PrintfLine("335 send it")
	case peersync.Defer:
		return s.w.PrintfLine("436 try again later")
	default:
		return s.w.PrintfLine("435 article not wanted")
	}
}

func (s *session) finishIHave(ctx context.Context, id string, a *article.Article, parseErr error) error {
	out, err := s.receive(ctx, id, a, parseErr)
	switch {
	case err == nil && out == store.Accepted:
		return s.w.PrintfLine("235 article transferred OK")
	case err == nil:
		return s.w.PrintfLine("437 duplicate")
	case transient(err):
		return s.w.PrintfLine("436 transfer failed, try again later")
	default:
		return s.w.PrintfLine("437 transfer rejected")
	}
}

/*
   CHECK message-id
     238    Send article to be transferred
     431    Transfer not possible; try again later
     438    Article not wanted
*/

func handleCheck(_ context.Context, args []string, s *session) error {
	if len(args) != 1 {
		return ErrSyntax
	}
	id := args[0]
	switch s.peerSession().Check(id) {
	case peersync.Accept:
		return s.w.PrintfLine("238 %s", id)
	case peersync.Defer:
		return s.w.PrintfLine("431 %s", id)
	default:
		return s.w.PrintfLine("438 %s", id)
	}
}

/*
   TAKETHIS message-id
     (article follows immediately, no intermediate reply)
     239    Article transferred OK
     439    Transfer rejected; do not retry
*/

func handleTakeThis(_ context.Context, args []string, s *session) error {
	if len(args) != 1 {
		// the article follows regardless; drain it, then complain
		s.expect(transferTakeThis, "")
		s.body.fault = ErrSyntax
		return nil
	}
	s.expect(transferTakeThis, args[0])
	return nil
}

func (s *session) finishTakeThis(ctx context.Context, id string, a *article.Article, parseErr error) error {
	var refused *NNTPError
	if errors.As(parseErr, &refused) {
		return s.reply(refused)
	}
	out, err := s.receive(ctx, id, a, parseErr)
	if err == nil && out == store.Accepted {
		return s.w.PrintfLine("239 %s", id)
	}
	return s.w.PrintfLine("439 %s", id)
}

// receive hands a transferred article to the peer session.
func (s *session) receive(ctx context.Context, id string, a *article.Article, parseErr error) (store.Outcome, error) {
	peer := s.peerSession()
	out, err := peer.Receive(ctx, id, a, parseErr)
	switch {
	case err == nil && out == store.Accepted:
		s.log.Info("article received", "peer", peer.Peer(), "message_id", id)
		s.accepted(a, "peer")
	case err == nil:
		s.server.metrics.Article("peer", out.String())
	case article.IsValidation(err), errors.Is(err, peersync.ErrNotWanted):
		s.log.Debug("transfer rejected", "peer", peer.Peer(), "message_id", id, "error", err)
		s.server.metrics.Article("peer", "invalid")
	default:
		var pe *peersync.PeerProtocolError
		if errors.As(err, &pe) {
			s.log.Warn("peer protocol error", "peer", peer.Peer(), "message_id", id, "error", err)
			s.server.metrics.Article("peer", "invalid")
		} else {
			s.log.Error("storing transfer failed", "peer", peer.Peer(), "message_id", id, "error", err)
			s.server.metrics.Article("peer", "failed")
		}
	}
	return out, err
}

// transient reports whether a failed transfer may be retried.
func transient(err error) bool {
	if errors.Is(err, peersync.ErrNotWanted) {
		return true
	}
	var se *store.StorageError
	return errors.As(err, &se) || errors.Is(err, context.Canceled)
}
