package nntpserver

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/nntpchand/auth"
	"github.com/javi11/nntpchand/frontend"
	"github.com/javi11/nntpchand/metrics"
	"github.com/javi11/nntpchand/peersync"
	"github.com/javi11/nntpchand/store"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	m     *metrics.Metrics
}

func startServer(t *testing.T, tweak ...func(*Config, *Deps)) *testEnv {
	t.Helper()
	st, err := store.Open(store.Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := metrics.New()
	cfg := Config{
		Address:      "127.0.0.1:0",
		InstanceName: "node.example",
		AllowPost:    true,
		IdleTimeout:  10 * time.Second,
	}
	deps := Deps{Store: st, Metrics: m}
	for _, fn := range tweak {
		fn(&cfg, &deps)
	}

	srv, err := NewServer(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Close() })
	return &testEnv{srv: srv, store: st, m: m}
}

func (e *testEnv) dial(t *testing.T) *textproto.Conn {
	t.Helper()
	c, err := textproto.Dial("tcp", e.srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	_, _, err = c.ReadCodeLine(200)
	require.NoError(t, err)
	return c
}

// send writes a command and returns the reply code and text.
func send(t *testing.T, c *textproto.Conn, format string, args ...any) (int, string) {
	t.Helper()
	require.NoError(t, c.PrintfLine(format, args...))
	code, msg, err := c.ReadCodeLine(0)
	require.NoError(t, err)
	return code, msg
}

func writeBody(t *testing.T, c *textproto.Conn, raw string) {
	t.Helper()
	dw := c.DotWriter()
	_, err := dw.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, dw.Close())
}

func readCode(t *testing.T, c *textproto.Conn) (int, string) {
	t.Helper()
	code, msg, err := c.ReadCodeLine(0)
	require.NoError(t, err)
	return code, msg
}

func articleText(id, group, body string) string {
	var b strings.Builder
	b.WriteString("From: anon <anon@node.example>\r\n")
	b.WriteString("Newsgroups: " + group + "\r\n")
	b.WriteString("Subject: hello\r\n")
	if id != "" {
		b.WriteString("Message-ID: " + id + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func post(t *testing.T, c *textproto.Conn, raw string) (int, string) {
	t.Helper()
	code, _ := send(t, c, "POST")
	require.Equal(t, 340, code)
	writeBody(t, c, raw)
	return readCode(t, c)
}

func TestPostThenRead(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, msg := post(t, c, articleText("", "overchan.test", "first post\r\n.hidden dot\r\n"))
	require.Equal(t, 240, code, msg)

	code, msg = send(t, c, "GROUP overchan.test")
	require.Equal(t, 211, code)
	assert.Equal(t, "1 1 1 overchan.test", msg)

	code, msg = send(t, c, "ARTICLE 1")
	require.Equal(t, 220, code)
	fields := strings.Fields(msg)
	require.Len(t, fields, 2)
	id := fields[1]
	assert.True(t, strings.HasSuffix(id, "@node.example>"), id)

	lines, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Contains(t, lines, "Path: node.example")
	assert.Contains(t, lines, "Message-ID: "+id)
	assert.Contains(t, lines, ".hidden dot")
	assert.Equal(t, "first post", lines[len(lines)-2])

	a, ok, err := env.store.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, a.Get("Date"))
}

func TestPostKeepsPathChain(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	raw := "Path: upstream.example\r\n" + articleText("<path@x.example>", "overchan.test", "hi\r\n")
	code, _ := post(t, c, raw)
	require.Equal(t, 240, code)

	a, ok, err := env.store.Get("<path@x.example>")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "node.example!upstream.example", a.Get("Path"))
}

func TestPostDuplicateAndInvalid(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := post(t, c, articleText("<dup@x.example>", "overchan.test", "one\r\n"))
	require.Equal(t, 240, code)
	code, _ = post(t, c, articleText("<dup@x.example>", "overchan.test", "two\r\n"))
	assert.Equal(t, 441, code)

	code, _ = post(t, c, articleText("<no-at-sign>", "overchan.test", "bad\r\n"))
	assert.Equal(t, 441, code)
	assert.False(t, env.store.Exists("<no-at-sign>"))

	code, _ = post(t, c, articleText("<g@x.example>", "Not A Group", "bad\r\n"))
	assert.Equal(t, 441, code)

	code, _ = post(t, c, "no header separator here")
	assert.Equal(t, 441, code)
}

func TestPostingNotPermitted(t *testing.T) {
	env := startServer(t, func(c *Config, _ *Deps) { c.AllowPost = false })
	c, err := textproto.Dial("tcp", env.srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	_, _, err = c.ReadCodeLine(201)
	require.NoError(t, err)

	code, _ := send(t, c, "POST")
	assert.Equal(t, 440, code)
}

func TestCheckAfterStored(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := post(t, c, articleText("<stored@x.example>", "overchan.test", "hi\r\n"))
	require.Equal(t, 240, code)

	code, msg := send(t, c, "CHECK <stored@x.example>")
	assert.Equal(t, 438, code)
	assert.Equal(t, "<stored@x.example>", msg)

	code, _ = send(t, c, "CHECK <fresh@x.example>")
	assert.Equal(t, 238, code)
}

func TestStreamingTransfer(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := send(t, c, "MODE STREAM")
	require.Equal(t, 203, code)

	code, _ = send(t, c, "CHECK <t1@peer.example>")
	require.Equal(t, 238, code)

	require.NoError(t, c.PrintfLine("TAKETHIS <t1@peer.example>"))
	writeBody(t, c, articleText("<t1@peer.example>", "overchan.test", "from a peer\r\n"))
	code, msg := readCode(t, c)
	assert.Equal(t, 239, code)
	assert.Equal(t, "<t1@peer.example>", msg)
	assert.True(t, env.store.Exists("<t1@peer.example>"))

	// TAKETHIS without CHECK is an implicit offer
	require.NoError(t, c.PrintfLine("TAKETHIS <t2@peer.example>"))
	writeBody(t, c, articleText("<t2@peer.example>", "overchan.test", "again\r\n"))
	code, _ = readCode(t, c)
	assert.Equal(t, 239, code)

	code, _ = send(t, c, "CHECK <t1@peer.example>")
	assert.Equal(t, 438, code)
}

func TestTakeThisInvalidID(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	require.NoError(t, c.PrintfLine("TAKETHIS <no-at-sign>"))
	writeBody(t, c, articleText("<no-at-sign>", "overchan.test", "bad\r\n"))
	code, _ := readCode(t, c)
	assert.Equal(t, 439, code)
	assert.False(t, env.store.Exists("<no-at-sign>"))

	// still framed correctly, and the id stays rejected
	code, _ = send(t, c, "CHECK <no-at-sign>")
	assert.Equal(t, 438, code)
	code, _ = send(t, c, "CHECK <ok@x.example>")
	assert.Equal(t, 238, code)
}

func TestTakeThisMismatchedID(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	require.NoError(t, c.PrintfLine("TAKETHIS <offered@x.example>"))
	writeBody(t, c, articleText("<other@x.example>", "overchan.test", "hi\r\n"))
	code, _ := readCode(t, c)
	assert.Equal(t, 439, code)
	assert.False(t, env.store.Exists("<offered@x.example>"))
	assert.False(t, env.store.Exists("<other@x.example>"))
}

func TestTakeThisSyntaxDrainsBody(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	require.NoError(t, c.PrintfLine("TAKETHIS"))
	writeBody(t, c, articleText("<x@x.example>", "overchan.test", "hi\r\n"))
	code, _ := readCode(t, c)
	assert.Equal(t, 501, code)

	code, _ = send(t, c, "DATE")
	assert.Equal(t, 111, code)
}

func TestConcurrentOffersDefer(t *testing.T) {
	env := startServer(t)
	a := env.dial(t)
	b := env.dial(t)

	code, _ := send(t, a, "CHECK <race@x.example>")
	require.Equal(t, 238, code)
	code, _ = send(t, b, "CHECK <race@x.example>")
	assert.Equal(t, 431, code)

	require.NoError(t, a.PrintfLine("TAKETHIS <race@x.example>"))
	writeBody(t, a, articleText("<race@x.example>", "overchan.test", "hi\r\n"))
	code, _ = readCode(t, a)
	require.Equal(t, 239, code)

	code, _ = send(t, b, "CHECK <race@x.example>")
	assert.Equal(t, 438, code)
}

func TestIHave(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := send(t, c, "IHAVE <i1@peer.example>")
	require.Equal(t, 335, code)
	writeBody(t, c, articleText("<i1@peer.example>", "overchan.test", "hi\r\n"))
	code, _ = readCode(t, c)
	assert.Equal(t, 235, code)

	code, _ = send(t, c, "IHAVE <i1@peer.example>")
	assert.Equal(t, 435, code)

	code, _ = send(t, c, "IHAVE <bad>")
	assert.Equal(t, 435, code)

	code, _ = send(t, c, "IHAVE <i2@peer.example>")
	require.Equal(t, 335, code)
	writeBody(t, c, articleText("<i2@peer.example>", "Bad Group", "hi\r\n"))
	code, _ = readCode(t, c)
	assert.Equal(t, 437, code)
}

func loginDB(t *testing.T, user, pass string) *auth.FileDB {
	t.Helper()
	entry, err := auth.Entry(user, pass)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "logins")
	require.NoError(t, os.WriteFile(p, []byte(entry+"\n"), 0o600))
	db, err := auth.OpenFile(p)
	require.NoError(t, err)
	return db
}

func TestReaderAuth(t *testing.T) {
	db := loginDB(t, "alice", "secret")
	env := startServer(t, func(_ *Config, d *Deps) { d.Logins = db })
	c := env.dial(t)

	code, _ := send(t, c, "GROUP overchan.test")
	assert.Equal(t, 480, code)
	code, _ = send(t, c, "POST")
	assert.Equal(t, 480, code)

	code, _ = send(t, c, "CAPABILITIES")
	require.Equal(t, 101, code)
	caps, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Contains(t, caps, "AUTHINFO USER")

	code, _ = send(t, c, "AUTHINFO PASS secret")
	assert.Equal(t, 482, code)

	code, _ = send(t, c, "AUTHINFO USER alice")
	require.Equal(t, 381, code)
	code, _ = send(t, c, "AUTHINFO PASS wrong")
	assert.Equal(t, 481, code)

	code, _ = send(t, c, "AUTHINFO USER alice")
	require.Equal(t, 381, code)
	code, _ = send(t, c, "AUTHINFO PASS secret")
	require.Equal(t, 281, code)

	code, _ = send(t, c, "GROUP overchan.test")
	assert.Equal(t, 411, code)
	code, _ = send(t, c, "AUTHINFO USER alice")
	assert.Equal(t, 502, code)
}

func TestTakeThisUnauthenticatedDrainsBody(t *testing.T) {
	db := loginDB(t, "alice", "secret")
	env := startServer(t, func(_ *Config, d *Deps) { d.Logins = db })
	c := env.dial(t)

	require.NoError(t, c.PrintfLine("TAKETHIS <sneak@x.example>"))
	writeBody(t, c, articleText("<sneak@x.example>", "overchan.test", "GROUP overchan.test\r\nQUIT\r\n"))
	code, _ := readCode(t, c)
	assert.Equal(t, 480, code)
	assert.False(t, env.store.Exists("<sneak@x.example>"))

	code, _ = send(t, c, "CAPABILITIES")
	require.Equal(t, 101, code)
	_, err := c.ReadDotLines()
	require.NoError(t, err)

	code, _ = send(t, c, "AUTHINFO USER alice")
	require.Equal(t, 381, code)
	code, _ = send(t, c, "AUTHINFO PASS secret")
	assert.Equal(t, 281, code)
}

func TestAuthInfoWithoutLoginsIsNoIdentity(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := post(t, c, articleText("<known@x.example>", "overchan.test", "hi\r\n"))
	require.Equal(t, 240, code)

	other := env.dial(t)
	code, _ = send(t, other, "AUTHINFO USER peer1")
	assert.Equal(t, 281, code)
	code, _ = send(t, other, "CHECK <known@x.example>")
	require.Equal(t, 438, code)

	assert.False(t, env.srv.engine.Knowledge("peer1").Contains("<known@x.example>"),
		"an unverified name must not speak for a peer")
	assert.True(t, env.srv.engine.Knowledge("127.0.0.1").Contains("<known@x.example>"))
}

func TestLineTooLong(t *testing.T) {
	env := startServer(t, func(c *Config, _ *Deps) { c.MaxLineLength = 512 })
	c := env.dial(t)

	code, msg := send(t, c, "%s", strings.Repeat("A", 5000))
	assert.Equal(t, 501, code)
	assert.Equal(t, "line too long", msg)

	code, _ = send(t, c, "DATE")
	assert.Equal(t, 111, code)

	// an overlong body line spoils the article but keeps framing
	code, _ = post(t, c, articleText("<long@x.example>", "overchan.test", strings.Repeat("B", 2000)+"\r\n"))
	assert.Equal(t, 441, code)
	assert.False(t, env.store.Exists("<long@x.example>"))

	code, _ = send(t, c, "DATE")
	assert.Equal(t, 111, code)
}

func TestArticleTooLarge(t *testing.T) {
	env := startServer(t, func(c *Config, _ *Deps) { c.MaxArticleSize = 1024 })
	c := env.dial(t)

	body := strings.Repeat(strings.Repeat("x", 70)+"\r\n", 40)
	code, _ := post(t, c, articleText("<big@x.example>", "overchan.test", body))
	assert.Equal(t, 441, code)
	assert.False(t, env.store.Exists("<big@x.example>"))

	require.NoError(t, c.PrintfLine("TAKETHIS <big@x.example>"))
	writeBody(t, c, articleText("<big@x.example>", "overchan.test", body))
	code, _ = readCode(t, c)
	assert.Equal(t, 439, code)
}

func TestNavigation(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := send(t, c, "STAT 1")
	assert.Equal(t, 412, code)

	var ids []string
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("<nav%d@x.example>", i)
		ids = append(ids, id)
		code, _ := post(t, c, articleText(id, "overchan.test", fmt.Sprintf("post %d\r\n", i)))
		require.Equal(t, 240, code)
	}
	code, _ = post(t, c, articleText("<other@x.example>", "overchan.other", "x\r\n"))
	require.Equal(t, 240, code)

	code, _ = send(t, c, "LIST")
	require.Equal(t, 215, code)
	active, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"overchan.other 1 1 y", "overchan.test 3 1 y"}, active)

	code, _ = send(t, c, "LIST OVERVIEW.FMT")
	require.Equal(t, 215, code)
	_, err = c.ReadDotLines()
	require.NoError(t, err)

	code, _ = send(t, c, "LISTGROUP overchan.test")
	require.Equal(t, 211, code)
	nums, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, nums)

	code, _ = send(t, c, "LISTGROUP overchan.test 2-")
	require.Equal(t, 211, code)
	nums, err = c.ReadDotLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, nums)

	code, msg := send(t, c, "STAT")
	assert.Equal(t, 223, code)
	assert.Equal(t, "1 "+ids[0], msg)

	code, msg = send(t, c, "NEXT")
	assert.Equal(t, 223, code)
	assert.Equal(t, "2 "+ids[1], msg)
	code, _ = send(t, c, "NEXT")
	assert.Equal(t, 223, code)
	code, _ = send(t, c, "NEXT")
	assert.Equal(t, 421, code)

	code, msg = send(t, c, "LAST")
	assert.Equal(t, 223, code)
	assert.Equal(t, "2 "+ids[1], msg)

	code, msg = send(t, c, "HEAD %s", ids[0])
	require.Equal(t, 221, code)
	assert.Equal(t, "0 "+ids[0], msg)
	head, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Contains(t, head, "Message-ID: "+ids[0])

	code, _ = send(t, c, "BODY 3")
	require.Equal(t, 222, code)
	body, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Equal(t, []string{"post 2"}, body)

	code, _ = send(t, c, "OVER 1-2")
	require.Equal(t, 224, code)
	over, err := c.ReadDotLines()
	require.NoError(t, err)
	require.Len(t, over, 2)
	assert.True(t, strings.HasPrefix(over[0], "1\thello\t"))

	code, _ = send(t, c, "ARTICLE 99")
	assert.Equal(t, 423, code)
	code, _ = send(t, c, "ARTICLE <missing@x.example>")
	assert.Equal(t, 430, code)
	code, _ = send(t, c, "GROUP overchan.none")
	assert.Equal(t, 411, code)
}

func TestProtocolErrors(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := send(t, c, "FROBNICATE")
	assert.Equal(t, 500, code)
	code, _ = send(t, c, "GROUP")
	assert.Equal(t, 501, code)
	code, _ = send(t, c, "MODE SIDEWAYS")
	assert.Equal(t, 501, code)
	code, _ = send(t, c, "CHECK")
	assert.Equal(t, 501, code)
	code, _ = send(t, c, "LIST DISTRIBUTIONS")
	assert.Equal(t, 501, code)

	code, _ = send(t, c, "MODE READER")
	assert.Equal(t, 200, code)
	code, _ = send(t, c, "QUIT")
	assert.Equal(t, 205, code)
	_, err := c.ReadLine()
	assert.Error(t, err)
}

func TestPartialBodyDiscarded(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := send(t, c, "POST")
	require.Equal(t, 340, code)
	require.NoError(t, c.PrintfLine("Message-ID: <partial@x.example>"))
	require.NoError(t, c.PrintfLine("Newsgroups: overchan.test"))
	require.NoError(t, c.PrintfLine(""))
	require.NoError(t, c.PrintfLine("half a body"))
	c.Close()

	other := env.dial(t)
	code, _ = send(t, other, "GROUP overchan.test")
	assert.Equal(t, 411, code)
	assert.False(t, env.store.Exists("<partial@x.example>"))
}

func TestIdleTimeout(t *testing.T) {
	env := startServer(t, func(c *Config, _ *Deps) { c.IdleTimeout = 100 * time.Millisecond })
	c := env.dial(t)

	time.Sleep(300 * time.Millisecond)
	_, err := c.ReadLine()
	assert.Error(t, err)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []frontend.Event
}

func (r *recordingNotifier) Submit(ev frontend.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func TestAcceptedArticleNotifiesFrontend(t *testing.T) {
	n := &recordingNotifier{}
	env := startServer(t, func(_ *Config, d *Deps) { d.Notifier = n })
	c := env.dial(t)

	code, _ := post(t, c, articleText("<n@x.example>", "overchan.test", "hi\r\n"))
	require.Equal(t, 240, code)
	code, _ = post(t, c, articleText("<n@x.example>", "overchan.test", "hi\r\n"))
	require.Equal(t, 441, code)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.events, 1)
	assert.Equal(t, "<n@x.example>", n.events[0].MessageID)
	assert.Equal(t, []string{"overchan.test"}, n.events[0].Newsgroups)
	path, ok := env.store.Path("<n@x.example>")
	require.True(t, ok)
	assert.Equal(t, path, n.events[0].Path)
}

func TestFeedReplicatesToPeer(t *testing.T) {
	downstream := startServer(t)

	var engine *peersync.Engine
	upstream := startServer(t, func(_ *Config, d *Deps) {
		engine = peersync.NewEngine(peersync.Config{ReconnectInterval: 20 * time.Millisecond}, d.Store, d.Metrics)
		engine.AddFeed(peersync.PeerConfig{Name: "downstream", Address: downstream.srv.Addr().String()}, peersync.Dial)
		d.Engine = engine
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	c := upstream.dial(t)
	code, _ := post(t, c, articleText("<fed@x.example>", "overchan.test", "replicate me\r\n"))
	require.Equal(t, 240, code)

	require.Eventually(t, func() bool {
		return downstream.store.Exists("<fed@x.example>")
	}, 5*time.Second, 20*time.Millisecond)

	a, ok, err := downstream.store.Get("<fed@x.example>")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "replicate me\r\n", string(a.Body))
	assert.Eventually(t, func() bool {
		return engine.Knowledge("downstream").Contains("<fed@x.example>")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCloseDropsConnections(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)
	addr := env.srv.Addr().String()

	require.NoError(t, env.srv.Close())
	_, err := c.ReadLine()
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestLineReader(t *testing.T) {
	r := newLineReader(strings.NewReader("short\r\n"+strings.Repeat("x", 10000)+"\r\nlf only\nlast\r\n"), 600)
	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "short", line)
	_, err = r.ReadLine()
	assert.ErrorIs(t, err, errLineTooLong)
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "lf only", line)
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", line)
}

func TestParseRange(t *testing.T) {
	for spec, want := range map[string]store.Range{
		"":    store.All,
		"5":   {Low: 5, High: 5},
		"5-":  {Low: 5, High: store.All.High},
		"2-7": {Low: 2, High: 7},
	} {
		r, err := parseRange(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, want, r, spec)
	}

	for _, spec := range []string{"abc", "-5", "5-x", "1-2-3", "+5", "5--3", " 5"} {
		_, err := parseRange(spec)
		assert.ErrorIs(t, err, ErrSyntax, spec)
	}
}

func TestRangeSyntaxErrors(t *testing.T) {
	env := startServer(t)
	c := env.dial(t)

	code, _ := post(t, c, articleText("<r1@x.example>", "overchan.test", "hi\r\n"))
	require.Equal(t, 240, code)

	code, _ = send(t, c, "LISTGROUP overchan.test abc")
	assert.Equal(t, 501, code)
	code, _ = send(t, c, "GROUP overchan.test")
	require.Equal(t, 211, code)
	code, _ = send(t, c, "OVER 1-x")
	assert.Equal(t, 501, code)

	code, _ = send(t, c, "OVER 1-")
	require.Equal(t, 224, code)
	lines, err := c.ReadDotLines()
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
