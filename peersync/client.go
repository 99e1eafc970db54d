package peersync

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"time"
)

// DefaultDialTimeout bounds connection setup in Dial.
const DefaultDialTimeout = 30 * time.Second

// client speaks the transfer side of NNTP to a peer over net/textproto.
type client struct {
	nc      net.Conn
	text    *textproto.Conn
	timeout time.Duration
}

// Dial connects to p.Address, reads the greeting and authenticates when p
// carries credentials.
func Dial(ctx context.Context, p PeerConfig) (Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dctx, "tcp", p.Address)
	if err != nil {
		return nil, err
	}
	c := &client{nc: nc, text: textproto.NewConn(nc), timeout: 2 * time.Minute}

	code, msg, err := c.readCode()
	if err != nil {
		c.Close()
		return nil, err
	}
	if code != 200 && code != 201 {
		c.Close()
		return nil, fmt.Errorf("greeting %d %s", code, msg)
	}

	if p.Username != "" {
		if err := c.auth(p.Username, p.Password); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *client) deadline() {
	_ = c.nc.SetDeadline(time.Now().Add(c.timeout))
}

func (c *client) readCode() (int, string, error) {
	c.deadline()
	return c.text.ReadCodeLine(0)
}

func (c *client) cmd(format string, args ...any) (int, string, error) {
	c.deadline()
	if err := c.text.PrintfLine(format, args...); err != nil {
		return 0, "", err
	}
	return c.readCode()
}

func (c *client) auth(user, pass string) error {
	code, msg, err := c.cmd("AUTHINFO USER %s", user)
	if err != nil {
		return err
	}
	if code == 281 {
		return nil
	}
	if code != 381 {
		return fmt.Errorf("authinfo user: %d %s", code, msg)
	}
	code, msg, err = c.cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return err
	}
	if code != 281 {
		return fmt.Errorf("authinfo pass: %d %s", code, msg)
	}
	return nil
}

func (c *client) Stream() (bool, error) {
	code, _, err := c.cmd("MODE STREAM")
	if err != nil {
		return false, err
	}
	return code == 203, nil
}

func (c *client) Check(id string) (int, error) {
	code, _, err := c.cmd("CHECK %s", id)
	return code, err
}

func (c *client) sendBody(raw []byte) error {
	c.deadline()
	dw := c.text.DotWriter()
	if _, err := dw.Write(raw); err != nil {
		dw.Close()
		return err
	}
	return dw.Close()
}

func (c *client) TakeThis(id string, raw []byte) (int, error) {
	c.deadline()
	if err := c.text.PrintfLine("TAKETHIS %s", id); err != nil {
		return 0, err
	}
	if err := c.sendBody(raw); err != nil {
		return 0, err
	}
	code, _, err := c.readCode()
	return code, err
}

func (c *client) IHave(id string, raw []byte) (int, error) {
	code, _, err := c.cmd("IHAVE %s", id)
	if err != nil || code != 335 {
		return code, err
	}
	if err := c.sendBody(raw); err != nil {
		return 0, err
	}
	code, _, err = c.readCode()
	return code, err
}

func (c *client) Close() error {
	_ = c.nc.SetDeadline(time.Now().Add(5 * time.Second))
	_ = c.text.PrintfLine("QUIT")
	return c.text.Close()
}
