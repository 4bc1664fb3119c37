package ftp

import (
	"context"
	"fmt"
	"io"

	"github.com/gonzalop/fetch"
)

// Engine serves ftp URLs for a fetch.Dispatcher. Every session dials a new
// Client with the engine's options.
type Engine struct {
	options []Option
}

// NewEngine returns an engine whose sessions use the given client options.
func NewEngine(options ...Option) *Engine {
	return &Engine{options: options}
}

// NewSession implements fetch.Engine. FTP URLs fetched through a proxy are
// routed to the HTTP engine by the dispatcher, so proxy is not used here.
func (e *Engine) NewSession(_ *fetch.URL) fetch.Session {
	return &session{options: e.options}
}

type session struct {
	options []Option
	client  *Client
}

var _ fetch.Session = (*session)(nil)

// Connect dials the server and logs in.
func (s *session) Connect(ctx context.Context, u *fetch.URL) error {
	c, err := Dial(ctx, u.Host, u.Port, s.options...)
	if err != nil {
		return err
	}
	s.client = c

	stop := c.bind(ctx)
	defer stop()

	if err := c.Login(c.user, c.password); err != nil {
		return fmt.Errorf("can't login to host %s: %w", u.Host, err)
	}
	return nil
}

// Request prepares the transfer, negotiates the data connection and sends
// RETR, restarting at u.Offset when it is nonzero.
func (s *session) Request(ctx context.Context, u *fetch.URL) error {
	c := s.client
	stop := c.bind(ctx)
	defer stop()

	if err := c.Prepare(u); err != nil {
		return err
	}
	if err := c.openDataConn(ctx); err != nil {
		return err
	}
	if u.Offset > 0 {
		if err := c.RestartAt(u.Offset); err != nil {
			return err
		}
	}
	_, file := splitPath(u.Path)
	return c.Retrieve(file)
}

// Save streams the file into w.
func (s *session) Save(ctx context.Context, u *fetch.URL, w io.Writer) error {
	return s.client.Stream(ctx, u, w)
}

// Finish waits for the transfer confirmation, then quits.
func (s *session) Finish(ctx context.Context, u *fetch.URL) error {
	c := s.client
	stop := c.bind(ctx)
	defer stop()

	if err := c.Finish(u.LocalName); err != nil {
		return err
	}
	return c.Quit()
}

// Abort tears the session down.
func (s *session) Abort() error {
	if s.client == nil {
		return nil
	}
	return s.client.Abort()
}
