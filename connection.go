package minicache

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"github.com/pior/minicache/protocol"
)

// ErrConnectionClosed is returned when using a Connection after Close.
var ErrConnectionClosed = errors.New("minicache: connection closed")

// Connection is a single client connection to a minicache server.
// It is not safe for concurrent use; pools hand it to one caller at a time.
type Connection struct {
	net.Conn
	Reader *bufio.Reader
	Writer *bufio.Writer

	closed bool
}

// NewConnection wraps an established network connection.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		Conn:   conn,
		Reader: bufio.NewReader(conn),
		Writer: bufio.NewWriter(conn),
	}
}

// Send writes req and reads its response.
//
// The context deadline, if any, bounds the whole exchange, and cancelling ctx
// interrupts blocked I/O. Protocol error lines (ERROR, CLIENT_ERROR,
// SERVER_ERROR) come back in Response.Error. A returned Go error means the
// exchange failed; check protocol.ShouldCloseConnection before reusing the
// connection.
func (c *Connection) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resps, err := c.SendBatch(ctx, []*protocol.Request{req})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// SendBatch pipelines reqs: every request is written and flushed at once,
// then one response per request is read, in order.
func (c *Connection) SendBatch(ctx context.Context, reqs []*protocol.Request) ([]*protocol.Response, error) {
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Validate everything first so nothing reaches the wire on a bad key.
	for _, req := range reqs {
		if err := protocol.ValidateKey(req.Key); err != nil {
			return nil, err
		}
	}

	deadline, _ := ctx.Deadline()
	if err := c.Conn.SetDeadline(deadline); err != nil {
		return nil, &protocol.ConnectionError{Op: "set deadline", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.Conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	for _, req := range reqs {
		if err := protocol.WriteRequest(c.Writer, req); err != nil {
			return nil, c.ioError(ctx, "write", err)
		}
	}
	if err := c.Writer.Flush(); err != nil {
		return nil, c.ioError(ctx, "write", err)
	}

	resps := make([]*protocol.Response, 0, len(reqs))
	for range reqs {
		resp, err := protocol.ReadResponse(c.Reader)
		if err != nil {
			var perr *protocol.ParseError
			if errors.As(err, &perr) && ctx.Err() == nil {
				return nil, err
			}
			return nil, c.ioError(ctx, "read", err)
		}
		resps = append(resps, resp)
	}

	return resps, nil
}

func (c *Connection) ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &protocol.ConnectionError{Op: op, Err: err}
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Conn.Close()
}
