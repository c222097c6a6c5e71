package server

import (
	"bytes"
	"errors"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aravinth/pollkv/internal/protocol"
)

// connState is what the event loop should wait for on a connection.
// Closing is terminal; the loop releases the connection at the end of the
// current pass.
type connState uint8

const (
	stateReading connState = iota
	stateWriting
	stateClosing
)

func (s connState) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateWriting:
		return "writing"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// rawConn is a non-blocking byte stream. Read and Write return an error
// matching unix.EAGAIN when the operation would block.
type rawConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Executor runs one parsed request
type Executor interface {
	Execute(args [][]byte) protocol.Value
}

// Connection represents a single client connection.
// It is only ever touched by the event loop goroutine.
type Connection struct {
	id        uint64
	fd        int
	raw       rawConn
	addr      string
	createdAt time.Time

	state    connState
	incoming *bytes.Buffer // received, not yet parsed
	outgoing *bytes.Buffer // encoded, not yet sent

	exec   Executor
	limits protocol.Limits
}

// NewConnection creates a Connection that starts out waiting for a request
func NewConnection(id uint64, fd int, raw rawConn, addr string, in, out *bytes.Buffer, exec Executor, limits protocol.Limits) *Connection {
	return &Connection{
		id:        id,
		fd:        fd,
		raw:       raw,
		addr:      addr,
		createdAt: time.Now(),
		state:     stateReading,
		incoming:  in,
		outgoing:  out,
		exec:      exec,
		limits:    limits,
	}
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

// handleRead performs one bounded read, answers every complete request now
// buffered and then tries to flush the answers straight away
func (c *Connection) handleRead(scratch []byte) {
	n, err := c.raw.Read(scratch)
	if err != nil {
		if wouldBlock(err) {
			return
		}
		log.Printf("conn %d (%s): read error: %v", c.id, c.addr, err)
		c.state = stateClosing
		return
	}
	if n == 0 {
		if c.incoming.Len() > 0 {
			log.Printf("conn %d (%s): unexpected EOF with %d bytes buffered", c.id, c.addr, c.incoming.Len())
		}
		c.state = stateClosing
		return
	}
	c.incoming.Write(scratch[:n])

	// Pipelining: a single read may carry several requests
	for c.tryOneRequest() {
	}

	if c.state != stateClosing && c.outgoing.Len() > 0 {
		c.state = stateWriting
		c.handleWrite()
	}
}

// tryOneRequest answers the request at the front of the inbound buffer.
// It returns false when no complete request is buffered or the stream is bad.
func (c *Connection) tryOneRequest() bool {
	args, n, err := protocol.ParseRequest(c.incoming.Bytes(), c.limits)
	if err != nil {
		log.Printf("conn %d (%s): %v", c.id, c.addr, err)
		c.state = stateClosing
		return false
	}
	if n == 0 {
		return false
	}

	resp := c.exec.Execute(args)
	// args alias the inbound buffer, so consume only once they're done with
	c.incoming.Next(n)

	buf := protocol.AppendResponse(c.outgoing.AvailableBuffer(), resp, c.limits.MaxMessage)
	c.outgoing.Write(buf)
	return true
}

// handleWrite sends as much of the outbound buffer as the socket takes
func (c *Connection) handleWrite() {
	n, err := c.raw.Write(c.outgoing.Bytes())
	if err != nil {
		if wouldBlock(err) {
			return
		}
		log.Printf("conn %d (%s): write error: %v", c.id, c.addr, err)
		c.state = stateClosing
		return
	}
	c.outgoing.Next(n)

	if c.outgoing.Len() == 0 {
		c.state = stateReading
	}
}

// pollEvents is the readiness the loop should wait for
func (c *Connection) pollEvents() int16 {
	switch c.state {
	case stateReading:
		return unix.POLLIN
	case stateWriting:
		return unix.POLLOUT
	default:
		return 0
	}
}

// Close closes the underlying socket
func (c *Connection) Close() error {
	return c.raw.Close()
}

// ID returns the connection ID
func (c *Connection) ID() uint64 {
	return c.id
}

// Addr returns the remote address
func (c *Connection) Addr() string {
	return c.addr
}

// fdConn adapts a raw non-blocking socket descriptor to rawConn
type fdConn int

func (fd fdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(int(fd), p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (fd fdConn) Write(p []byte) (int, error) {
	n, err := unix.Write(int(fd), p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (fd fdConn) Close() error {
	return unix.Close(int(fd))
}
