// Package client is a small blocking client for the pollkv wire protocol.
package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/aravinth/pollkv/internal/protocol"
)

// Client is a single connection to a server. Not safe for concurrent use.
type Client struct {
	conn    net.Conn
	reader  *protocol.Reader
	writer  *protocol.Writer
	timeout time.Duration
}

// Dial connects to addr. A zero timeout disables connect and I/O deadlines.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		reader:  protocol.NewReaderFromBufio(bufio.NewReaderSize(conn, 64*1024), protocol.DefaultMaxMessage),
		writer:  protocol.NewWriterFromBufio(bufio.NewWriterSize(conn, 64*1024)),
		timeout: timeout,
	}, nil
}

// Do sends one request and waits for its response
func (c *Client) Do(args ...string) (protocol.Value, error) {
	vals, err := c.Pipeline([][]string{args})
	if err != nil {
		return protocol.Value{}, err
	}
	return vals[0], nil
}

// Pipeline sends every request in one write, then reads the responses.
// Responses come back in request order.
func (c *Client) Pipeline(reqs [][]string) ([]protocol.Value, error) {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	for _, args := range reqs {
		if err := c.writer.WriteRequest(args); err != nil {
			return nil, fmt.Errorf("write request: %w", err)
		}
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	vals := make([]protocol.Value, 0, len(reqs))
	for range reqs {
		v, err := c.reader.ReadResponse()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
