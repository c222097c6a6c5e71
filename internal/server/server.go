package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/aravinth/pollkv/internal/pool"
	"github.com/aravinth/pollkv/internal/protocol"
	"github.com/aravinth/pollkv/internal/store"
)

// Config holds the server configuration
type Config struct {
	Host           string
	Port           int
	Backlog        int
	MaxConnections int
	Limits         protocol.Limits
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:           "",
		Port:           1234,
		Backlog:        128,
		MaxConnections: 10000,
		Limits:         protocol.DefaultLimits(),
	}
}

// Server runs the whole keyspace on one goroutine. A single poll(2) call
// waits on the listening socket and every client; all reads, writes and
// command execution happen between two polls, so nothing needs a lock.
type Server struct {
	config  Config
	db      *store.DB
	handler *Handler
	bufPool *pool.BufferPool

	listenFd int
	addr     string

	// Self-pipe: a byte written to wakeW interrupts poll for shutdown
	wakeR int
	wakeW int

	// Loop-owned state
	conns   map[int]*Connection
	nextID  uint64
	scratch []byte
	pollFds []unix.PollFd
	polled  []*Connection

	// Published for the metrics goroutine
	activeConns atomic.Int64
	totalConns  atomic.Uint64
}

// New creates a new server for the given config and backing store
func New(cfg Config, db *store.DB) *Server {
	return &Server{
		config:   cfg,
		db:       db,
		handler:  NewHandler(db),
		bufPool:  pool.NewBufferPool(),
		listenFd: -1,
		wakeR:    -1,
		wakeW:    -1,
		conns:    make(map[int]*Connection),
		scratch:  make([]byte, pool.DefaultBufSize),
	}
}

// Listen binds the listening socket. Addr is valid once it returns.
func (s *Server) Listen() error {
	fd, err := listenTCP(s.config.Host, s.config.Port, s.config.Backlog)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}
	addr, err := boundAddr(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(fd)
		return fmt.Errorf("wake pipe: %w", err)
	}
	for _, pfd := range p {
		unix.CloseOnExec(pfd)
		if err := unix.SetNonblock(pfd, true); err != nil {
			unix.Close(fd)
			unix.Close(p[0])
			unix.Close(p[1])
			return fmt.Errorf("wake pipe: %w", err)
		}
	}

	s.listenFd = fd
	s.addr = addr
	s.wakeR, s.wakeW = p[0], p[1]
	log.Printf("pollkv listening on %s", addr)
	return nil
}

// ListenAndServe binds the listener and runs the event loop until the
// context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the event loop on the calling goroutine until ctx is
// cancelled or polling fails. All sockets are closed on return.
func (s *Server) Serve(ctx context.Context) error {
	if s.listenFd < 0 {
		return errors.New("server: Serve called before Listen")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.wake()
		case <-done:
		}
	}()

	err := s.loop()

	close(done)
	wg.Wait()
	s.closeAll()
	return err
}

func (s *Server) wake() {
	if _, err := unix.Write(s.wakeW, []byte{1}); err != nil && !wouldBlock(err) {
		log.Printf("wake pipe write error: %v", err)
	}
}

// loop is one poll per iteration: wait, accept, serve ready connections,
// reap the ones marked closing
func (s *Server) loop() error {
	for {
		s.pollFds = append(s.pollFds[:0],
			unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN},
			unix.PollFd{Fd: int32(s.listenFd), Events: unix.POLLIN},
		)
		s.polled = s.polled[:0]
		for _, c := range s.conns {
			s.pollFds = append(s.pollFds, unix.PollFd{Fd: int32(c.fd), Events: c.pollEvents()})
			s.polled = append(s.polled, c)
		}

		// The only place the loop blocks
		if _, err := unix.Poll(s.pollFds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if s.pollFds[0].Revents != 0 {
			log.Println("shutdown signal received, closing connections...")
			return nil
		}

		if s.pollFds[1].Revents&unix.POLLIN != 0 {
			s.acceptAll()
		}

		for i, c := range s.polled {
			ready := s.pollFds[i+2].Revents
			if ready&unix.POLLIN != 0 && c.state == stateReading {
				c.handleRead(s.scratch)
			}
			if ready&unix.POLLOUT != 0 && c.state == stateWriting {
				c.handleWrite()
			}
			if ready&(unix.POLLERR|unix.POLLNVAL) != 0 || (ready&unix.POLLHUP != 0 && ready&unix.POLLIN == 0) {
				c.state = stateClosing
			}
		}

		for _, c := range s.polled {
			if c.state == stateClosing {
				s.destroy(c)
			}
		}
	}
}

// acceptAll drains the accept queue
func (s *Server) acceptAll() {
	for {
		fd, sa, err := unix.Accept(s.listenFd)
		if err != nil {
			if errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if !wouldBlock(err) {
				log.Printf("accept error: %v", err)
			}
			return
		}

		if len(s.conns) >= s.config.MaxConnections {
			log.Printf("max connections (%d) reached, rejecting %s", s.config.MaxConnections, sockaddrString(sa))
			unix.Close(fd)
			continue
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			log.Printf("set non-blocking on accepted socket: %v", err)
			unix.Close(fd)
			continue
		}
		unix.CloseOnExec(fd)

		s.nextID++
		s.conns[fd] = NewConnection(s.nextID, fd, fdConn(fd), sockaddrString(sa),
			s.bufPool.Get(), s.bufPool.Get(), s.handler, s.config.Limits)
		s.totalConns.Add(1)
		s.activeConns.Store(int64(len(s.conns)))
	}
}

// destroy closes a connection and recycles its buffers
func (s *Server) destroy(c *Connection) {
	if err := c.Close(); err != nil {
		log.Printf("conn %d (%s): close error: %v", c.id, c.addr, err)
	}
	delete(s.conns, c.fd)
	s.bufPool.Put(c.incoming)
	s.bufPool.Put(c.outgoing)
	c.incoming, c.outgoing = nil, nil
	s.activeConns.Store(int64(len(s.conns)))
}

func (s *Server) closeAll() {
	for _, c := range s.conns {
		s.destroy(c)
	}
	for _, fd := range []int{s.listenFd, s.wakeR, s.wakeW} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
	s.listenFd, s.wakeR, s.wakeW = -1, -1, -1
	log.Println("server shut down cleanly")
}

// Addr returns the bound listen address
func (s *Server) Addr() string {
	return s.addr
}

// ActiveConnections returns the number of currently connected clients
func (s *Server) ActiveConnections() int {
	return int(s.activeConns.Load())
}

// TotalConnections returns the total number of connections accepted since startup
func (s *Server) TotalConnections() uint64 {
	return s.totalConns.Load()
}

// Handler returns the command handler so callers can inject metrics.
func (s *Server) Handler() *Handler {
	return s.handler
}

// DB returns the keyspace the server executes against
func (s *Server) DB() *store.DB {
	return s.db
}
