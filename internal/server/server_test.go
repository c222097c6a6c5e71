package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aravinth/pollkv/internal/client"
	"github.com/aravinth/pollkv/internal/protocol"
	"github.com/aravinth/pollkv/internal/store"
)

func startTestServer(t *testing.T, mutate func(*Config)) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	if mutate != nil {
		mutate(&cfg)
	}

	srv := New(cfg, store.NewDB(nil))
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- srv.Serve(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, cancel, errCh
}

func dial(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.Dial(srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_SetGetDel(t *testing.T) {
	srv, _, _ := startTestServer(t, nil)
	c := dial(t, srv)

	steps := []struct {
		req  []string
		want string
	}{
		{[]string{"get", "a"}, "(nil)"},
		{[]string{"set", "a", "1"}, "(nil)"},
		{[]string{"get", "a"}, "(str) 1"},
		{[]string{"del", "a"}, "(nil)"},
		{[]string{"get", "a"}, "(nil)"},
		{[]string{"avl_set", "b", "2"}, "(nil)"},
		{[]string{"avl_set", "a", "1"}, "(nil)"},
		{[]string{"avl_keys"}, "(arr) len=2\n  (str) a\n  (str) b"},
		{[]string{"nope"}, "(err 1) unknown command"},
	}

	for _, st := range steps {
		v, err := c.Do(st.req...)
		if err != nil {
			t.Fatalf("%v: %v", st.req, err)
		}
		if got := v.String(); got != st.want {
			t.Errorf("%v: expected %q, got %q", st.req, st.want, got)
		}
	}
}

func TestServer_Pipeline(t *testing.T) {
	srv, _, _ := startTestServer(t, nil)
	c := dial(t, srv)

	const n = 1000
	reqs := make([][]string, 0, 2*n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, []string{"set", fmt.Sprintf("key%d", i), fmt.Sprintf("val%d", i)})
		reqs = append(reqs, []string{"get", fmt.Sprintf("key%d", i)})
	}

	vals, err := c.Pipeline(reqs)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if len(vals) != 2*n {
		t.Fatalf("expected %d responses, got %d", 2*n, len(vals))
	}
	for i := 0; i < n; i++ {
		if got := vals[2*i+1].Str; got != fmt.Sprintf("val%d", i) {
			t.Fatalf("response %d: expected val%d, got %q", 2*i+1, i, got)
		}
	}
	if got := srv.DB().Metrics().HashKeys.Load(); got != n {
		t.Errorf("expected %d keys, got %d", n, got)
	}
}

func TestServer_LargeValue(t *testing.T) {
	srv, _, _ := startTestServer(t, nil)
	c := dial(t, srv)

	// Larger than one read and than a socket send buffer
	big := strings.Repeat("x", 4<<20)
	if _, err := c.Do("set", "big", big); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	v, err := c.Do("get", "big")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v.Type != protocol.TagStr || len(v.Str) != len(big) {
		t.Errorf("expected %d byte string, got %s with %d bytes", len(big), v.Type, len(v.Str))
	}
}

func TestServer_ResponseTooBig(t *testing.T) {
	srv, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.Limits.MaxMessage = 1024
	})
	c := dial(t, srv)

	for i := 0; i < 100; i++ {
		if _, err := c.Do("set", fmt.Sprintf("key-%03d", i), "v"); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	v, err := c.Do("keys")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if v.Type != protocol.TagErr || v.Code != protocol.ErrCodeTooBig {
		t.Errorf("expected response too big, got %v", v)
	}

	// The connection survives
	if v, err := c.Do("get", "key-000"); err != nil || v.Str != "v" {
		t.Errorf("expected v, got %v (err %v)", v, err)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv, _, _ := startTestServer(t, nil)

	const clients = 20
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c, err := client.Dial(srv.Addr(), 5*time.Second)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()

			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("c%d-k%d", id, j)
				if _, err := c.Do("avl_set", key, key); err != nil {
					errs <- err
					return
				}
				v, err := c.Do("avl_get", key)
				if err != nil {
					errs <- err
					return
				}
				if v.Str != key {
					errs <- fmt.Errorf("expected %s, got %v", key, v)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if got := srv.DB().Metrics().TreeKeys.Load(); got != clients*50 {
		t.Errorf("expected %d tree keys, got %d", clients*50, got)
	}
}

func TestServer_MalformedFrameClosesConnection(t *testing.T) {
	srv, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.Limits.MaxArgs = 4
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	frame := make([]byte, 8)
	binary.LittleEndian.PutUint32(frame[0:], 4)
	binary.LittleEndian.PutUint32(frame[4:], 1000)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 16)
	if n, err := conn.Read(buf); err != io.EOF {
		t.Errorf("expected EOF, got %d bytes and %v", n, err)
	}

	// Other clients are unaffected
	c := dial(t, srv)
	if v, err := c.Do("get", "x"); err != nil || v.Type != protocol.TagNil {
		t.Errorf("expected nil, got %v (err %v)", v, err)
	}
}

func TestServer_ConnectionAccounting(t *testing.T) {
	srv, _, _ := startTestServer(t, nil)

	c1, err := client.Dial(srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	c2 := dial(t, srv)
	c2.Do("get", "a")
	c1.Do("get", "a")

	waitFor(t, "two connections", func() bool { return srv.ActiveConnections() == 2 })

	c1.Close()
	waitFor(t, "one connection", func() bool { return srv.ActiveConnections() == 1 })

	if got := srv.TotalConnections(); got != 2 {
		t.Errorf("expected 2 total connections, got %d", got)
	}
}

func TestServer_MaxConnections(t *testing.T) {
	srv, _, _ := startTestServer(t, func(cfg *Config) {
		cfg.MaxConnections = 1
	})

	c := dial(t, srv)
	if _, err := c.Do("get", "a"); err != nil {
		t.Fatalf("first client failed: %v", err)
	}

	extra, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer extra.Close()

	extra.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := extra.Read(make([]byte, 1)); err == nil {
		t.Error("expected rejected connection to be closed")
	}
	if got := srv.ActiveConnections(); got != 1 {
		t.Errorf("expected 1 active connection, got %d", got)
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, cancel, errCh := startTestServer(t, nil)
	c := dial(t, srv)
	if _, err := c.Do("set", "a", "1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, err := c.Do("get", "a"); err == nil {
		t.Error("expected error on a connection closed by shutdown")
	}
	if _, err := net.DialTimeout("tcp", srv.Addr(), time.Second); err == nil {
		t.Error("expected listener to be closed")
	}
}

func TestServer_ServeBeforeListen(t *testing.T) {
	srv := New(DefaultConfig(), store.NewDB(nil))
	if err := srv.Serve(context.Background()); err == nil {
		t.Error("expected error when serving without a listener")
	}
}
