package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartHTTPServer serves the metrics in g at /metrics on the given port.
// The port is bound before returning, so a clash is reported to the caller
// and srv.Addr holds the real address when port is 0.
func StartHTTPServer(port int, g prometheus.Gatherer) (*http.Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}

	go func() {
		log.Printf("metrics server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server error: %v", err)
		}
	}()

	return srv, nil
}

// ShutdownHTTPServer gracefully shuts down the metrics HTTP server.
func ShutdownHTTPServer(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
