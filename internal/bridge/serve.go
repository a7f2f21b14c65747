// ABOUTME: HTTP listener lifecycle for the networked transports.
// ABOUTME: Mounts /mcp, the SSE endpoints and health checks; shuts down gracefully on cancel.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Transport names accepted by the serve command.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ErrUnknownTransport is returned for transport names other than stdio, sse and http.
var ErrUnknownTransport = errors.New("unknown transport")

// Routes returns the mux for a networked transport. Both networked
// transports serve /mcp; sse adds /sse and /message.
func (b *Bridge) Routes(transport, baseURL string) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/health/ready", b.handleReady)
	mux.Handle("/mcp", b.HTTPHandler())

	switch transport {
	case TransportHTTP:
	case TransportSSE:
		sse, err := b.SSEHandler(baseURL)
		if err != nil {
			return nil, err
		}
		mux.Handle("/sse", sse)
		mux.Handle("/message", sse)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
	return mux, nil
}

// ListenAndServe serves handler on addr until ctx is canceled, then shuts
// down with a five second grace period.
func (b *Bridge) ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return b.Serve(ctx, ln, handler)
}

// Serve is ListenAndServe on an existing listener.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("=== BRIDGE SERVING ===", "addr", ln.Addr().String(), "name", b.name, "tools", len(b.Snapshot()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		if serverErr != nil {
			b.logger.Error("server error", "error", serverErr)
		}
	}

	// The serve context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// handleHealth returns 200 OK while the process is up.
func (b *Bridge) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one tool is exposed.
func (b *Bridge) handleReady(w http.ResponseWriter, _ *http.Request) {
	n := len(b.Snapshot())
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools exposed"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", n)
}
