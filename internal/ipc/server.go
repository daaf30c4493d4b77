// Package ipc implements the IpcMultiplexer: a request-socket accept
// loop that hands each connection through the alloc_pid/request_ripgrep
// state machine of spec section 4.5, fanning responses back over a
// per-client response socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/memsearchd/memsearchd/internal/repository"
	"github.com/memsearchd/memsearchd/internal/search"
)

// Config holds the daemon's IPC-facing settings. Defaults match spec
// section 6's fixed contract with existing clients.
type Config struct {
	RequestSocketPath      string
	ResponseSocketDir      string
	ResponseSocketTemplate string // must contain exactly one %d for the client pid
	LockPath               string
	HandshakeTimeoutMS     int
	MaxResultsRaw          int
}

// DefaultConfig returns the daemon's out-of-the-box settings.
func DefaultConfig() Config {
	return Config{
		RequestSocketPath:      "/tmp/mem_search_service_requests.sock",
		ResponseSocketDir:      "/tmp",
		ResponseSocketTemplate: "qwen_code_response_%d.sock",
		LockPath:               "/tmp/mem_search_service.lock",
		HandshakeTimeoutMS:     5000,
		MaxResultsRaw:          search.DefaultMaxResults,
	}
}

// ResponseSocketPath derives one client's response socket path.
func (c Config) ResponseSocketPath(pid int) string {
	return filepath.Join(c.ResponseSocketDir, fmt.Sprintf(c.ResponseSocketTemplate, pid))
}

// HandshakeTimeout is how long alloc_pid waits for the client to
// connect back on the response socket it just created.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMS) * time.Millisecond
}

// Server is the IpcMultiplexer.
type Server struct {
	cfg      Config
	registry *repository.Registry
	lock     *flock.Flock

	mu       sync.Mutex
	listener net.Listener
	clients  map[*clientConn]struct{}
	wg       sync.WaitGroup
}

// NewServer constructs a Server bound to registry for repository lookup.
func NewServer(cfg Config, registry *repository.Registry) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		lock:     flock.New(cfg.LockPath),
		clients:  make(map[*clientConn]struct{}),
	}
}

// ListenAndServe acquires the daemon-wide singleton lock, binds the
// request socket, and accepts connections until ctx is cancelled or a
// fatal accept error occurs. A second memsearchd instance against the
// same lock path fails fast here rather than racing the first daemon
// for the socket (spec section 7: daemon-wide errors are fatal).
func (s *Server) ListenAndServe(ctx context.Context) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock %s: %w", s.cfg.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another memsearchd instance already holds the lock at %s", s.cfg.LockPath)
	}

	_ = os.Remove(s.cfg.RequestSocketPath) // tolerate a stale socket from an abnormal prior exit
	ln, err := net.Listen("unix", s.cfg.RequestSocketPath)
	if err != nil {
		_ = s.lock.Unlock()
		return fmt.Errorf("bind request socket %s: %w", s.cfg.RequestSocketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stopAccepting := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stopAccepting:
		}
	}()
	defer close(stopAccepting)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("accept on request socket: %w", err)
		}

		cc := newClientConn(conn, s.cfg, s.registry)
		s.trackClient(cc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackClient(cc)
			s.serveClient(ctx, cc)
		}()
	}
}

func (s *Server) trackClient(cc *clientConn) {
	s.mu.Lock()
	s.clients[cc] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackClient(cc *clientConn) {
	s.mu.Lock()
	delete(s.clients, cc)
	s.mu.Unlock()
}

func (s *Server) serveClient(ctx context.Context, cc *clientConn) {
	defer cc.teardown()
	for {
		req, err := cc.reqReader.ReadRequest()
		if err != nil {
			if errors.Is(err, ErrMalformedRequest) {
				cc.reply(errorResponse(err.Error()))
				continue
			}
			if !errors.Is(err, io.EOF) {
				log.Printf("ipc[%s]: read request: %v", cc.id, err)
			}
			return
		}
		cc.dispatch(ctx, req)
	}
}

// Shutdown stops accepting new connections, closes every live client
// connection, unlinks the request socket, and releases the daemon lock
// (spec section 6: "closes both sockets, unlinks the request socket
// path, and releases all mappings").
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	clients := make([]*clientConn, 0, len(s.clients))
	for cc := range s.clients {
		clients = append(clients, cc)
	}
	s.mu.Unlock()

	for _, cc := range clients {
		_ = cc.reqConn.Close()
	}
	s.wg.Wait()

	_ = os.Remove(s.cfg.RequestSocketPath)
	_ = s.lock.Unlock()
	s.registry.Shutdown()
}
