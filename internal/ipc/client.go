package ipc

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/memsearchd/memsearchd/internal/repository"
	"github.com/memsearchd/memsearchd/internal/search"
)

type clientState int

const (
	stateUnbound clientState = iota
	stateBound
)

// clientConn is one accepted request-socket connection, carried through
// the UNBOUND -> BOUND state machine of spec section 4.5.
type clientConn struct {
	id            string
	reqConn       net.Conn
	reqReader     *FrameReader
	reqWriter     *FrameWriter
	respListener  net.Listener
	respConn      net.Conn
	respWriter    *FrameWriter
	respSockPath  string
	pid           int

	cfg      Config
	registry *repository.Registry
	repo     *repository.Repository
	state    clientState
}

func newClientConn(conn net.Conn, cfg Config, registry *repository.Registry) *clientConn {
	return &clientConn{
		id:        uuid.NewString(),
		reqConn:   conn,
		reqReader: NewFrameReader(conn),
		reqWriter: NewFrameWriter(conn),
		cfg:       cfg,
		registry:  registry,
		state:     stateUnbound,
	}
}

// dispatch routes one decoded request frame to its handler.
func (cc *clientConn) dispatch(ctx context.Context, req Request) {
	switch req.Type {
	case RequestTypeAllocPid:
		cc.handleAllocPid(ctx, req)
	case RequestTypeRequestRipgrep:
		cc.handleRequestRipgrep(ctx, req)
	default:
		// Exact wording is part of the wire contract (spec section 6).
		cc.reply(errorResponse("unknown request type"))
	}
}

// reply writes resp on the response socket once bound; before binding
// (or if the handshake never completed) it falls back to the request
// socket, per spec section 4.5: "Failure is reported on the response
// socket if available, otherwise on the request socket."
func (cc *clientConn) reply(resp Response) {
	w := cc.respWriter
	if w == nil {
		w = cc.reqWriter
	}
	if err := w.WriteResponse(resp); err != nil {
		log.Printf("ipc[%s]: write response: %v", cc.id, err)
	}
}

func (cc *clientConn) handleAllocPid(ctx context.Context, req Request) {
	if cc.state == stateBound {
		cc.reply(errorResponse("client already allocated; disconnect to reallocate"))
		return
	}

	root, err := repository.Canonicalize(req.RepoDirPath)
	if err != nil {
		cc.reply(errorResponse(fmt.Sprintf("repository path does not exist: %s", req.RepoDirPath)))
		return
	}

	cc.pid = req.Pid
	respPath := cc.cfg.ResponseSocketPath(req.Pid)

	// Abnormal exit of a previous daemon instance leaves stale socket
	// files behind; tolerate and overwrite (spec section 6).
	_ = os.Remove(respPath)

	ln, err := net.Listen("unix", respPath)
	if err != nil {
		cc.reply(errorResponse(fmt.Sprintf("create response socket: %v", err)))
		return
	}
	cc.respListener = ln
	cc.respSockPath = respPath

	respConn, err := acceptWithTimeout(ln, cc.cfg.HandshakeTimeout())
	if err != nil {
		_ = ln.Close()
		_ = os.Remove(respPath)
		cc.respListener = nil
		cc.respSockPath = ""
		cc.reply(errorResponse(fmt.Sprintf("response socket handshake failed: %v", err)))
		return
	}
	cc.respConn = respConn
	cc.respWriter = NewFrameWriter(respConn)

	repo, err := cc.registry.Acquire(ctx, root)
	if err != nil {
		cc.reply(errorResponse(fmt.Sprintf("failed to allocate codebase: %v", err)))
		return
	}

	cc.repo = repo
	cc.state = stateBound
	cc.reply(successResponse(fmt.Sprintf("allocated %s", root)))
}

func (cc *clientConn) handleRequestRipgrep(ctx context.Context, req Request) {
	if cc.state != stateBound {
		cc.reply(errorResponse("client is unbound; call alloc_pid first"))
		return
	}

	pattern, err := search.Compile(req.Pattern, req.CaseSensitive)
	if err != nil {
		cc.reply(errorResponse(err.Error()))
		return
	}

	snap := cc.repo.Corpus().Snapshot()
	defer snap.Release()

	result := search.Search(ctx, snap, pattern, cc.cfg.MaxResultsRaw)
	formatted := search.Format(result, cc.repo.Root(), req.Pattern)
	cc.reply(successResponse(formatted))
}

// teardown releases every resource this client acquired: its bound
// repository, the response socket and its connection, and the request
// connection itself. Safe to call once, from the connection's read loop
// exit path, regardless of how far allocation progressed.
func (cc *clientConn) teardown() {
	_ = cc.reqConn.Close()
	if cc.respConn != nil {
		_ = cc.respConn.Close()
	}
	if cc.respListener != nil {
		_ = cc.respListener.Close()
	}
	if cc.respSockPath != "" {
		_ = os.Remove(cc.respSockPath)
	}
	if cc.repo != nil {
		cc.registry.Release(cc.repo)
	}
}

func acceptWithTimeout(ln net.Listener, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case res := <-ch:
		return res.conn, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out after %s waiting for client connect-back", timeout)
	}
}
