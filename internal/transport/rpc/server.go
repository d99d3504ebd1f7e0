// Package rpc exposes administrative chat operations over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"sync"

	"github.com/xiaot623/gogo/chatroom/internal/export"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/service"
)

// Server exposes chat RPC endpoints for operators and internal tooling.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
	log       *slog.Logger
}

// NewServer creates a new RPC server bound to the chat service.
func NewServer(svc *service.Service, exporter *export.Exporter) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc, exporter: exporter}
	if err := rpcServer.RegisterName("Chat", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
		log:       observability.WithComponent("rpc"),
	}, nil
}

// Listen binds the server to addr without accepting connections yet.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Start begins accepting RPC connections on the given address.
// An empty addr serves on a listener bound earlier by Listen.
func (s *Server) Start(addr string) error {
	if addr != "" {
		if _, err := s.Listen(addr); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rpc server is not listening")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn("rpc accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements chat RPC methods.
type Handler struct {
	service  *service.Service
	exporter *export.Exporter
}

// NoticeRequest is a system notice for one session, or for every connection
// when SessionID is empty.
type NoticeRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// NoticeResponse reports how many connections the notice was offered to.
type NoticeResponse struct {
	OK       bool `json:"ok"`
	Attempts int  `json:"attempts"`
}

// ExportRequest identifies a session to export.
type ExportRequest struct {
	SessionID string `json:"session_id"`
}

// ExportResponse lists the written files by kind.
type ExportResponse struct {
	Files map[string]string `json:"files"`
}

// PushNotice broadcasts a system notice.
func (h *Handler) PushNotice(req *NoticeRequest, resp *NoticeResponse) error {
	if req == nil {
		return errors.New("notice request is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.New("message is required")
	}

	attempts, err := h.service.Notify(context.Background(), req.SessionID, req.Message)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.OK = true
		resp.Attempts = attempts
	}
	return nil
}

// ExportSession writes a session's complete dataset under the export directory.
func (h *Handler) ExportSession(req *ExportRequest, resp *ExportResponse) error {
	if req == nil {
		return errors.New("export request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}

	ctx := context.Background()
	session, err := h.service.Sessions.LoadSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s not found", req.SessionID)
	}

	files, err := h.exporter.ExportCompleteDataset(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.Files = files
	}
	return nil
}
