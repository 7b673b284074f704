package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adred-codev/memq/internal/broker"
	"github.com/adred-codev/memq/internal/config"
	"github.com/adred-codev/memq/internal/logging"
)

// Server owns the raw TCP listener and accept loop. Unlike the teacher's
// WebSocket transport, connections are handed straight to a newline/JSON
// protocol handler — there is no upgrade handshake.
type Server struct {
	cfg     config.ServerConfig
	events  *logging.Events
	broker  *broker.Broker
	metrics Metrics
	guard   *guard
	handler *Handler

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer builds a Server ready to Start.
func NewServer(cfg config.Config, events *logging.Events, b *broker.Broker, metrics Metrics) *Server {
	return &Server{
		cfg:     cfg.Server,
		events:  events,
		broker:  b,
		metrics: metrics,
		guard:   newGuard(cfg.Server.MaxConnections, cfg.Server.AcceptRatePS),
		handler: &Handler{
			Broker:        b,
			Events:        events,
			Metrics:       metrics,
			SendQueueSize: cfg.Broker.SendQueueSize,
		},
	}
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	if s.listener != nil {
		return errors.New("transport already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and waits for every in-flight connection
// goroutine to finish.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

// Addr returns the bound listener address, useful for tests that bind to
// port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return
		}

		if !s.guard.tryAdmit() {
			s.events.ConnectionRejected(conn.RemoteAddr().String(), "admission limit")
			s.metrics.AcceptError()
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.guard.release()
			s.handler.Serve(c, uuid.NewString())
		}(conn)
	}
}

// ServeUntil blocks until ctx is done, then stops the server. cmd/memqd
// calls this after its own shutdown select has already decided to stop
// (on a signal or a failed metrics server), so by the time this is called
// ctx may already be canceled and the call returns immediately into Stop.
func (s *Server) ServeUntil(ctx context.Context) {
	<-ctx.Done()
	s.Stop()
}
