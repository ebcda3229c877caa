// Package gatewayserver accepts TCP connections and hands each one to a
// session.FSM, the way the teacher's main.go starts its chi HTTP server.
package gatewayserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/theykk/agentman-gateway/internal/session"
)

// Server listens on a single address and dispatches accepted connections
// to an *session.FSM, one goroutine per connection.
type Server struct {
	addr string
	fsm  *session.FSM

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Server that will listen on addr and drive every accepted
// connection through fsm.
func New(addr string, fsm *session.FSM) *Server {
	return &Server{addr: addr, fsm: fsm}
}

// ListenAndServe binds addr and accepts connections until ctx is done or
// Shutdown is called. It blocks until the accept loop exits; it returns nil
// when ctx is done, and otherwise the accept error that ended the loop
// (including the closed-listener error a bare Shutdown produces).
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Printf("gatewayserver: listening on %s", s.addr)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.fsm.HandleConn(ctx, conn)
		}()
	}
}

// Shutdown closes the listener, causing ListenAndServe to stop accepting
// new connections. In-flight connections are left to finish on their own;
// the caller's context cancellation is what actually tears them down.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
