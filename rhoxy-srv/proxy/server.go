package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"
)

// Server binds a listener and dispatches every accepted connection through
// a Dispatcher, bounding concurrency with an admission semaphore and
// coordinating a graceful drain on shutdown.
type Server struct {
	listener   net.Listener
	dispatcher *Dispatcher
	sem        chan struct{}
	wg         sync.WaitGroup

	drainDeadline time.Duration
}

// NewServer binds addr and constructs a Server ready to Serve.
func NewServer(addr string, dispatcher *Dispatcher, maxConcurrent int, drainDeadline time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, NewProxyError(ErrCodeListenerBindFailed, fmt.Sprintf("bind %s failed", addr), err)
	}
	return &Server{
		listener:      ln,
		dispatcher:    dispatcher,
		sem:           make(chan struct{}, maxConcurrent),
		drainDeadline: drainDeadline,
	}, nil
}

// Addr returns the bound listener's local address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until ctx is cancelled, then closes the
// listener and waits (up to the drain deadline) for outstanding handlers.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return s.drain()
			default:
				logger.Error("proxy: accept failed: %v", err)
				return err
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			logger.Warn("proxy: admission refused, closing connection")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			// Shutdown cancels only the accept loop; in-flight handlers use
			// their own background context so drain lets them finish.
			s.dispatcher.HandleConnection(context.Background(), conn)
		}()
	}
}

// drain waits for outstanding handlers to finish, up to s.drainDeadline.
func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.drainDeadline):
		logger.Warn("proxy: drain deadline elapsed with handlers still running")
		return nil
	}
}
