// Package relay moves hook messages between processes over local stream
// sockets.
//
// A Server owns the launcher queue of one session tree and republishes
// every connection's bytes on its output. A BlockChannel is the private
// socket a blocking hook waits on. Send is the client side of both.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/ctagard/deepdbg/internal/wire"
)

const (
	// connReadTimeout bounds how long one hook connection may stay open.
	connReadTimeout = 30 * time.Second

	// maxConnBytes bounds what one connection may send.
	maxConnBytes = wire.MaxPending
)

// Server listens on a launcher queue and forwards what hooks send.
type Server struct {
	path     string
	out      io.Writer
	log      logr.Logger
	listener net.Listener
	wg       sync.WaitGroup

	// mu serializes writes to out so that connections never interleave.
	mu sync.Mutex

	stopped  chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server for the socket at path that forwards to out.
func NewServer(path string, out io.Writer, log logr.Logger) *Server {
	return &Server{
		path:    path,
		out:     out,
		log:     log.WithName("relay").WithValues("queue", path),
		stopped: make(chan struct{}),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Done is closed once a stop message has been received.
func (s *Server) Done() <-chan struct{} {
	return s.stopped
}

// Listen removes any stale socket of the same name and starts listening.
func (s *Server) Listen() error {
	l, err := listenUnix(s.path)
	if err != nil {
		return err
	}
	s.listener = l
	s.log.V(1).Info("Listening")
	return nil
}

// Serve accepts connections until a stop message arrives, the context is
// canceled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("listener not initialized")
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.stopped:
		}
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.stopped:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, waits for open connections and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Server) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(connReadTimeout))
	data, err := io.ReadAll(io.LimitReader(conn, maxConnBytes))
	if err != nil {
		s.log.Error(err, "Read from hook connection failed", "bytes", len(data))
	}
	if len(data) == 0 {
		return
	}

	if string(bytes.TrimSpace(data)) == wire.CommandStop {
		s.log.Info("Stop message received")
		s.stop()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.log.Error(err, "Forwarding hook message failed")
		return
	}
	s.log.V(1).Info("Forwarded hook message", "bytes", len(data))
}

func listenUnix(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return l, nil
}
