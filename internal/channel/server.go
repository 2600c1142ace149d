package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// readTimeout bounds how long a host may take to send its request
	readTimeout = 30 * time.Second

	// writeTimeout bounds writing the reply
	writeTimeout = 10 * time.Second

	// maxRequestSize caps one CBOR request; datafiles travel inside initOptimizelyManager
	maxRequestSize = 1024 * 1024
)

// Server serves bridge calls on a Unix socket
type Server struct {
	socketPath string
	handler    HandlerFunc
	logger     *slog.Logger

	ready chan struct{}
	once  sync.Once

	active sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath
func NewServer(socketPath string, handler HandlerFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger.With("component", "channel"),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is listening
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is cancelled, then waits for in-flight calls.
// A stale socket file is removed before listening and the socket is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("channel listening", "path", s.socketPath)
	s.once.Do(func() { close(s.ready) })

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	s.logger.Info("channel stopped")
	return nil
}

// handleConnection serves one request-response exchange
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var request Request
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.write(conn, Response{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if request.Method == "" {
		s.write(conn, Response{Code: CodeInvalidRequest, Message: "missing required field: method"})
		return
	}

	var arguments any
	if len(request.Arguments) > 0 {
		if err := Unmarshal(request.Arguments, &arguments); err != nil {
			s.write(conn, Response{Code: CodeInvalidRequest, Message: fmt.Sprintf("invalid arguments: %v", err)})
			return
		}
	}

	result, err := s.handler(ctx, request.Method, arguments)
	if err != nil {
		s.logger.Debug("call failed", "method", request.Method, "error", err)
		s.write(conn, errorResponse(err))
		return
	}

	response := Response{OK: true}
	if result != nil {
		data, err := Marshal(result)
		if err != nil {
			s.write(conn, Response{Code: CodeInternal, Message: fmt.Sprintf("marshaling response: %v", err)})
			return
		}
		response.Data = data
	}

	s.write(conn, response)
}

func (s *Server) write(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := newEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
