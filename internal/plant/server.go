package plant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// Server exposes a Connector over the backend TCP protocol.
type Server struct {
	backend Connector
	logger  Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server answering requests from backend.
func NewServer(backend Connector, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Server{
		backend: backend,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until ctx is cancelled. Open connections
// are closed and their handlers waited for before Serve returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("plant server listening", "address", ln.Addr().String())

	var err error
	for {
		var conn net.Conn
		conn, err = ln.Accept()
		if err != nil {
			break
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("accept: %w", err)
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.track(conn, false)
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("plant client connected", "remote", remote)

	for {
		body, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("plant client read failed", "remote", remote, "error", err)
			}
			return
		}

		resp := s.dispatch(ctx, body)
		if err := writeFrame(conn, resp); err != nil {
			s.logger.Warn("plant response write failed", "remote", remote, "error", err)
			return
		}
	}
}

// dispatch decodes one [command, args] request and runs it.
func (s *Server) dispatch(ctx context.Context, body []byte) any {
	var req []json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil || len(req) != 2 {
		return errorResponse(errors.New("malformed request, want [command, args]"))
	}
	var cmd string
	if err := json.Unmarshal(req[0], &cmd); err != nil {
		return errorResponse(errors.New("command must be a string"))
	}

	switch cmd {
	case cmdInfo:
		// Only the "*" wildcard is meaningful; the full catalog is returned.
		out, err := s.backend.Info(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return out

	case cmdGet:
		var names []string
		if err := json.Unmarshal(req[1], &names); err != nil {
			return errorResponse(errors.New("get expects a list of names"))
		}
		out, err := s.backend.Get(ctx, names...)
		if err != nil {
			return errorResponse(err)
		}
		return out

	case cmdSet:
		var pairs [][]json.RawMessage
		if err := json.Unmarshal(req[1], &pairs); err != nil {
			return errorResponse(errors.New("set expects a list of [name, value] pairs"))
		}
		for _, pair := range pairs {
			if len(pair) != 2 {
				return errorResponse(errors.New("set expects [name, value] pairs"))
			}
			var name string
			if err := json.Unmarshal(pair[0], &name); err != nil {
				return errorResponse(errors.New("register name must be a string"))
			}
			var value any
			if err := decodeJSON(pair[1], &value); err != nil {
				return errorResponse(fmt.Errorf("invalid value for %s: %w", name, err))
			}
			if err := s.backend.Set(ctx, name, value); err != nil {
				return errorResponse(err)
			}
		}
		return map[string]bool{"ok": true}

	default:
		return errorResponse(fmt.Errorf("unknown command %q", cmd))
	}
}
