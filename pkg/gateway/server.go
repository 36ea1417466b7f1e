package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sameehj/execbridge/pkg/mcp"
)

// Server accepts TCP connections and runs one MCP session per connection.
type Server struct {
	addr        string
	mcpServer   *mcp.Server
	authorizer  Authorizer
	maxSessions int
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewServer(addr string, mcpServer *mcp.Server, authorizer Authorizer) *Server {
	if authorizer == nil {
		authorizer = NoopAuthorizer{}
	}
	return &Server{addr: addr, mcpServer: mcpServer, authorizer: authorizer, sessions: make(map[string]*Session)}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) SetMaxSessions(max int) {
	s.maxSessions = max
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is done. Open sessions are
// closed and drained before Serve returns.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logInfo("gateway_listening", "addr", listener.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()
	defer func() {
		s.closeSessions()
		s.wg.Wait()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logError("accept_failed", "error", err)
			return err
		}
		remote := conn.RemoteAddr().String()
		if err := s.authorizer.Allow(ctx, remote); err != nil {
			s.logWarn("session_denied", "remote", remote, "error", err)
			_ = conn.Close()
			continue
		}
		session, ok := s.admit(conn)
		if !ok {
			s.logWarn("session_limit_reached", "remote", remote, "limit", s.maxSessions)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.run(ctx, session)
	}
}

// admit registers a session for conn unless the session limit is reached.
func (s *Server) admit(conn net.Conn) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		return nil, false
	}
	session := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		StartedAt:  time.Now(),
		conn:       conn,
	}
	s.sessions[session.ID] = session
	return session, true
}

func (s *Server) run(ctx context.Context, session *Session) {
	defer s.wg.Done()
	defer func() {
		_ = session.conn.Close()
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
	}()

	s.logInfo("session_start", "id", session.ID, "remote", session.RemoteAddr)
	if err := s.mcpServer.Serve(ctx, session.conn, session.conn); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logWarn("session_error", "id", session.ID, "error", err)
	}
	s.logInfo("session_end", "id", session.ID, "remote", session.RemoteAddr, "duration", time.Since(session.StartedAt).String())
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		_ = session.conn.Close()
	}
}

// ListSessions returns the open sessions, oldest first.
func (s *Server) ListSessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, Session{ID: session.ID, RemoteAddr: session.RemoteAddr, StartedAt: session.StartedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
