package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roach88/ticketsync/internal/dispatch"
)

// DefaultMaxFrameBytes caps a single inbound WebSocket message.
const DefaultMaxFrameBytes = 64 << 10

// maxDecodeErrorsPerConn closes a connection that keeps sending garbage.
const maxDecodeErrorsPerConn = 8

// Identity headers read by HeaderIdentity.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderProjectID = "X-Project-ID"
)

// IdentifyFunc resolves the per-connection context at handshake time. The
// returned Conn.ID is ignored; the server assigns connection ids.
type IdentifyFunc func(r *http.Request) (dispatch.Conn, error)

// HeaderIdentity trusts identity headers set by an upstream proxy, falling
// back to the user, name and project query parameters. Anonymous
// connections are allowed.
func HeaderIdentity(r *http.Request) (dispatch.Conn, error) {
	pick := func(header, query string) string {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
		return strings.TrimSpace(r.URL.Query().Get(query))
	}
	return dispatch.Conn{
		UserID:           pick(HeaderUserID, "user"),
		UserName:         pick(HeaderUserName, "name"),
		CurrentProjectID: pick(HeaderProjectID, "project"),
	}, nil
}

// Server exposes a Dispatcher over WebSocket.
type Server struct {
	dispatcher    *dispatch.Dispatcher
	identify      IdentifyFunc
	connIDs       dispatch.IDGenerator
	logger        *slog.Logger
	maxFrameBytes int

	wg sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdentify replaces HeaderIdentity.
func WithIdentify(f IdentifyFunc) ServerOption {
	return func(s *Server) { s.identify = f }
}

// WithConnIDs sets the connection id source (default UUIDv7).
func WithConnIDs(g dispatch.IDGenerator) ServerOption {
	return func(s *Server) { s.connIDs = g }
}

// WithServerLogger sets the logger (default slog.Default()).
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMaxFrameBytes overrides DefaultMaxFrameBytes.
func WithMaxFrameBytes(n int) ServerOption {
	return func(s *Server) { s.maxFrameBytes = n }
}

// NewServer creates a Server for d.
func NewServer(d *dispatch.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher:    d,
		identify:      HeaderIdentity,
		connIDs:       dispatch.UUIDv7Generator{},
		logger:        slog.Default(),
		maxFrameBytes: DefaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes: /up for health checks and /ws for the
// WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ws := websocket.Server{
		// Origin checks belong to the proxy in front of this service.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serveConn,
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		conn, err := s.identify(r)
		if err != nil {
			s.logger.Info("websocket unauthorized", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), connContextKey{}, conn))
		// Counted before the upgrade so Wait never misses a connection
		// whose handler has not started yet.
		s.wg.Add(1)
		defer s.wg.Done()
		ws.ServeHTTP(w, r)
	})
	return mux
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

type connContextKey struct{}

type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) write(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, f)
}

func (s *Server) serveConn(ws *websocket.Conn) {
	defer ws.Close()

	ws.MaxPayloadBytes = s.maxFrameBytes
	ctx := ws.Request().Context()

	c, _ := ctx.Value(connContextKey{}).(dispatch.Conn)
	c.ID = s.connIDs.Generate()
	session := s.dispatcher.Connect(c)
	p := &peer{conn: ws}
	logger := s.logger.With("conn", c.ID, "user", c.UserID)
	logger.Info("connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.drain(session.Outbox(), p, logger)
	}()

	s.readLoop(ctx, session, p, logger)

	// Disconnect releases the outbox, which stops the writer.
	session.Disconnect(context.WithoutCancel(ctx))
	<-writerDone
}

func (s *Server) readLoop(ctx context.Context, session *dispatch.Session, p *peer, logger *slog.Logger) {
	decodeErrors := 0
	for {
		var f Frame
		err := websocket.JSON.Receive(p.conn, &f)
		switch {
		case err == nil:
			decodeErrors = 0
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, websocket.ErrFrameTooLarge):
			_ = p.write(ErrorFrame("", CodeFrameTooLarge, fmt.Sprintf("frame exceeds %d bytes", s.maxFrameBytes)))
			continue
		default:
			if isClosed(err) {
				return
			}
			decodeErrors++
			_ = p.write(ErrorFrame("", CodeInvalidFrame, "invalid frame"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				logger.Warn("closing connection after repeated decode errors", "error", err)
				return
			}
			continue
		}

		if err := s.handleFrame(ctx, session, p, f); err != nil {
			logger.Debug("write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, session *dispatch.Session, p *peer, f Frame) error {
	req, known, err := DecodeRequest(f)
	if !known {
		return p.write(ErrorFrame(f.RequestID, CodeUnsupported, fmt.Sprintf("unsupported frame type %q", f.Type)))
	}
	if err != nil {
		ack := dispatch.Ack{Error: &dispatch.AckError{Code: dispatch.CodeInvalidPayload, Message: err.Error()}}
		return s.writeAck(p, f.RequestID, ack)
	}

	ack, hasAck := session.Handle(ctx, req)
	if !hasAck {
		return nil
	}
	return s.writeAck(p, f.RequestID, ack)
}

func (s *Server) writeAck(p *peer, requestID string, ack dispatch.Ack) error {
	f, err := AckFrame(requestID, ack)
	if err != nil {
		return err
	}
	return p.write(f)
}

// drain writes outbox messages until the outbox is closed and empty.
func (s *Server) drain(box *dispatch.Outbox, p *peer, logger *slog.Logger) {
	for {
		_, open := <-box.Wait()
		for _, m := range box.Drain() {
			f, err := MessageFrame(m)
			if err != nil {
				logger.Error("dropping unencodable broadcast", "event", m.Name, "error", err)
				continue
			}
			if err := p.write(f); err != nil {
				logger.Debug("broadcast write failed", "event", m.Name, "error", err)
			}
		}
		if !open {
			return
		}
	}
}

// ListenAndServe runs an HTTP server on addr until ctx ends, then shuts it
// down within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	s.logger.Info("listening", "addr", addr)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
