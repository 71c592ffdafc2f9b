package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/mutorelay/auth"
	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/relay"
)

// FrameHandler consumes raw client frames.
type FrameHandler interface {
	HandleFrame(ctx context.Context, c relay.Client, frame []byte)
}

// Config tunes the WebSocket endpoint.
type Config struct {
	// AllowedOrigins restricts upgrades by Origin header. Empty allows any.
	AllowedOrigins []string
	// Secret requires an HS256 token when set.
	Secret          []byte
	MaxMessageBytes int64
}

// Server upgrades HTTP requests and attaches the connections to the hub.
type Server struct {
	ctx      context.Context
	hub      *Hub
	handler  FrameHandler
	status   StatusSource
	cfg      Config
	upgrader websocket.Upgrader
	log      logger.Logger
	h        http.Handler
}

// NewServer creates the /ws handler. Connections live until ctx is done or
// the peer goes away.
func NewServer(ctx context.Context, hub *Hub, handler FrameHandler, status StatusSource, cfg Config, log logger.Logger) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4096
	}
	if log == nil {
		log = nopLogger{}
	}
	s := &Server{ctx: ctx, hub: hub, handler: handler, status: status, cfg: cfg, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.h = auth.Middleware(cfg.Secret)(http.HandlerFunc(s.serveWS))
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP handles WebSocket requests from clients. When a secret is
// configured the request must carry a valid token before it is upgraded.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.h.ServeHTTP(w, r)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	canDrive := true
	if claims, ok := auth.ClaimsFrom(r.Context()); ok {
		canDrive = claims.CanDrive()
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &Client{
		hub:      s.hub,
		conn:     conn,
		id:       uuid.NewString(),
		canDrive: canDrive,
		send:     make(chan []byte, sendBuffer),
	}
	if !s.hub.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
		_ = conn.Close()
		return
	}
	if s.status != nil {
		c.Send(StatusFrame(s.status.Status()))
	}
	go c.writePump()
	go c.readPump(s.ctx, s.handler, s.cfg.MaxMessageBytes)
}
