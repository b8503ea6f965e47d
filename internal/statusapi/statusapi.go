// Package statusapi is the status/observability HTTP surface: a small
// gin server reporting proxy and pool health, plus a live stats stream
// over a websocket. It runs alongside the result processor in the same
// process.
package statusapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vhz-mon/marketwatch/internal/config"
	"github.com/vhz-mon/marketwatch/internal/proxymgr"
	"github.com/vhz-mon/marketwatch/internal/store"
)

// Server exposes GET /status, GET /healthz, and GET /status/stream.
type Server struct {
	store   *store.Store
	proxies *proxymgr.Manager
	cfg     config.StatusAPIConfig
	logger  *slog.Logger
	router  *gin.Engine
	http    *http.Server
}

// New builds a Server and wires its routes.
func New(st *store.Store, proxies *proxymgr.Manager, cfg config.StatusAPIConfig, logger *slog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{store: st, proxies: proxies, cfg: cfg, logger: logger, router: router}

	router.GET("/healthz", s.healthz)
	router.GET("/status", s.status)
	router.GET("/status/stream", s.statusStream)

	s.http = &http.Server{Addr: cfg.Addr, Handler: router}
	return s
}

// Run starts the HTTP server, blocking until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusSnapshot is the snapshot served by /status and the stream. The
// proxy stats come from one fresh read and the found-item count from a
// second one, so the two parts are not taken atomically together.
type statusSnapshot struct {
	ProxyStats  store.ProxyStats `json:"proxy_stats"`
	FoundItems  int64            `json:"found_items"`
	GeneratedAt time.Time        `json:"generated_at"`
}

func (s *Server) snapshot(ctx context.Context) (statusSnapshot, error) {
	proxyStats, err := s.proxies.GetStats(ctx)
	if err != nil {
		return statusSnapshot{}, err
	}

	sess, err := s.store.NewSession(ctx)
	if err != nil {
		return statusSnapshot{}, err
	}
	defer sess.Close()

	foundCount, err := sess.CountFoundItems()
	if err != nil {
		return statusSnapshot{}, err
	}

	return statusSnapshot{
		ProxyStats:  proxyStats,
		FoundItems:  foundCount,
		GeneratedAt: time.Now(),
	}, nil
}

func (s *Server) status(c *gin.Context) {
	snap, err := s.snapshot(c.Request.Context())
	if err != nil {
		s.logger.Error("status snapshot failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusStream upgrades to a websocket and pushes a fresh snapshot every
// few seconds until the client disconnects.
func (s *Server) statusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.snapshot(ctx)
			if err != nil {
				s.logger.Error("status stream snapshot failed", "error", err)
				continue
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}
	}
}
