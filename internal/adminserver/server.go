// Package adminserver exposes the admin HTTP surface: liveness, readiness,
// Prometheus metrics, and a live event-stream websocket over poller events.
// This is distinct from, and does not replace, a CRUD API over the store
// (explicitly out of scope).
package adminserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"runloop/internal/obslog"
	"runloop/internal/poller"
	"runloop/internal/queue"
)

// Config configures the admin HTTP surface.
type Config struct {
	Addr           string
	Namespace      string
	AllowedOrigins []string
}

// Server wraps a gin.Engine bound to Config.Addr, wired to a queue.Store
// for readiness checks and a poller.Poller for the live event stream.
type Server struct {
	cfg    Config
	store  queue.Store
	poller *poller.Poller
	log    obslog.Logger
	engine *gin.Engine
	http   *http.Server

	upgrader websocket.Upgrader
}

func New(cfg Config, store queue.Store, p *poller.Poller, log obslog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	engine.Use(cors.New(corsCfg))

	s := &Server{
		cfg:    cfg,
		store:  store,
		poller: p,
		log:    obslog.OrNop(log),
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/events", s.handleEvents)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.EnsureTable(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}

	runners, err := s.store.GetRunnersWithStatus(ctx, int64(queue.DefaultHeartbeatTimeout/time.Millisecond), s.cfg.Namespace)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}
	alive := 0
	for _, r := range runners {
		if r.IsAlive {
			alive++
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "alive_runner_count": alive})
}

// handleEvents upgrades the request to a websocket and streams poller
// events as they are emitted. A newly connecting subscriber sees no
// backlog — this is an observer, not a durable log.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.poller == nil {
		return
	}

	var writeMu sync.Mutex
	unsubscribe := s.poller.Subscribe(func(ev poller.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	})
	defer unsubscribe()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run starts serving until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
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
