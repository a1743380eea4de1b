// Package admin serves the HTTP status surface of a running application:
// prometheus metrics, liveness and the runtime state.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Status is the snapshot reported on /state.
type Status struct {
	State     string `json:"state"`
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Timers    int    `json:"timers"`
}

// StatusFunc returns the current runtime status.
type StatusFunc func() Status

type Server struct {
	router  *gin.Engine
	started time.Time
	log     zerolog.Logger
}

// New builds the routes. A nil status omits /state.
func New(gatherer prometheus.Gatherer, status StatusFunc, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:  gin.New(),
		started: time.Now(),
		log:     log,
	}
	s.router.Use(gin.Recovery())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if status != nil {
		s.router.GET("/state", func(c *gin.Context) {
			c.JSON(http.StatusOK, status())
		})
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
