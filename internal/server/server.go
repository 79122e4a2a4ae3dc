// package server contains the gin HTTP API and the OAuth callback handler
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/shared"
	"github.com/desertthunder/trackline/internal/tasks"
)

const shutdownTimeout = 10 * time.Second

// Handler is an [http.Handler] that knows the paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Options configures a [Server].
type Options struct {
	// Debug surfaces internal error text in responses.
	Debug       bool
	CORSOrigins []string
	Logger      *log.Logger
}

// Server is the trackline HTTP API.
type Server struct {
	engine     *tasks.Engine
	dispatcher *queue.Dispatcher
	router     *gin.Engine
	debug      bool
	logger     *log.Logger
}

// New builds the API router. Call gin.SetMode before New to pick the gin mode.
func New(engine *tasks.Engine, dispatcher *queue.Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		engine:     engine,
		dispatcher: dispatcher,
		router:     gin.New(),
		debug:      opts.Debug,
		logger:     shared.WithLogger(logger, "component", "http"),
	}

	s.router.Use(requestLogger(s.logger), gin.CustomRecovery(s.onPanic), corsMiddleware(opts.CORSOrigins))
	s.router.NoRoute(func(c *gin.Context) {
		s.fail(c, errRouteNotFound)
	})
	s.routes()
	return s
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", s.health)

	tracks := r.Group("/tracks")
	tracks.GET("", s.listTracks)
	tracks.POST("", s.createTrack)
	tracks.POST("/bulk", s.bulk)
	tracks.POST("/status-bulk", s.statusBulk)
	tracks.GET("/:id", s.getTrack)
	tracks.DELETE("/:id", s.deleteTrack)
	tracks.GET("/:id/status", s.trackStatus)
	tracks.POST("/:id/start", s.startTrack)
	tracks.POST("/:id/stop", s.stopTrack)
	tracks.POST("/:id/retry", s.retryTrack)
	tracks.POST("/:id/upload", s.uploadTrack)

	r.POST("/uploads/bulk", s.bulkUpload)

	r.POST("/import", s.beginImport)
	r.GET("/import/progress/:sessionId", s.importProgress)

	r.GET("/genres", s.listGenres)
	r.POST("/genres", s.createGenre)

	r.GET("/queues/:name", s.queueStats)
	r.POST("/queues/:name/pause", s.pauseQueue)
	r.POST("/queues/:name/resume", s.resumeQueue)

	r.GET("/batches/:id", s.batchStats)
	r.POST("/batches/:id/cancel", s.cancelBatch)
	r.POST("/batches/:id/retry", s.retryBatch)

	r.GET("/jobs/failed", s.failedJobs)
	r.POST("/jobs/failed/retry", s.retryJobs)
	r.POST("/jobs/failed/clear", s.clearJobs)
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	s.ok(c, http.StatusOK, "ok", gin.H{"running_jobs": s.dispatcher.Running(), "queues": s.dispatcher.Queues()})
}
