// Package portal wystawia API portalu klienta: podgląd i wykonanie synchronizacji,
// stan przebiegu, mapowania, koszyk i eksport.
package portal

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/executor"
	"github.com/bartek5186/catalog2erp/internal/export"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/metrics"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// TokenHeader niesie token dostępu klienta portalu.
const TokenHeader = "X-Catalog-Token"

const clientKey = "catalog_client"

type Deps struct {
	Catalog     *catalog.Repository
	Selections  *catalog.Selections
	Connections *repository.Connections
	Mappings    *repository.Mappings
	History     *repository.History
	Access      *repository.AccessLogs
	Previews    *planner.Store
	Planner     *planner.Planner
	Executor    *executor.Executor
	Status      *progress.Surface
	Exporter    *export.Exporter
	Dialer      remote.Dialer
	Metrics     *metrics.Metrics
	Ping        func(ctx context.Context) error
}

type Settings struct {
	RemoteTimeout   time.Duration
	RemoteRPS       float64
	PollIntervalSec int
	PollTimeoutMin  int
}

type Server struct {
	log    zerolog.Logger
	d      Deps
	set    Settings
	engine *gin.Engine
	srv    *http.Server
}

func New(log zerolog.Logger, set Settings, d Deps) *Server {
	s := &Server{
		log: log.With().Str("component", "portal").Logger(),
		d:   d,
		set: set,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.requestLog())

	r.GET("/healthz", s.health)
	if s.d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.d.Metrics.Handler()))
	}

	p := r.Group("/catalog/portal", s.clientAuth())
	{
		p.POST("/sync/preview", s.preview)
		p.POST("/sync/preview/exclude", s.exclude)
		p.POST("/sync/execute", s.execute)
		p.GET("/sync/status", s.status)
		p.POST("/sync/status", s.status)
		p.POST("/sync/cancel", s.cancel)
		p.GET("/sync/result/:history_id", s.result)
		p.GET("/sync/history", s.historyList)
		p.POST("/sync/test-connection", s.testConnection)
		p.GET("/sync/connection", s.connection)
		p.POST("/sync/connection", s.saveConnection)

		p.GET("/sync/mappings", s.mappings)
		p.POST("/sync/mappings/create-default", s.createDefaultMappings)
		p.POST("/sync/mappings/field/save", s.saveFieldMapping)
		p.POST("/sync/mappings/field/delete", s.deleteFieldMapping)
		p.POST("/sync/mappings/category/save", s.saveCategoryMapping)
		p.POST("/sync/mappings/category/delete", s.deleteCategoryMapping)
		p.GET("/sync/mappings/fetch-categories", s.fetchCategories)
		p.GET("/sync/mappings/fetch-attributes", s.fetchAttributes)

		p.GET("/cart", s.cart)
		p.POST("/cart", s.setCart)
		p.POST("/cart/save", s.saveSelection)
		p.GET("/cart/saved/list", s.listSelections)
		p.POST("/cart/saved/load", s.loadSelection)
		p.POST("/cart/saved/delete", s.deleteSelection)
	}

	e := r.Group("/catalog/export", s.clientAuth())
	{
		e.POST("/csv", s.exportFile(export.FormatCSV))
		e.POST("/xlsx", s.exportFile(export.FormatXLSX))
	}
	return r
}

// Start nasłuchuje od razu (błąd portu wraca tutaj), obsługa idzie w tle.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("portal listening")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ---- middleware ----

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := s.log.Info()
		switch {
		case status >= 500:
			ev = s.log.Error()
		case status >= 400:
			ev = s.log.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Strs("errors", c.Errors.Errors())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("http request")
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			}
		}()
		c.Next()
	}
}

// clientAuth zamienia token z nagłówka na aktywnego klienta portalu.
func (s *Server) clientAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(TokenHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing access token"})
			return
		}
		cl, err := s.d.Catalog.ClientByToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid access token"})
				return
			}
			s.fail(c, err)
			c.Abort()
			return
		}
		if !cl.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "catalog access disabled"})
			return
		}
		c.Set(clientKey, cl)
		c.Next()
	}
}

func client(c *gin.Context) *db.Client {
	return c.MustGet(clientKey).(*db.Client)
}

// ---- błędy ----

// statusFor mapuje błędy domeny na kody HTTP.
func statusFor(err error) int {
	var (
		verr  *mapping.ValidationError
		terr  *mapping.InvalidTemplateError
		ierr  *planner.IncompleteMappingError
		lerr  *export.LimitError
		bindE *bindError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &terr), errors.As(err, &ierr), errors.As(err, &lerr), errors.As(err, &bindE):
		return http.StatusBadRequest
	case remote.IsAuthentication(err):
		return http.StatusUnauthorized
	case remote.IsConnection(err), remote.IsRemote(err):
		return http.StatusBadGateway
	case errors.Is(err, planner.ErrPreviewNotFound), errors.Is(err, repository.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound), errors.Is(err, export.ErrNoProducts):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrPreviewConsumed), errors.Is(err, executor.ErrClientBusy):
		return http.StatusConflict
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrPoolClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(code, gin.H{"success": false, "error": msg})
}

type bindError struct{ err error }

func (e *bindError) Error() string { return "invalid request: " + e.err.Error() }
func (e *bindError) Unwrap() error { return e.err }

// bind czyta JSON; puste ciało jest dozwolone i zostawia wartości zerowe.
func bind(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return &bindError{err: err}
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.d.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.d.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
