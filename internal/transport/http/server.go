// Package httpapi exposes the copier's HTTP surface: signal intake from the
// upstream parser plus inspection endpoints for operators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"tradecopy/internal/engine"
	"tradecopy/internal/journal"
	"tradecopy/internal/logger"
	"tradecopy/internal/manager"
	"tradecopy/internal/metrics"
	"tradecopy/internal/signal"
)

// Server is the copier's HTTP front. Intake is asynchronous: a signal is
// validated and acknowledged with 202, execution runs in the background.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the server's dependencies.
type ServerConfig struct {
	Addr    string
	Engine  *engine.Engine
	Manager *manager.Manager
	Journal *journal.Store
	Metrics *metrics.Metrics
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires an execution engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9982"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := router.Group("/api")
	api.POST("/signals", handleSignal(cfg.Engine, cfg.Metrics))
	if cfg.Manager != nil {
		api.GET("/tickets", handleTickets(cfg.Manager))
	}
	if cfg.Journal != nil {
		api.GET("/journal", handleJournal(cfg.Journal))
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

// handleSignal validates an inbound payload and hands it to the engine. The
// schema runs before struct decoding so a malformed payload produces a
// pointed error instead of a zero-valued signal.
func handleSignal(eng *engine.Engine, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
			return
		}
		if !gjson.ValidBytes(body) {
			reject(c, m, "payload is not valid JSON")
			return
		}
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			reject(c, m, "payload is not valid JSON")
			return
		}
		if err := signal.ValidatePayload(doc); err != nil {
			reject(c, m, signal.SchemaError(err))
			return
		}
		var sig signal.Signal
		if err := json.Unmarshal(body, &sig); err != nil {
			reject(c, m, "decoding signal failed: "+err.Error())
			return
		}
		sig.Normalize()
		if err := sig.Validate(); err != nil {
			reject(c, m, err.Error())
			return
		}

		if m != nil {
			m.SignalsReceived.Inc()
		}
		logger.Infof("http: accepted signal %s (%s %s)", sig.GroupID, sig.Direction, sig.Symbol)
		go eng.Execute(context.Background(), sig)
		c.JSON(http.StatusAccepted, gin.H{"group_id": sig.GroupID})
	}
}

func reject(c *gin.Context, m *metrics.Metrics, msg string) {
	if m != nil {
		m.SignalsRejected.Inc()
	}
	logger.Warnf("http: rejected signal payload: %s", msg)
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func handleTickets(mgr *manager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tickets": mgr.Tickets()})
	}
}

func handleJournal(jrnl *journal.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		entries, err := jrnl.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
