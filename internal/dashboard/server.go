package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cvdflow/config"
	"cvdflow/internal/broadcast"
	"cvdflow/internal/metrics"
	"cvdflow/internal/stream"
	"cvdflow/logger"
	"cvdflow/models"
	"cvdflow/reader/upstox"
	"cvdflow/writer"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

const (
	defaultAddress  = "0.0.0.0:8000"
	shutdownTimeout = 30 * time.Second
)

// Streams is the subset of the stream manager the server drives.
type Streams interface {
	Attach(instrument string, sub broadcast.Subscriber) error
	Detach(instrument string, sub broadcast.Subscriber)
	State(instrument string) (stream.State, bool)
	Subscribers(instrument string) int
	Instruments() []string
}

// CandleFetcher loads historical candle batches.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, r upstox.HistoricalRequest) ([]models.HistoricalCandle, error)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Streams    Streams
	History    writer.HistoryStore
	Candles    CandleFetcher
	Prometheus bool
}

// Server hosts the chart pages, the live websocket feed and the monitoring
// endpoints.
type Server struct {
	cfg             config.ServerConfig
	deps            Deps
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	upgrader        websocket.Upgrader
}

func NewServer(cfg config.ServerConfig, deps Deps, log *logger.Log) (*Server, error) {
	if deps.Streams == nil || deps.History == nil {
		return nil, errors.New("dashboard: streams and history are required")
	}

	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory, logrus.InfoLevel)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		deps:            deps,
		log:             log,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   handlerID,
		resourceSampler: newResourceSampler(cfg.MetricsHistory, 5*time.Second, "/", log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, appName string) error {
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
		// Request contexts, and with them the live websocket writers, end
		// with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("server").WithField("address", s.cfg.Address).Info("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		s.log.WithComponent("server").Info("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the server listens on.
func (s *Server) Address() string {
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("pages").ParseFS(embeddedFS, "templates/*.tmpl"))
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":     appName,
			"Instruments": s.deps.Streams.Instruments(),
		})
	})
	router.GET("/monitor", func(c *gin.Context) {
		c.HTML(http.StatusOK, "monitor.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": 5000,
		})
	})

	router.GET("/live/:instrument", s.handleLivePage)
	router.GET("/ws/live/:instrument", s.handleLiveSocket)
	router.GET("/api/history/:instrument", s.handleHistory)
	router.POST("/getCandleData", s.handleCandleData)

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot(c.Query("instrument"))
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logStore.snapshot(c.Query("instrument"))})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	router.GET("/healthz", s.handleHealth)

	if s.deps.Prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	return router, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.LogPerformanceEntry(s.log.WithComponent("server"), "server", c.FullPath(), time.Since(start), logger.Fields{
			"status": c.Writer.Status(),
			"method": c.Request.Method,
		})
	}
}

type streamHealth struct {
	Instrument  string `json:"instrument"`
	State       string `json:"state"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	instruments := s.deps.Streams.Instruments()
	streams := make([]streamHealth, 0, len(instruments))
	for _, instrument := range instruments {
		state, ok := s.deps.Streams.State(instrument)
		if !ok {
			continue
		}
		streams = append(streams, streamHealth{
			Instrument:  instrument,
			State:       state.String(),
			Subscribers: s.deps.Streams.Subscribers(instrument),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": streams})
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return defaultAddress
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8000"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8000")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8000")
	}

	return addr
}
