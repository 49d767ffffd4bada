package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	"serumflow/config"
	"serumflow/engine"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
	"serumflow/processor"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// Server hosts the Gin-powered monitoring dashboard for SerumFlow.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	manager         *engine.Manager
	monitor         *processor.OpenOrdersMonitor
	metricStore     *metricStore
	logStore        *logStore
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	hub             *hub
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil. manager and
// monitor may be nil, in which case the market endpoints report nothing.
func NewServer(cfg config.DashboardConfig, log *logger.Log, manager *engine.Manager, monitor *processor.OpenOrdersMonitor) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Addr = normalizeAddress(cfg.Addr)
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 500
	}
	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = 200
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:             cfg,
		log:             log,
		manager:         manager,
		monitor:         monitor,
		metricStore:     metricStore,
		logStore:        logStore,
		metricHandler:   metrics.RegisterMetricHandler(metricStore.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, log),
		hub:             newHub(manager, cfg.BookDepth, log),
	}, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.resourceSampler.start(ctx)
	if err := s.hub.start(ctx); err != nil {
		s.log.WithComponent("dashboard").WithError(err).Warn("live stream unavailable")
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithComponent("dashboard").WithField("addr", s.cfg.Addr).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.hub.stop()
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Addr
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": int(s.cfg.RefreshInterval / time.Millisecond),
		})
	})

	api := router.Group("/api")
	api.GET("/markets", s.handleMarkets)
	api.GET("/books/:market", s.handleBook)
	api.GET("/trades/:market", s.handleTrades)
	api.GET("/open_orders", s.handleOpenOrders)

	api.GET("/metrics", func(c *gin.Context) {
		snapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, m := range snapshot {
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

	api.GET("/logs", func(c *gin.Context) {
		snapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, l := range snapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"market":    l.Market,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	api.GET("/resources", func(c *gin.Context) {
		snapshot := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshot))
		for _, snap := range snapshot {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"heap_alloc":     snap.HeapAlloc,
				"goroutines":     snap.Goroutines,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/ws", func(c *gin.Context) {
		s.hub.serveWS(c.Writer, c.Request)
	})

	return router, nil
}

type marketView struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
	BaseDecimals  uint8  `json:"base_decimals,omitempty"`
	QuoteDecimals uint8  `json:"quote_decimals,omitempty"`
}

func (s *Server) handleMarkets(c *gin.Context) {
	views := make([]marketView, 0)
	if s.manager != nil {
		for _, st := range s.manager.AllMarkets() {
			v := marketView{
				Name:    st.Name,
				Address: st.Address.String(),
				State:   st.State().String(),
			}
			if err := st.Err(); err != nil {
				v.Error = err.Error()
			}
			if st.State() == engine.StateLive {
				v.BaseDecimals = st.BaseDecimals
				v.QuoteDecimals = st.QuoteDecimals
			}
			views = append(views, v)
		}
	}
	c.JSON(http.StatusOK, gin.H{"markets": views})
}

func (s *Server) handleBook(c *gin.Context) {
	st, ok := s.resolveMarket(c)
	if !ok {
		return
	}
	snap := processor.BuildSnapshot(models.RawBookMessage{
		Market:    st.Address.String(),
		Name:      st.Name,
		Book:      st.OrderBook(),
		Timestamp: time.Now(),
	}, s.cfg.BookDepth)
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleTrades(c *gin.Context) {
	st, ok := s.resolveMarket(c)
	if !ok {
		return
	}
	trades := processor.NormalizeTrades(models.RawTradeMessage{
		Market:    st.Address.String(),
		Name:      st.Name,
		Trades:    st.RecentTrades(s.cfg.MaxTrades),
		Timestamp: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"market": st.Name, "trades": trades})
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	accounts := []processor.OpenOrdersSummary{}
	if s.monitor != nil {
		accounts = s.monitor.Accounts()
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// resolveMarket accepts either a market address or a configured name. Names
// use "-" in place of "/" so they fit in a single path segment.
func (s *Server) resolveMarket(c *gin.Context) (*engine.MarketState, bool) {
	param := c.Param("market")
	if s.manager != nil {
		if key, err := solana.PublicKeyFromBase58(param); err == nil {
			if st, ok := s.manager.Lookup(key); ok {
				return st, true
			}
		}
		if st, ok := s.manager.LookupName(strings.ReplaceAll(param, "-", "/")); ok {
			return st, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown market " + param})
	return nil, false
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if parsed.Host != "" {
				addr = parsed.Host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") && len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
		return "0.0.0.0" + addr
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if !strings.Contains(addr, ":") || net.ParseIP(addr) != nil {
		return net.JoinHostPort(addr, "8080")
	}
	return addr
}
