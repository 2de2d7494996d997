// Package mcp exposes AirOps app executions, chats, history and schedules
// as Model Context Protocol tools.
//
// server.go - Tool server wiring
//
// This file contains:
// - Server: the airops client plus the local history and schedule stores
// - Handler: health, readiness, metrics and the streamable MCP endpoint
// - ServeHTTP/ServeStdio: the two transports
// - runSchedule: the schedule runner's execution function
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/airops-go"
	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/audit"
	"github.com/HyphaGroup/airops-go/internal/auth"
	"github.com/HyphaGroup/airops-go/internal/config"
	"github.com/HyphaGroup/airops-go/internal/logger"
	"github.com/HyphaGroup/airops-go/internal/metrics"
	"github.com/HyphaGroup/airops-go/internal/ratelimit"
	"github.com/HyphaGroup/airops-go/internal/schedule"
	"github.com/HyphaGroup/airops-go/internal/store"
)

// ServerName is the implementation name reported to MCP clients
const ServerName = "airops"

// generateRequestID creates a unique request identifier
func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ServerConfig holds the dependencies of a Server. Client is required;
// History and Schedules are optional and disable their tools when nil.
type ServerConfig struct {
	Client       *airops.Client
	Apps         *config.AppRegistry
	History      *store.Store
	Schedules    *schedule.Store
	Tokens       *auth.Store // requires bearer tokens on /mcp when set
	ScheduleTick time.Duration
	ReadOnly     bool
	RateLimit    float64
	RateBurst    int
	Audit        *audit.Logger
	Logger       *slog.Logger
}

// Server wraps the MCP server with the airops client and local stores
type Server struct {
	client         *airops.Client
	apps           *config.AppRegistry
	history        *store.Store
	scheduleStore  *schedule.Store
	scheduleRunner *schedule.Runner
	tokens         *auth.Store
	registry       *Registry
	mcpServer      *mcp.Server
	limiter        *ratelimit.Limiter
	audit          *audit.Logger
	logger         *slog.Logger
	access         ToolAccess
}

// NewServer creates a new MCP server instance
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Client == nil {
		return nil, errors.New("mcp server requires an airops client")
	}

	s := &Server{
		client:        cfg.Client,
		apps:          cfg.Apps,
		history:       cfg.History,
		scheduleStore: cfg.Schedules,
		tokens:        cfg.Tokens,
		registry:      NewRegistry(),
		audit:         cfg.Audit,
		logger:        cfg.Logger,
		access:        AccessWrite,
	}
	if s.apps == nil {
		s.apps, _ = config.NewAppRegistry(nil)
	}
	if s.audit == nil {
		s.audit = audit.Default()
	}
	if s.logger == nil {
		s.logger = logger.Slog()
	}
	if cfg.ReadOnly {
		s.access = AccessRead
	}

	rps, burst := cfg.RateLimit, cfg.RateBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	s.limiter = ratelimit.New(rps, burst)

	if s.scheduleStore != nil {
		s.scheduleRunner = schedule.NewRunner(s.scheduleStore, s.runSchedule,
			schedule.WithTick(cfg.ScheduleTick),
			schedule.WithLogger(s.logger.With("component", "schedule")))
	}

	s.registerAllTools(s.registry)

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: airops.Version,
	}, nil)
	s.registry.RegisterWithMCPServer(s.mcpServer, s.access)

	return s, nil
}

// GetRegistry returns the tool registry
func (s *Server) GetRegistry() *Registry {
	return s.registry
}

// Limiter returns the per-client limiter guarding /mcp
func (s *Server) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Close stops the schedule runner, waiting for in-flight runs
func (s *Server) Close() {
	if s.scheduleRunner != nil {
		s.scheduleRunner.Stop()
	}
}

// Handler returns the HTTP handler serving health, metrics and MCP endpoints
func (s *Server) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		ctx = WithRemoteAddr(ctx, r.RemoteAddr)
		r = r.WithContext(ctx)

		s.logger.Debug("Http request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr, "request_id", requestID)
		mcpHandler.ServeHTTP(w, r)
	})

	var mcpRoute http.Handler = ratelimit.Middleware(s.limiter)(loggingHandler)
	if s.tokens != nil {
		// auth runs first so the limiter can key by token
		mcpRoute = auth.Middleware(s.tokens, s.logger)(mcpRoute)
	}

	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/health", s.handleHealthCheck)
	mainMux.HandleFunc("/ready", s.handleReadinessCheck)
	mainMux.Handle("/metrics", metrics.Handler())
	mainMux.Handle("/mcp", metrics.Middleware(mcpRoute))
	mainMux.Handle("/mcp/", metrics.Middleware(mcpRoute))
	return mainMux
}

// ServeHTTP starts the schedule runner and serves the streamable HTTP transport on addr
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	s.startRunner()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("MCP server listening", "addr", addr, "version", airops.Version, "read_only", s.access == AccessRead, "auth", s.tokens != nil)
	s.logger.Info("Health check", "url", "http://localhost"+addr+"/health")
	s.logger.Info("Metrics", "url", "http://localhost"+addr+"/metrics")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeStdio starts the schedule runner and serves MCP over stdin/stdout until ctx ends
func (s *Server) ServeStdio(ctx context.Context) error {
	s.startRunner()
	s.logger.Info("MCP server on stdio", "version", airops.Version, "read_only", s.access == AccessRead)
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) startRunner() {
	if s.scheduleRunner != nil {
		s.scheduleRunner.Start()
	}
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the server can serve requests
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.client.Host() == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","reason":"api host not configured"}`))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// runSchedule executes one run of a schedule and waits for its result
func (s *Server) runSchedule(ctx context.Context, sched *schedule.Schedule) (schedule.RunResult, error) {
	exec, err := s.client.Apps().Execute(ctx, execution.Request{
		AppID:   sched.AppID,
		Version: sched.Version,
		Payload: map[string]any{"inputs": sched.Inputs},
	})
	if err != nil {
		return schedule.RunResult{}, err
	}

	out := schedule.RunResult{ExecutionID: exec.ID()}
	res, err := exec.Result(ctx)
	if err != nil {
		return out, err
	}
	out.Output = res.Text()
	if !res.Succeeded() {
		if res.ErrorMessage != "" {
			return out, fmt.Errorf("execution %s finished with status %s: %s", exec.ID(), res.Status, res.ErrorMessage)
		}
		return out, fmt.Errorf("execution %s finished with status %s", exec.ID(), res.Status)
	}
	return out, nil
}
