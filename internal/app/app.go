// Package app provides the record-layer server lifecycle: shared resources,
// the HTTP API, the gRPC health endpoint and background statistics
// collection.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	httpapi "github.com/arkilian/recordlayer/internal/api/http"
	"github.com/arkilian/recordlayer/internal/config"
	"github.com/arkilian/recordlayer/internal/logging"
	"github.com/arkilian/recordlayer/internal/server"
)

// App manages the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	res      *Resources
	shutdown *server.ShutdownManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcHealth   *health.Server
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if logger == nil {
		logger = logging.New(cfg.Log.Level, cfg.Log.Format)
	}
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start opens shared resources and starts the configured servers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	log := a.logger.WithComponent("app")

	res, err := Open(ctx, a.cfg, a.logger)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}
	a.res = res

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		Logger:          a.logger,
	})
	a.shutdown.OnShutdownStart(cancel)
	a.shutdown.RegisterCloser("resources", res)

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}
	if a.cfg.Statistics.CollectInterval > 0 {
		a.wg.Add(1)
		go a.collectLoop(ctx)
	}
	if window := res.QueryStats.Window(); window > 0 {
		a.wg.Add(1)
		go a.pruneLoop(ctx, window)
	}

	log.Info("recordlayer started",
		"http", a.HTTPAddr(),
		"grpc_enabled", a.cfg.GRPC.Enabled,
		"metadata_version", res.Store.MetaData().Version())
	return nil
}

func (a *App) startHTTP() error {
	mw := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.DefaultMiddleware(a.logger),
	)
	handler := httpapi.NewRouter(httpapi.Services{
		Store:      a.res.Store,
		Executor:   a.res.Executor,
		Statistics: a.res.Statistics,
		Catalog:    a.res.Catalog,
		Evolution:  a.res.Evolution,
		Collect: httpapi.CollectDefaults{
			SampleRate:    a.cfg.Statistics.SampleRate,
			Buckets:       a.cfg.Statistics.Buckets,
			ReservoirSize: a.cfg.Statistics.ReservoirSize,
		},
	}, mw)

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.httpListener = ln
	a.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser{
		Server:  a.httpServer,
		Timeout: a.cfg.HTTP.ShutdownTimeout,
	})

	log := a.logger.WithComponent("http")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	ln, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = ln
	a.grpcServer = grpc.NewServer()
	a.grpcHealth = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)
	reflection.Register(a.grpcServer)
	a.grpcHealth.SetServingStatus("recordlayer", healthpb.HealthCheckResponse_SERVING)

	a.shutdown.OnShutdownStart(a.grpcHealth.Shutdown)
	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	log := a.logger.WithComponent("grpc")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Info("gRPC server listening", "addr", ln.Addr().String())
		if err := a.grpcServer.Serve(ln); err != nil {
			log.Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// collectLoop refreshes statistics for every active record type on a fixed
// interval until ctx is done.
func (a *App) collectLoop(ctx context.Context) {
	defer a.wg.Done()
	log := a.logger.WithComponent("collector")
	ticker := time.NewTicker(a.cfg.Statistics.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			names := a.res.RecordTypeNames()
			if len(names) == 0 {
				continue
			}
			if _, err := a.res.Statistics.CollectAll(ctx, names, a.cfg.Statistics.SampleRate); err != nil && ctx.Err() == nil {
				log.Warn("periodic collection failed", "error", err)
			}
		}
	}
}

// pruneLoop drops predicate frequencies older than the window. It ticks at
// half the window so an entry outlives it by at most that much.
func (a *App) pruneLoop(ctx context.Context, window time.Duration) {
	defer a.wg.Done()
	log := a.logger.WithComponent("query-stats")
	ticker := time.NewTicker(max(window/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.res.QueryStats.Prune(); n > 0 {
				log.Debug("pruned predicate frequencies", "removed", n)
			}
		}
	}
}

// Stop gracefully shuts down all services.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()
	return err
}

// WaitForShutdown blocks until a signal arrives or ctx is done, then shuts
// down.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.wg.Wait()
	return err
}

// cleanup releases whatever Start opened before it failed.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	if a.httpServer != nil {
		a.httpServer.Close()
	} else if a.httpListener != nil {
		a.httpListener.Close()
	}
	a.wg.Wait()
	if a.res != nil {
		a.res.Close()
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// HTTPAddr returns the bound HTTP address once started.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address once started.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Resources returns the shared components.
func (a *App) Resources() *Resources {
	return a.res
}
