// Package app provides the application lifecycle for the datashed daemon.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	grpcapi "github.com/datashed/datashed/internal/api/grpc"
	httpapi "github.com/datashed/datashed/internal/api/http"
	"github.com/datashed/datashed/internal/archive"
	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/config"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/server"
	"github.com/datashed/datashed/internal/storage"
	"github.com/datashed/datashed/internal/workspace"
	"google.golang.org/grpc"
)

// App manages the daemon lifecycle: one workspace, one server, and the
// API surfaces configured on top of it.
type App struct {
	cfg *config.Config

	// Shared resources
	ws       *workspace.Workspace
	srv      *server.Server
	archiver *archive.Archiver
	shutdown *server.ShutdownManager

	// API surfaces
	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcListener net.Listener

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg: cfg,
	}, nil
}

// Start opens the workspace and brings up the configured API surfaces.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("app is already running")
	}

	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.initWorkspace(); err != nil {
		return err
	}

	a.srv = server.New(a.ws, server.Options{
		MaxChunkBytes: a.cfg.Server.MaxChunkBytes,
		FlushBytes:    a.cfg.Server.FlushBytes,
		CommandBuffer: a.cfg.Server.CommandBuffer,
		StatsWindow:   a.cfg.Server.StatsWindow,
	})
	if err := a.srv.Serve(); err != nil {
		return fmt.Errorf("failed to start workspace server: %w", err)
	}

	// The workspace server is registered first so it closes last, after
	// the API surfaces have drained.
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		return a.srv.Shutdown(context.Background())
	}))

	if err := a.initArchiver(ctx); err != nil {
		return err
	}

	if a.cfg.HTTP.Enabled {
		if err := a.startHTTP(); err != nil {
			return err
		}
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			return err
		}
	}

	a.startBackupLoop(ctx)

	a.running = true
	log.Printf("Datashed started (workspace: %s)", a.ws.Root().Path())
	return nil
}

// initWorkspace opens the configured workspace, initializing it on first
// use.
func (a *App) initWorkspace() error {
	ws, err := workspace.Open(a.cfg.Workspace)
	if err == nil {
		log.Printf("Opened workspace at %s", a.cfg.Workspace)
		a.ws = ws
		return nil
	}

	if dserrors.GetCode(err) != dserrors.CodeNotAWorkspace {
		return fmt.Errorf("failed to open workspace: %w", err)
	}

	ws, err = workspace.Init(a.cfg.Workspace)
	if err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}
	log.Printf("Initialized new workspace at %s", a.cfg.Workspace)
	a.ws = ws
	return nil
}

// initArchiver sets up archive storage when archiving is configured.
func (a *App) initArchiver(ctx context.Context) error {
	if !a.cfg.ArchiveEnabled() {
		return nil
	}

	var store storage.ObjectStorage
	switch a.cfg.Archive.Type {
	case "local":
		local, err := storage.NewLocalStorage(a.cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("failed to create local archive storage: %w", err)
		}
		store = local
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if a.cfg.Archive.S3.Region != "" {
			s3cfg.Region = a.cfg.Archive.S3.Region
		}
		if a.cfg.Archive.S3.Endpoint != "" {
			s3cfg.Endpoint = a.cfg.Archive.S3.Endpoint
		}
		s3cfg.UsePathStyle = a.cfg.Archive.S3.UsePathStyle

		s3, err := storage.NewS3Storage(ctx, a.cfg.Archive.S3.Bucket, s3cfg)
		if err != nil {
			return fmt.Errorf("failed to create S3 archive storage: %w", err)
		}
		store = s3
	default:
		return fmt.Errorf("unknown archive type: %s", a.cfg.Archive.Type)
	}

	a.archiver = archive.New(store, archive.Options{
		Prefix:      a.cfg.Archive.Prefix,
		Concurrency: a.cfg.Archive.Concurrency,
	})

	log.Printf("Archiving enabled (type: %s)", a.cfg.Archive.Type)
	return nil
}

// startHTTP wires the browse surface onto an HTTP server.
func (a *App) startHTTP() error {
	mux := http.NewServeMux()

	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware,
		httpapi.RequestIDMiddleware,
		httpapi.CorrelationIDMiddleware,
		httpapi.ContentTypeMiddleware,
	)

	mux.Handle("/v1/datasets", middleware(httpapi.NewDatasetListHandler(a.srv)))
	mux.Handle("/v1/datasets/", middleware(httpapi.NewDatasetHandler(a.srv)))
	mux.Handle("/v1/stats", middleware(httpapi.NewStatsHandler(a.srv)))
	mux.Handle("/v1/archive", middleware(a.archiveHandler()))
	mux.HandleFunc("/health", a.healthHandler())

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP API listening on %s", a.cfg.HTTP.Addr)
		graceful := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)
		if err := graceful.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// startGRPC wires the dataset service onto a gRPC server.
func (a *App) startGRPC() error {
	a.grpcServer = grpc.NewServer()
	grpcapi.RegisterDatasetServer(a.grpcServer, grpcapi.NewDatasetServer(a.srv))

	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcListener = lis

	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC API listening on %s", a.cfg.GRPC.Addr)
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	return nil
}

// startBackupLoop periodically snapshots the catalog into the workspace
// backup directory.
func (a *App) startBackupLoop(ctx context.Context) {
	if a.cfg.Backup.Interval <= 0 {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("Catalog backup loop started (interval: %v, keep: %d)", a.cfg.Backup.Interval, a.cfg.Backup.Keep)

		ticker := time.NewTicker(a.cfg.Backup.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runBackup(ctx)
			}
		}
	}()
}

// runBackup takes one catalog backup and prunes old ones past the
// retention count.
func (a *App) runBackup(ctx context.Context) {
	dir := a.ws.Root().BackupDir()

	path, err := a.ws.Catalog().Backup(ctx, dir)
	if err != nil {
		log.Printf("[WARN] app: catalog backup failed: %v", err)
		return
	}
	log.Printf("Catalog backed up to %s", path)

	if _, err := catalog.PruneBackups(dir, a.cfg.Backup.Keep); err != nil {
		log.Printf("[WARN] app: failed to prune backups: %v", err)
	}
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	// Stop the backup loop
	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Runs the registered closers in LIFO order: API surfaces first, the
	// workspace server last. A signal-driven shutdown has already done
	// this; the manager only runs them once.
	if err := a.shutdown.Shutdown(shutdownCtx, "stop requested"); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	// Wait for all goroutines to finish
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All goroutines finished
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("Datashed stopped")
	return nil
}

// healthHandler returns the liveness handler.
func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"datashed","state":"%s"}`, a.srv.State())
	}
}

// archiveHandler returns a handler for manually pushing a completed
// dataset to archive storage.
func (a *App) archiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if a.archiver == nil {
			http.Error(w, "Archiving not configured", http.StatusServiceUnavailable)
			return
		}

		uid := r.URL.Query().Get("uid")
		if uid == "" {
			http.Error(w, "uid query parameter is required", http.StatusBadRequest)
			return
		}

		record, err := a.srv.GetDataset(r.Context(), uid)
		if err != nil {
			if dserrors.GetKind(err) == dserrors.KindNotFound {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if record.Status != catalog.StatusCompleted {
			http.Error(w, "dataset is not completed", http.StatusConflict)
			return
		}

		dir := a.ws.Root().Resolve(record.Path)
		log.Printf("Archive push triggered for dataset %s", record.UID)
		go func() {
			if _, err := a.archiver.Push(context.Background(), dir, record.UID); err != nil {
				log.Printf("Archive push failed for %s: %v", record.UID, err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"status":"accepted","message":"Archive push triggered for dataset %s"}`, record.UID)
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
