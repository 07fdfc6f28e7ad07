// Package main implements the datashed daemon. It serves one workspace
// over the gRPC dataset service and the HTTP browse surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/datashed/datashed/internal/app"
	"github.com/datashed/datashed/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile   string
		workspaceDir string
		httpAddr     string
		grpcAddr     string
		showVersion  bool
		showHelp     bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&workspaceDir, "workspace", "", "Workspace directory")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC API address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Datashed - local-first storage for scientific datasets\n\n")
		fmt.Fprintf(os.Stderr, "Usage: datashed [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  datashed --workspace ~/datashed\n")
		fmt.Fprintf(os.Stderr, "  datashed --config /etc/datashed/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DATASHED_WORKSPACE     Workspace directory\n")
		fmt.Fprintf(os.Stderr, "  DATASHED_HTTP_ADDR     HTTP API address\n")
		fmt.Fprintf(os.Stderr, "  DATASHED_GRPC_ADDR     gRPC API address\n")
		fmt.Fprintf(os.Stderr, "  DATASHED_ARCHIVE_TYPE  Archive backend (none, local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("datashed version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Optional .env in the working directory.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, workspaceDir, httpAddr, grpcAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Block until SIGTERM or SIGINT, then run graceful shutdown.
	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags.
func loadConfig(configFile, workspaceDir, httpAddr, grpcAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if workspaceDir != "" {
		cfg.Workspace = workspaceDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}

	return cfg, nil
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════╗")
	log.Printf("║                   DATASHED                    ║")
	log.Printf("║   Local-First Scientific Dataset Storage      ║")
	log.Printf("╚═══════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Workspace: %s", cfg.Workspace)
	if cfg.HTTP.Enabled {
		log.Printf("  HTTP API:  %s", cfg.HTTP.Addr)
	}
	if cfg.GRPC.Enabled {
		log.Printf("  gRPC API:  %s", cfg.GRPC.Addr)
	}
	if cfg.ArchiveEnabled() {
		log.Printf("  Archive:   %s", cfg.Archive.Type)
	}
	if cfg.Backup.Interval > 0 {
		log.Printf("  Backups:   every %v (keep %d)", cfg.Backup.Interval, cfg.Backup.Keep)
	}
	log.Printf("")
}
