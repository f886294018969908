package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fentz26/presencesim/internal/audit"
	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/connectors/hass"
	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/metrics"
	"github.com/fentz26/presencesim/internal/presence"
	"github.com/fentz26/presencesim/internal/scheduler"
	"github.com/fentz26/presencesim/internal/store"
	"github.com/spf13/cobra"
)

var (
	listenAddr  string
	dbPath      string
	optionsPath string
	haURL       string
	haToken     string
	seed        int64
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the presencesim daemon",
	Long:  `Starts the daemon which plans and executes the simulation and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultDB := filepath.Join(homeDir, ".presencesim", "presencesim.db")

	haDefault, tokenDefault := hass.EnvSettings()

	daemonCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7466", "Listen address for the API server")
	daemonCmd.Flags().StringVar(&dbPath, "db", defaultDB, "Path to SQLite database")
	daemonCmd.Flags().StringVar(&optionsPath, "options", "/data/options.json", "Options file (YAML or JSON)")
	daemonCmd.Flags().StringVar(&haURL, "ha-url", haDefault, "Home Assistant API base URL")
	daemonCmd.Flags().StringVar(&haToken, "ha-token", tokenDefault, "Home Assistant access token")
	daemonCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for planning jitter (0 = time based)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting presencesim daemon...")
	controlplane.Version = version

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}

	// Initialize store
	s, err := store.New(dbPath)
	if err != nil {
		return err
	}

	options, err := config.LoadOptions(optionsPath)
	if err != nil {
		log.Printf("Warning: %v (using defaults)", err)
		options = map[string]interface{}{}
	}

	// Home Assistant
	client := hass.NewClient(haURL, haToken)
	if err := checkHomeAssistant(cmd.Context(), client, haToken); err != nil {
		log.Printf("Warning: %v; remote calls will fail", err)
	} else {
		log.Printf("Home Assistant reachable at %s", client.BaseURL())
	}

	// Initialize components
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := metrics.New()
	holder := config.NewHolder(config.Defaults())
	planner := presence.NewPlanner(client, rand.New(rand.NewSource(seed)))
	planner.SetObserver(m)
	pdr := audit.NewPDRWriter(s)
	exec := scheduler.New(planner, client, client, s, holder, m, scheduler.DefaultOptions())

	// Create service and server
	service := controlplane.NewService(s, pdr, exec, holder)
	service.SetOptions(options)
	if haToken != "" {
		service.SetHomeAssistant(client, client)
	}
	cfg, err := service.LoadConfig()
	if err != nil {
		s.Close()
		return err
	}
	log.Printf("Simulating %d entities, window %s-%s", len(cfg.Entities), cfg.WindowStart, cfg.WindowEnd)

	server := controlplane.NewServer(service, m, listenAddr)

	if _, err := exec.Recover(); err != nil {
		log.Printf("Warning: failed to recover run state: %v", err)
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			exec.Shutdown()
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping executor...")
	exec.Shutdown()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// checkHomeAssistant verifies the token is set and the API answers. A failure
// does not stop the daemon.
func checkHomeAssistant(ctx context.Context, client *hass.Client, token string) error {
	if token == "" {
		return hass.ErrNoToken
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("home assistant ping failed: %w", err)
	}
	return nil
}
