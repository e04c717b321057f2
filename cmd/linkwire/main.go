package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/linkwire-dev/linkwire/internal/httpapi"
	intobs "github.com/linkwire-dev/linkwire/internal/observability"
	"github.com/linkwire-dev/linkwire/internal/transport"
	"github.com/linkwire-dev/linkwire/pkg/audit"
	"github.com/linkwire-dev/linkwire/pkg/config"
	"github.com/linkwire-dev/linkwire/pkg/observability"
	"github.com/linkwire-dev/linkwire/pkg/session"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "linkwire",
		Short: "Session gateway for the remote messaging service",
		Long: "linkwire manages authenticated connection sessions to the remote " +
			"messaging service: visual-code and pairing-code handshakes, durable " +
			"credential storage, and reconnection without repeating the handshake.",
	}
	root.AddCommand(newServeCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the linkwire version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("linkwire v%s\n", Version)
		},
	}
}

func newServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API and observability servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", os.Getenv("LINKWIRE_CONFIG"), "path to config file")
	return cmd
}

func serve(configFile string) error {
	log.Printf("Starting linkwire v%s", Version)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	observability.InitMetrics()
	if err := intobs.InitFromEnv(); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	store, err := session.NewFileStore(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer func() { _ = store.Close() }()

	client := transport.New(transport.Config{
		URL:              cfg.Transport.URL,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		Versions:         cfg.Transport.Versions,
		FallbackVersion:  cfg.Transport.FallbackVersion,
	})

	svc, err := session.NewService(store, client, session.Options{
		SweepSchedule: cfg.Janitor.SweepSchedule,
	})
	if err != nil {
		return fmt.Errorf("create session service: %w", err)
	}
	defer svc.Close()

	healthChecker := observability.NewHealthChecker()
	healthChecker.RegisterCheck(observability.PingCheck())
	healthChecker.RegisterCheck(observability.StoreCheck(func(ctx context.Context) error {
		_, _, err := store.Get(ctx, "healthcheck")
		return err
	}))

	auditLog := audit.NewJSONLogger(nil)
	defer func() { _ = auditLog.Close() }()

	apiServer := httpapi.NewServer(svc, httpapi.Config{
		Addr:         cfg.Server.Addr,
		APIKey:       cfg.Server.APIKey,
		EnableCORS:   cfg.Server.EnableCORS,
		Debug:        cfg.Server.Debug,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Audit:        auditLog,
	})
	obsServer := observability.NewServer(observability.ServerConfig{
		Port:         cfg.Observability.Port,
		ReadTimeout:  cfg.Observability.ReadTimeout,
		WriteTimeout: cfg.Observability.WriteTimeout,
	}, healthChecker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("Session API listening on %s", cfg.Server.Addr)
		return apiServer.Start()
	})
	group.Go(func() error {
		log.Printf("Observability server listening on :%d", cfg.Observability.Port)
		if err := obsServer.Start(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Observability server shutdown error: %v", err)
		}
		if err := intobs.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	log.Println("linkwire stopped")
	return nil
}
