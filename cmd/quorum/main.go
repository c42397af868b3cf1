package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
	"github.com/mtzanidakis/quorum/internal/server"
	"github.com/mtzanidakis/quorum/internal/session"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("quorum %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "watch":
		if err := runWatch(os.Args[2:]); err != nil {
			slog.Error("watch failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: quorum <command>\n\nCommands:\n  serve      Start the help request server\n  watch      Stream session events from a running server\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting quorum", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// SQLite journal
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)
	journal := store.NewJournal(db)

	sinks := session.MultiEvents{journal}
	lineSinks := []server.LineSink{journal}

	// Embedded NATS
	var client *natsbus.Client
	if cfg.NATS.Enabled {
		bus, err := natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()
		slog.Info("nats started", "url", bus.ClientURL())

		client, err = natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()

		pub := natsbus.NewPublisher(client)
		sinks = append(sinks, pub)
		lineSinks = append(lineSinks, pub)
	}

	tracker := agent.NewTracker()

	var webSrv *web.Server
	if cfg.Web.Enabled {
		webSrv = web.NewServer(tracker, db, client, cfg.Web, version)
		if client == nil {
			sinks = append(sinks, webSrv)
		}
	}

	reg := session.NewRegistry(sinks)

	opts := []server.Option{
		server.WithStore(db),
		server.WithTracker(tracker),
	}
	for _, sink := range lineSinks {
		opts = append(opts, server.WithLineSink(sink))
	}
	srv := server.New(reg, cfg.Server, agent.Config{
		Delay:       cfg.Session.Delay,
		Timeout:     cfg.Session.Timeout,
		Probability: cfg.Session.Probability,
		Message:     cfg.Session.Message,
	}, opts...)

	if webSrv != nil {
		webSrv.SetRegistry(reg)
		go func() {
			if err := webSrv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("agent server: %w", err)
	}
	slog.Info("shutting down")
	return nil
}
