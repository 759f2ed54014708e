package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/lmittmann/tint"

	"github.com/glassflow/graphsync/internal/core/graph"
	"github.com/glassflow/graphsync/internal/core/loop"
	"github.com/glassflow/graphsync/internal/core/planner"
	"github.com/glassflow/graphsync/internal/core/quarantine"
	"github.com/glassflow/graphsync/internal/core/schema"
	"github.com/glassflow/graphsync/internal/core/stream"
	"github.com/glassflow/graphsync/internal/metrics"
	"github.com/glassflow/graphsync/internal/server"
)

//nolint:gochecknoglobals,revive // build variables
var (
	commit string = "unspecified"
	app    string = "unspecified"
)

type config struct {
	LogFormat    string     `default:"json" split_words:"true"`
	LogLevel     slog.Level `default:"info" split_words:"true"`
	LogAddSource bool       `default:"true" split_words:"true"`

	ServerAddr            string        `default:":8080" split_words:"true"`
	ServerWriteTimeout    time.Duration `default:"15s" split_words:"true"`
	ServerReadTimeout     time.Duration `default:"15s" split_words:"true"`
	ServerIdleTimeout     time.Duration `default:"5m" split_words:"true"`
	ServerShutdownTimeout time.Duration `default:"30s" split_words:"true"`

	Bus   stream.Config
	Graph graph.Config
	Loop  loop.Config
}

func main() {
	var cfg config
	if err := envconfig.Process("graphsync", &cfg); err != nil {
		slog.Error("unable to parse config", slog.Any("error", err))
		os.Exit(1)
	}

	//nolint: exhaustruct // optional config
	logOpts := &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogAddSource,
	}

	var logHandler slog.Handler
	switch cfg.LogFormat {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stdout, logOpts)
	default:
		//nolint:exhaustruct // optional config
		logHandler = tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
	}

	log := slog.New(logHandler)
	log = log.With(
		slog.String("app", app),
		slog.String("commit_hash", commit),
		slog.String("goversion", runtime.Version()),
	)

	if err := mainErr(&cfg, log); err != nil {
		log.Error("service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("service terminated gracefully")
}

// readiness tracks whether the bus connection and graph driver have
// both completed their initial handshake, for the /readyz probe.
type readiness struct {
	ready atomic.Bool
}

func (r *readiness) Ready() error {
	if !r.ready.Load() {
		return fmt.Errorf("dependencies not yet connected")
	}
	return nil
}

func mainErr(cfg *config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Info("received termination signal, shutting down gracefully")
		cancel()
	}()

	rec := metrics.New()
	rdy := &readiness{}

	apiServer := server.NewHTTPServer(
		cfg.ServerAddr,
		cfg.ServerReadTimeout,
		cfg.ServerWriteTimeout,
		cfg.ServerIdleTimeout,
		log,
		rdy,
		rec.Handler(),
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()
	defer func() {
		if err := apiServer.Shutdown(cfg.ServerShutdownTimeout); err != nil {
			log.Error("failed to shut down HTTP server", slog.Any("error", err))
		}
	}()

	conn, err := stream.Connect(cfg.Bus.Endpoints)
	if err != nil {
		return fmt.Errorf("connect to message bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Error("failed to close bus connection", slog.Any("error", err))
		}
	}()

	consumer, err := stream.NewConsumer(ctx, conn, cfg.Bus)
	if err != nil {
		return fmt.Errorf("create bus consumer: %w", err)
	}

	gateway, err := graph.Connect(ctx, cfg.Graph, log)
	if err != nil {
		return fmt.Errorf("connect to graph database: %w", err)
	}
	defer func() {
		if err := gateway.Close(context.Background()); err != nil {
			log.Error("failed to close graph driver", slog.Any("error", err))
		}
	}()

	rdy.ready.Store(true)

	registry := schema.NewRegistry()
	pl := planner.New()
	q := quarantine.New(log)

	syncLoop := loop.New(loop.NewNATSBus(consumer), registry, pl, gateway, q, rec, log, cfg.Loop)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- syncLoop.Run(ctx)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			cancel()
			<-loopErr
			return fmt.Errorf("http server failed: %w", err)
		}
	case err := <-loopErr:
		cancel()
		if err != nil {
			return fmt.Errorf("consumption loop failed: %w", err)
		}
	case <-ctx.Done():
		if err := <-loopErr; err != nil {
			return fmt.Errorf("consumption loop failed during shutdown: %w", err)
		}
	}

	return nil
}
