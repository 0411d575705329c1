package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/platformbuilds/arraymon/internal/arrayclient"
	"github.com/platformbuilds/arraymon/internal/collector"
	"github.com/platformbuilds/arraymon/internal/config"
	"github.com/platformbuilds/arraymon/internal/controller"
	"github.com/platformbuilds/arraymon/internal/endpoints"
	"github.com/platformbuilds/arraymon/internal/normalize"
	"github.com/platformbuilds/arraymon/internal/replay"
	"github.com/platformbuilds/arraymon/internal/selftelemetry"
	"github.com/platformbuilds/arraymon/internal/sink"
	"github.com/platformbuilds/arraymon/internal/version"
)

func main() {
	cfgPath := flag.String("config", "/etc/arraymon/config.yaml", "path to config yaml")
	replayDir := flag.String("replay", "", "replay capture files from this directory instead of collecting")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("arraymon %s (%s/%s)", version.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *replayDir != "" {
		cfg.Replay.Dir = *replayDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("arraymon %s starting", version.Version())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	metrics := selftelemetry.NewMetrics(cfg.SelfTelemetry.NS)
	mux := http.NewServeMux()
	metrics.InstallHandler(mux)
	srv := &http.Server{Addr: cfg.SelfTelemetry.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.SelfTelemetry.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	normalizer := normalize.New(cfg.System.ID, cfg.System.Name, logger)

	snk, err := buildSink(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("sink: %v", err)
	}

	if cfg.Replay.Dir != "" {
		engine, err := replay.NewEngine(cfg.Replay.Dir, cfg.Replay.FailureDir,
			cfg.Collection.PerController, normalizer, snk, logger)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		sum, err := engine.Run(ctx)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		log.Printf("arraymon: replayed %d files, %d records accepted, %d failed responses",
			sum.Files, sum.Accepted, sum.FailedResponses)
		shutdown(srv)
		if sum.FailedResponses > 0 {
			os.Exit(1)
		}
		return
	}

	registry, err := endpoints.NewRegistry(endpoints.Builtin(), cfg.Collection.Include, cfg.Collection.Exclude)
	if err != nil {
		log.Fatalf("endpoints: %v", err)
	}
	selector, err := controller.NewSelector(cfg.Controllers, logger)
	if err != nil {
		log.Fatalf("controllers: %v", err)
	}

	factory := func(address string) (*arrayclient.Client, error) {
		c, err := arrayclient.New(arrayclient.Config{
			BaseURL:  address,
			Timeout:  cfg.Collection.TimeoutDuration(),
			TLSMode:  arrayclient.TLSMode(cfg.TLS.Mode),
			CAFile:   cfg.TLS.CAFile,
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Auth.Username != "" {
			c.SetAuthHook(func(r *http.Request) error {
				r.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
				return nil
			})
		}
		return c, nil
	}

	orch, err := collector.New(collector.Config{
		System:        cfg.System.ID,
		SystemName:    cfg.System.Name,
		Interval:      cfg.Collection.IntervalDuration(),
		Threads:       cfg.Collection.Threads,
		MaxIterations: cfg.Collection.MaxIterations,
		PerController: cfg.Collection.PerController,
		CategoryIntervals: map[endpoints.Category]time.Duration{
			endpoints.CategoryConfiguration: config.Duration(cfg.Collection.Categories.Configuration, 0),
			endpoints.CategoryPerformance:   config.Duration(cfg.Collection.Categories.Performance, 0),
			endpoints.CategoryEvents:        config.Duration(cfg.Collection.Categories.Events, 0),
		},
	}, registry, selector, factory, normalizer, snk, metrics, logger)
	if err != nil {
		log.Fatalf("collector: %v", err)
	}

	err = orch.Run(ctx)
	log.Println("arraymon: shutting down")
	shutdown(srv)
	if err != nil {
		log.Fatalf("collector: %v", err)
	}
}

// buildSink wires the configured delivery path: capture-to-file when a
// capture directory is set, otherwise the store writer plus the optional
// remote-write mirror.
func buildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, error) {
	if cfg.Capture.Dir != "" {
		return sink.NewCaptureSink(cfg.Capture.Dir, logger)
	}

	influx, err := sink.NewInfluxSink(sink.InfluxConfig{
		URL:       cfg.Sink.Influx.URL,
		Token:     cfg.Sink.Influx.Token,
		Database:  cfg.Sink.Influx.Database,
		Bootstrap: cfg.Sink.Influx.Bootstrap,
		Timeout:   cfg.Collection.TimeoutDuration(),
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := influx.Start(ctx); err != nil {
		return nil, err
	}

	if !cfg.Sink.RemoteWrite.Enabled {
		return influx, nil
	}
	rw, err := sink.NewRemoteWriteSink(sink.RemoteWriteConfig{
		Enabled: true,
		URL:     cfg.Sink.RemoteWrite.URL,
		Headers: cfg.Sink.RemoteWrite.Headers,
		Timeout: cfg.Collection.TimeoutDuration(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return sink.NewMulti(influx, rw), nil
}

func shutdown(srv *http.Server) {
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
}
