package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/dama-controller/core"
	"github.com/signalsfoundry/dama-controller/internal/logging"
	"github.com/signalsfoundry/dama-controller/internal/observability"
	"github.com/signalsfoundry/dama-controller/kb"
	"github.com/signalsfoundry/dama-controller/model"
	"github.com/signalsfoundry/dama-controller/timectrl"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML runtime config (defaults apply when empty)")
	scenarioPath := flag.String("scenario", "configs/scenario.json", "path to the return-link topology JSON")
	feedPath := flag.String("feed", "", "path to a newline-delimited JSON control feed (e.g. a named pipe); empty disables the feed")
	flag.Parse()

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "bad runtime config", logging.Any("error", err))
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, AddSource: true})
	ctx := context.Background()

	scenario, err := loadScenarioFile(*scenarioPath)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logging.String("path", *scenarioPath), logging.Any("error", err))
		os.Exit(1)
	}

	collector, err := observability.NewDamaCollector(cfg.SpotID, nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Any("error", err))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Any("error", err))
		os.Exit(1)
	}

	ctrl, err := core.NewLegacyDamaCtrl(core.Config{
		SpotID:        cfg.SpotID,
		FrameDuration: cfg.frameDuration(),
		FcaKbps:       cfg.FcaKbps,
		Scenario:      scenario,
	}, log, collector)
	if err != nil {
		log.Error(ctx, "failed to construct controller", logging.Any("error", err))
		os.Exit(1)
	}

	timer, err := timectrl.NewFrameTimer(cfg.frameDuration())
	if err != nil {
		log.Error(ctx, "failed to construct frame timer", logging.Any("error", err))
		os.Exit(1)
	}

	// Registry events and capacity requests cross goroutines through these
	// channels; the frame loop applies them at the frame boundary.
	events := make(chan kb.Event, 256)
	requests := make(chan model.CapacityRequest, 1024)

	registry := kb.NewTerminalRegistry()
	unsubscribe := registry.Subscribe(func(ev kb.Event) {
		select {
		case events <- ev:
		default:
			log.Error(context.Background(), "registry event dropped, queue full",
				logging.Int("terminal", int(ev.Registration.Terminal)))
		}
	})
	defer unsubscribe()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if *feedPath != "" {
		f, err := os.Open(*feedPath)
		if err != nil {
			log.Error(ctx, "failed to open control feed", logging.String("path", *feedPath), logging.Any("error", err))
			os.Exit(1)
		}
		defer f.Close()
		go runFeed(runCtx, f, registry, requests, log)
	}

	log.Info(ctx, "starting dama controller",
		logging.Int("spot", int(cfg.SpotID)),
		logging.Int("frame_ms", int(cfg.FrameDurationMs)),
		logging.Int("fca_kbps", int(cfg.FcaKbps)))

	loop := newFrameLoop(ctrl, timer, events, requests, log)
	if err := loop.run(runCtx); err != nil {
		log.Error(ctx, "frame loop stopped", logging.Any("error", err))
	}

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(shutdownCtx, shutdownTracing, log)
}

func loadScenarioFile(path string) (*model.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return core.LoadScenario(f)
}

func serveMetrics(addr string, collector *observability.DamaCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Any("error", err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
