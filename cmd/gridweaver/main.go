package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gridweaver/internal/config"
	"gridweaver/internal/core"
	"gridweaver/internal/journal"
	"gridweaver/internal/scenario"
	"gridweaver/internal/transport/observer"
	"gridweaver/pkg/gridweaver"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to config.yaml (defaults when empty)")
		scenarioPath = flag.String("scenario", "", "scenario json to apply at start (optional)")
		ticks        = flag.Int("ticks", -1, "ticks to run; -1 uses the scenario's count, 0 runs until interrupted")
		dt           = flag.Float64("dt", 0, "seconds per tick (default: scenario dt or the tick interval)")
		observerAddr = flag.String("observer", "", "observer listen address (overrides config)")
		journalPath  = flag.String("journal", "", "sqlite journal path (overrides config)")
		snapshotOut  = flag.String("snapshot", "", "write a snapshot here on exit (overrides config)")
		snapshotIn   = flag.String("load", "", "snapshot to load before the scenario (optional)")
		random       = flag.Int("random", 0, "anonymous random path requests to queue")
		seed         = flag.Int64("seed", 1, "seed for -random")
		watch        = flag.Bool("watch", true, "reload tunables when -config changes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[gridweaver] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	overrideString(&cfg.Observer.Addr, *observerAddr)
	overrideString(&cfg.Journal.Path, *journalPath)
	overrideString(&cfg.Snapshot.Path, *snapshotOut)

	engine, err := gridweaver.New(cfg, logger)
	if err != nil {
		logger.Fatalf("init engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jr *journal.Journal
	if cfg.Journal.Path != "" {
		jr, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Fatalf("open journal: %v", err)
		}
		defer jr.Close()
		engine.AddListener(jr)
	}

	if cfg.Observer.Addr != "" {
		obs := observer.NewServer(func() any { return engine.Stats() }, logger)
		engine.Attach(obs)
		srv := &http.Server{Addr: cfg.Observer.Addr, Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("observer listening on %s", cfg.Observer.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("observer: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, config.DefaultDebounce, logger)
		if err != nil {
			logger.Fatalf("watch config: %v", err)
		}
		defer w.Close()
		go func() {
			for {
				select {
				case next, ok := <-w.Updates:
					if !ok {
						return
					}
					engine.ApplyTunables(next)
				case err, ok := <-w.Errors:
					if !ok {
						return
					}
					logger.Printf("config reload rejected: %v", err)
				}
			}
		}()
	}

	if *snapshotIn != "" {
		if err := engine.LoadSnapshot(*snapshotIn); err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
	}

	step := cfg.Scheduler.TickInterval.Std().Seconds()
	run := *ticks
	if *scenarioPath != "" {
		sc, err := scenario.Load(*scenarioPath)
		if err != nil {
			logger.Fatalf("load scenario: %v", err)
		}
		if _, err := engine.Apply(sc); err != nil {
			logger.Fatalf("apply scenario: %v", err)
		}
		if sc.DT > 0 {
			step = sc.DT
		}
		if run < 0 {
			run = sc.Ticks
		}
	}
	if *dt > 0 {
		step = *dt
	}

	if *random > 0 {
		queueRandom(engine, *random, *seed, logger)
	}

	switch {
	case run > 0:
		for i := 0; i < run && ctx.Err() == nil; i++ {
			engine.Tick(step)
		}
	default:
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("run: %v", err)
		}
	}

	if cfg.Snapshot.Path != "" {
		header, err := engine.SaveSnapshot(cfg.Snapshot.Path)
		if err != nil {
			logger.Printf("snapshot: %v", err)
		} else if jr != nil {
			jr.RecordSnapshot(cfg.Snapshot.Path, header)
		}
	}
	if jr != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := jr.Flush(flushCtx); err != nil {
			logger.Printf("journal flush: %v", err)
		}
		cancel()
	}

	out, err := json.MarshalIndent(engine.Stats(), "", "  ")
	if err != nil {
		logger.Fatalf("encode stats: %v", err)
	}
	os.Stdout.Write(append(out, '\n'))
}

func overrideString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func queueRandom(engine *gridweaver.Engine, n int, seed int64, logger *log.Logger) {
	rng := rand.New(rand.NewSource(seed))
	bounds := engine.Bounds()
	for i := 0; i < n; i++ {
		start := gridweaver.RandomPosition(rng, bounds)
		end := gridweaver.RandomPosition(rng, bounds)
		i := i
		engine.RequestPath(start, end, func(waypoints []core.Vector3D, ok bool) {
			logger.Printf("random request %d: ok=%t length=%.2f", i, ok, gridweaver.PathLength(start, waypoints))
		}, core.InvalidAgentID, core.InvalidAgentID)
	}
}
