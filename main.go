// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lame_sched/internal/collectors/bundlesched"
	"lame_sched/internal/config"
	"lame_sched/internal/logger"
	"lame_sched/internal/sched"
)

var (
	version = "0.1.0"
)

func main() {
	// Load configuration (flags + optional TOML file)
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// -generate-config was handled; exit cleanly
		return
	}

	// Configure loggers based on configuration
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	numWorkers := cfg.Runtime.Workers
	if numWorkers == 0 {
		numWorkers = runtime.NumCPU()
	}

	log.Info().
		Str("version", version).
		Int("bundle_size", cfg.Lame.BundleSize).
		Str("tsc", cfg.Lame.TSC).
		Str("register", cfg.Lame.Register).
		Int("workers", numWorkers).
		Str("listen_address", cfg.Server.ListenAddress).
		Str("metrics_path", cfg.Server.MetricsPath).
		Msg("Starting LAME scheduler")

	// Start pprof HTTP server on a separate goroutine
	if cfg.Server.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			http.ListenAndServe("localhost:6060", nil)
		}()
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Build the static-site bitmap if configured
	bitmap, err := sched.InitSiteBitmap(cfg.Lame.BitmapPgszFactor)
	if err != nil {
		log.Warn().Err(err).Msg("Site bitmap not enabled")
	} else if bitmap != nil {
		log.Info().
			Int("pages", bitmap.Pages()).
			Int("marked", bitmap.MarkedPages()).
			Msg("Site bitmap constructed")
	} else {
		log.Warn().Msg("Site bitmap not enabled")
	}

	// Register the LAME handler with the kernel device
	if err := sched.Register(&cfg.Lame); err != nil {
		if errors.Is(err, sched.ErrKernelRegister) {
			log.Warn().Err(err).Msg("LAME capability not enabled")
		} else {
			log.Fatal().Err(err).Msg("❌ Invalid LAME registration")
		}
	}
	variant := sched.VariantForConfig(&cfg.Lame)

	// Create workers and populate their bundles with demo members
	workers := make([]*sched.Worker, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		w, err := sched.NewWorker(i, cfg.Lame.BundleSize)
		if err != nil {
			log.Fatal().Err(err).Int("worker", i).Msg("❌ Failed to create worker")
		}
		w.SetVariant(variant)
		w.SetBitmap(bitmap)

		interval := time.Duration(cfg.Runtime.TriggerIntervalMs) * time.Millisecond
		for j := 0; j < cfg.Lame.BundleSize; j++ {
			th := sched.NewThread(memberBody(ctx, interval))
			if err := w.BundleAdd(th, j == 0); err != nil {
				log.Fatal().Err(err).Int("worker", i).Msg("❌ Failed to populate bundle")
			}
		}
		w.SchedEnable()
		workers = append(workers, w)
	}
	log.Debug().Int("count", len(workers)).Msg("- Workers created")

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(bundlesched.NewBundleCollector())
	log.Debug().Msg("- Metrics initialized")

	// Set up HTTP server for Prometheus metrics
	http.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
            <head><title>LAME Scheduler</title></head>
            <body>
            <h1>LAME Scheduler v` + version + ` </h1>
            <p><a href="` + cfg.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	log.Info().Str("address", cfg.Server.ListenAddress).Msg("🌐 Starting HTTP server")
	srv := &http.Server{Addr: cfg.Server.ListenAddress}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("❌ Failed to start HTTP server")
		}
	}()

	// Release the bundles
	for _, w := range workers {
		w.StartMembers()
	}
	log.Info().Msg("LAME scheduler is running...")

	// Wait for context cancellation
	<-ctx.Done()
	log.Info().Msg("🛑 Received shutdown signal, shutting down gracefully...")

	// Ask each worker to dismantle. The spill itself runs in the owning
	// member's context when it next observes the flag, so the bundle stays
	// single-writer.
	for _, w := range workers {
		w.RequestStop()
	}
	sched.WaitMembers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("❌ Error shutting down HTTP server")
	}

	log.Info().Msg("LAME scheduler stopped gracefully")
}

// memberBody returns a demo bundle member: a loop that sleeps for a fixed
// interval and then enters the switching handler, standing in for the
// asynchronous kernel delivery.
func memberBody(ctx context.Context, interval time.Duration) func(*sched.Thread) {
	return func(th *sched.Thread) {
		for {
			time.Sleep(interval)

			select {
			case <-ctx.Done():
				return
			default:
			}

			w := th.Worker()
			if w == nil {
				// Dismantled out of the bundle; nothing left to rotate.
				return
			}
			w.TriggerLame(0)
		}
	}
}
