// Command emosensed is the EmoSense acquisition daemon. It consumes
// framed biosignal samples from a headset over serial (or a simulator,
// or a replayed capture file), keeps a rolling window for rendering,
// ships feature windows to the classification service, and serves the
// HTTP control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/BITBCI/EmoSense/internal/api"
	"github.com/BITBCI/EmoSense/internal/config"
	"github.com/BITBCI/EmoSense/internal/metrics"
	"github.com/BITBCI/EmoSense/internal/pipeline"
	"github.com/BITBCI/EmoSense/internal/store"
	"github.com/BITBCI/EmoSense/internal/uploader"
	"github.com/BITBCI/EmoSense/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (built-in defaults apply otherwise)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	connect     = flag.String("connect", "", `Source to open at startup: a serial device path, "auto", "sim", or "replay:<file>" (overrides config serial_port)`)
	dbPath      = flag.String("db", "", "Path to the SQLite database file (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// autoStartRetryInterval paces the upload auto-start loop while the
// ring fills towards the enable threshold.
const autoStartRetryInterval = 2 * time.Second

// pipelineOptions maps the daemon config onto pipeline options.
// Metrics and the outcome hook are wired separately in main.
func pipelineOptions(cfg *config.DaemonConfig) pipeline.Options {
	return pipeline.Options{
		SampleRate:     cfg.GetSampleRate(),
		BufferCapacity: cfg.GetBufferCapacity(),
		BaudRate:       cfg.GetBaudRate(),
		RenderInterval: cfg.GetRenderInterval(),
		UploadInterval: cfg.GetUploadInterval(),
		UploadTimeout:  cfg.GetUploadTimeout(),
		Endpoint:       cfg.GetUploadEndpoint(),
		APIKey:         cfg.GetAPIKey(),
		EEGScale:       cfg.GetEEGScale(),
		PPGScale:       cfg.GetPPGScale(),
		RecordDir:      cfg.GetRecordDir(),
	}
}

// startupTarget picks the source to open at boot. The -connect flag
// wins over the configured serial port; empty means stay disconnected
// until a client calls /api/connect.
func startupTarget(flagValue string, cfg *config.DaemonConfig) string {
	if flagValue != "" {
		return flagValue
	}
	return cfg.GetSerialPort()
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyDaemonConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadDaemonConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
	}

	addr := *listen
	if addr == "" {
		addr = cfg.GetListenAddr()
	}
	if addr == "" {
		log.Fatal("HTTP listen address is required")
	}

	dbFile := *dbPath
	if dbFile == "" {
		dbFile = cfg.GetDBPath()
	}

	log.Printf("Starting %s", version.String())

	st, err := store.Open(dbFile)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", dbFile, err)
	}
	defer st.Close()

	// Register on the default registerer so promhttp.Handler() serves
	// the pipeline metrics alongside the Go runtime collectors.
	met := metrics.New(prometheus.DefaultRegisterer)

	opts := pipelineOptions(cfg)
	opts.Metrics = met
	opts.OnOutcome = func(o uploader.Outcome) {
		if err := st.RecordOutcome(o); err != nil {
			log.Printf("Failed to record upload outcome: %v", err)
		}
	}

	pipe, err := pipeline.NewPipeline(opts)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	// Create a wait group for the HTTP server and upload auto-start routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe.Start(ctx)

	if target := startupTarget(*connect, cfg); target != "" {
		if err := pipe.Connect(target); err != nil {
			log.Printf("Startup connect to %q failed: %v (use /api/connect once the device is ready)", target, err)
		}
	}

	// Upload auto-start routine: Enable refuses until the ring holds
	// enough samples for a feature window, so retry until it takes.
	if cfg.GetUploadAutoStart() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(autoStartRetryInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := pipe.Uploader().Enable(); err == nil {
						log.Printf("Upload auto-start engaged")
						return
					}
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// mount the control API, the store admin surface, and the
		// Prometheus scrape endpoint on one mux
		mux := api.NewServer(pipe, st, met, nil).ServeMux()
		st.AttachAdminRoutes(mux)
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:    addr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// Finalize any recording left open so the session row matches the
	// file on disk. The pipeline flushes the CSV; the daemon owns the
	// database bookkeeping.
	if rec, err := pipe.StopRecording(); err == nil {
		if err := st.FinishSession(rec.ID(), time.Now(), rec.Count()); err != nil {
			log.Printf("Failed to finalize recording session %s: %v", rec.ID(), err)
		}
	}

	pipe.Close()
	log.Printf("Graceful shutdown complete")
}
