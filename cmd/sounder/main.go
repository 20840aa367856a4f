package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/depth.report/internal/api"
	"github.com/banshee-data/depth.report/internal/broadcast"
	"github.com/banshee-data/depth.report/internal/capture"
	"github.com/banshee-data/depth.report/internal/config"
	"github.com/banshee-data/depth.report/internal/db"
	"github.com/banshee-data/depth.report/internal/gps"
	"github.com/banshee-data/depth.report/internal/metrics"
	"github.com/banshee-data/depth.report/internal/monitor"
	"github.com/banshee-data/depth.report/internal/network"
	"github.com/banshee-data/depth.report/internal/sonar/l1frames"
	"github.com/banshee-data/depth.report/internal/sonar/pipeline"
	"github.com/banshee-data/depth.report/internal/units"
	"github.com/banshee-data/depth.report/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to a sounder JSON config (defaults apply to omitted keys)")
	devMode       = flag.Bool("dev", false, "Run against the synthetic sounder instead of a serial port")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyACM1", "Serial port to use (ignored in dev and replay mode)")
	replayFile    = flag.String("replay", "", "Replay a raw capture file at the configured baud rate instead of reading a port")
	disableSerial = flag.Bool("disable-serial", false, "Serve the API without any sounder input")
	dbFile        = flag.String("db", "depth_data.db", "SQLite database path")
	disableDB     = flag.Bool("disable-db", false, "Do not persist soundings")
	channelName   = flag.String("channel", "primary", "Channel name attached to every record")
	displayUnits  = flag.String("units", units.CM, "Default display units for the API ("+units.GetValidUnitsString()+")")
	gpsPort       = flag.String("gps-port", "", "Serial port of an NMEA GNSS receiver")
	gpsBaud       = flag.Int("gps-baud", gps.DefaultBaudRate, "Baud rate of the GNSS receiver")
	staticFix     = flag.String("static-fix", "", "Fixed location as \"lat,lon\" when no receiver is attached")
	captureDir    = flag.String("capture-dir", "captures", "Directory for raw captures taken from /debug/capture")
	forwardAddr   = flag.String("forward-addr", "", "Send every record as a 13-byte UDP datagram to this host:port")
	logDiag       = flag.String("log-diag", "", "Write pipeline diagnostics to this file (\"-\" for stderr)")
	logTrace      = flag.String("log-trace", "", "Write per-frame telemetry to this file (\"-\" for stderr)")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// devFrameInterval is the frame rate of the synthetic sounder, close to the
// shield's own cadence at the default sample count.
const devFrameInterval = 100 * time.Millisecond

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*displayUnits) {
		log.Fatalf("Invalid units %q; must be one of: %s", *displayUnits, units.GetValidUnitsString())
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	diagW, closeDiag, err := openLogWriter(*logDiag)
	if err != nil {
		log.Fatalf("failed to open diag log: %v", err)
	}
	defer closeDiag()
	traceW, closeTrace, err := openLogWriter(*logTrace)
	if err != nil {
		log.Fatalf("failed to open trace log: %v", err)
	}
	defer closeTrace()
	pipeline.SetLogWriters(os.Stderr, diagW, traceW)
	l1frames.SetLogWriters(diagW, traceW)

	fixes, err := fixProvider(*staticFix)
	if err != nil {
		log.Fatalf("invalid -static-fix: %v", err)
	}

	source, err := openSource(sourceOptions{
		Disabled: *disableSerial,
		Dev:      *devMode,
		Replay:   *replayFile,
		Port:     *port,
	}, cfg)
	if err != nil {
		log.Fatalf("failed to open sounder input: %v", err)
	}
	defer source.Close()
	log.Printf("depth.report %s reading %s", version.Current(), source)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	hub := broadcast.NewHub()
	defer hub.Close()
	history := monitor.NewHistory(cfg.GetHistoryFrames())
	sinks := pipeline.MultiSink{hub, reg}

	var store *db.DB
	var persister *db.Persister
	if !*disableDB {
		store, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()

		persister = db.NewPersister(store,
			db.WithInterval(cfg.GetPersistInterval()),
			db.WithRequireFix(cfg.GetPersistRequireFix()),
		)
		persister.Start(ctx)
		defer persister.Close()
		sinks = append(sinks, persister)
	}

	var forwarder *network.RecordForwarder
	if *forwardAddr != "" {
		forwarder, err = network.NewRecordForwarder(*forwardAddr)
		if err != nil {
			log.Fatalf("failed to create forwarder: %v", err)
		}
		forwarder.Start(ctx)
		defer forwarder.Close()
		sinks = append(sinks, forwarder)
	}

	if *gpsPort != "" {
		tracker := gps.NewTracker(0, nil)
		nmea, err := gps.OpenNMEA(*gpsPort, *gpsBaud)
		if err != nil {
			log.Fatalf("failed to open gps: %v", err)
		}
		fixes = tracker

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer nmea.Close()
			if err := tracker.Run(ctx, nmea); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("gps routine stopped: %v", err)
			}
			log.Print("gps routine terminated")
		}()
	}

	pipeCfg := cfg.PipelineConfig(*channelName)
	opts := []pipeline.Option{
		pipeline.WithSink(sinks),
		pipeline.WithFrameObserver(history),
		pipeline.WithStatsObserver(reg),
	}
	if fixes != nil {
		opts = append(opts, pipeline.WithFixProvider(fixes))
	}
	channel, err := pipeline.NewChannel(pipeCfg, opts...)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	registerAdapterMetrics(reg, adapters{
		Hub:       hub,
		Serial:    source,
		Persister: persister,
		Forwarder: forwarder,
	})

	// run the monitor routine to feed serial chunks through the pipeline
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx, func(chunk []byte) { channel.Ingest(chunk) }); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Printf("monitor routine terminated: %s", channel.Stats().Stats)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		serverOpts := []api.Option{
			api.WithHub(hub),
			api.WithConfig(cfg),
			api.WithMetrics(reg.Handler()),
			api.WithUnits(*displayUnits),
			api.WithStatsSource("serial", func() any { return source.Stats() }),
		}
		if store != nil {
			serverOpts = append(serverOpts, api.WithStore(store))
		}
		if persister != nil {
			serverOpts = append(serverOpts, api.WithStatsSource("persister", func() any { return persister.Stats() }))
		}
		if forwarder != nil {
			serverOpts = append(serverOpts, api.WithStatsSource("forwarder", func() any { return forwarder.Stats() }))
		}
		mux := api.NewServer(channel, serverOpts...).ServeMux()

		source.AttachAdminRoutes(mux)
		capture.NewRecorder(source, *captureDir).AttachAdminRoutes(mux)
		monitor.New(history, pipeCfg).AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.SounderConfig, error) {
	if path == "" {
		return config.EmptySounderConfig(), nil
	}
	cfg, err := config.LoadSounderConfig(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded sounder config from %s", path)
	return cfg, nil
}

// openLogWriter opens an optional log destination. An empty path disables
// the stream.
func openLogWriter(path string) (io.Writer, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
