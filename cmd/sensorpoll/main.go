// sensorpoll queries a serial sensor once per cycle and reports every
// reading until SIGINT or SIGTERM. SIGUSR1 abandons the current read in
// blocking mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	serial "github.com/luhtfiimanal/go-sensor-termio"
	"github.com/luhtfiimanal/go-sensor-termio/cancel"
	"github.com/luhtfiimanal/go-sensor-termio/driver"
	"github.com/luhtfiimanal/go-sensor-termio/internal/config"
	"github.com/luhtfiimanal/go-sensor-termio/internal/live"
	"github.com/luhtfiimanal/go-sensor-termio/internal/report"
	"github.com/luhtfiimanal/go-sensor-termio/internal/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code.
func run(args []string, stderr io.Writer) int {
	cfg, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "sensorpoll: %v\n", err)
		return 1
	}

	log, err := report.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "sensorpoll: %v\n", err)
		return 1
	}
	if err := poll(cfg, log); err != nil {
		log.Error().Err(err).Msg("sensorpoll failed")
		return 1
	}
	return 0
}

// parseArgs loads the config file and applies explicitly set flags on top.
func parseArgs(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("sensorpoll", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: sensorpoll [flags] DEVICE-PATH")
		fs.PrintDefaults()
	}

	defaults := config.Default()
	configPath := fs.String("config", "", "TOML configuration file")
	mode := fs.String("mode", defaults.Mode, "read mode: nonblocking or blocking")
	storePath := fs.String("store", "", "SQLite file for the outcome history")
	listen := fs.String("listen", "", "HTTP address for /latest and /ws")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level")
	logFormat := fs.String("log-format", defaults.LogFormat, "log format: console or json")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return config.Config{}, fmt.Errorf("expected one device path, got %d arguments", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "store":
			cfg.StorePath = *storePath
		case "listen":
			cfg.Listen = *listen
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})
	if fs.NArg() == 1 {
		cfg.Device = fs.Arg(0)
	}
	if cfg.Device == "" {
		fs.Usage()
	}
	return cfg, cfg.Validate()
}

// poll owns every resource of one run. Sinks are opened before the device
// so that a sink failure never touches the serial line.
func poll(cfg config.Config, log zerolog.Logger) error {
	dcfg, err := cfg.DriverConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sinks := report.Fanout{report.NewLogReporter(log)}

	var st *store.Store
	if cfg.StorePath != "" {
		st, err = store.Open(ctx, cfg.StorePath, cfg.Device, dcfg.Mode, log)
		if err != nil {
			return err
		}
		defer st.Close()
		defer logCounts(ctx, st, log)
		sinks = append(sinks, st)
		log.Info().Str("path", cfg.StorePath).Stringer("run", st.RunID()).Msg("recording outcomes")
	}

	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Listen, err)
		}
		hub := live.NewHub(log)
		if st != nil {
			seedHub(ctx, hub, st, log)
		}
		sinks = append(sinks, hub)
		stopHTTP := serveHTTP(ln, hub, log)
		defer stopHTTP()
	}

	port, err := serial.Open(cfg.Device)
	if err != nil {
		return err
	}
	log.Info().Str("device", port.Path()).Int("baud", serial.BaudRate).Msg("serial line configured")

	flags := &cancel.Flags{}
	stopSignals := cancel.Notify(flags, port)
	defer stopSignals()

	d, err := driver.New(port, flags, dcfg,
		driver.WithLogger(log.With().Str("device", cfg.Device).Logger()),
		driver.WithReporter(sinks),
	)
	if err != nil {
		port.Close()
		return err
	}

	err = d.Run()
	stats := d.Stats()
	log.Info().
		Uint64("cycles", d.Cycles()).
		Uint64("readings", stats.Readings).
		Uint64("malformed", stats.Malformed).
		Uint64("timed_out", stats.TimedOut).
		Uint64("overflowed", stats.Overflowed).
		Uint64("restarts", stats.Restarts).
		Msg("polling stopped")
	return err
}

func serveHTTP(ln net.Listener, hub *live.Hub, log zerolog.Logger) (stop func()) {
	server := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", ln.Addr().String()).Msg("serving live feed")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	return func() {
		hub.Close()
		ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown")
		}
		wg.Wait()
	}
}

// seedHub serves the last stored reading until the first new one arrives.
func seedHub(ctx context.Context, hub *live.Hub, st *store.Store, log zerolog.Logger) {
	o, err := st.Latest(ctx)
	if errors.Is(err, store.ErrNoReading) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("could not load last reading")
		return
	}
	hub.Seed(o)
	log.Debug().Str("reading", o.Reading.String()).Msg("live feed seeded from history")
}

func logCounts(ctx context.Context, st *store.Store, log zerolog.Logger) {
	counts, err := st.Counts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not read outcome history")
		return
	}
	ev := log.Debug().Stringer("run", st.RunID())
	for kind, n := range counts {
		ev = ev.Int(kind, n)
	}
	ev.Msg("stored outcomes")
}
