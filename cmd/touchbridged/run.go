package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"touchbridge/internal/bridge"
	"touchbridge/internal/config"
	"touchbridge/internal/health"
	"touchbridge/internal/host"
	"touchbridge/internal/logging"
	"touchbridge/internal/metrics"
	"touchbridge/internal/pidfile"
	"touchbridge/internal/store"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		events      string
		follow      bool
		noPidfile   bool
		sessionBus  bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the passthrough engine",
		Long: `Run the engine against the replay host. Frames are read as JSON lines from
--events (or host.events in the config); "-" reads stdin. Applied regions are
written to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer loader.Close()

			if cmd.Flags().Changed("events") {
				cfg.Host.Events = events
			}
			if cmd.Flags().Changed("session-bus") {
				cfg.Host.SessionBus = sessionBus
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runDaemon(ctx, loader, cfg, runOptions{
				follow:      follow,
				pidfile:     !noPidfile,
				metricsAddr: metricsAddr,
				stdin:       cmd.InOrStdin(),
				stdout:      cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&events, "events", "", `replay source ("-" for stdin)`)
	cmd.Flags().BoolVar(&follow, "follow", false, "keep running after the replay source ends")
	cmd.Flags().BoolVar(&noPidfile, "no-pidfile", false, "skip the single-instance lock")
	cmd.Flags().BoolVar(&sessionBus, "session-bus", false, "watch the session bus for screen saver and screen reader changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve engine metrics on this address (e.g. 127.0.0.1:9464)")

	return cmd
}

type runOptions struct {
	follow      bool
	pidfile     bool
	metricsAddr string
	stdin       io.Reader
	stdout      io.Writer
	logWriter   io.Writer
	// registry receives engine metrics; a fresh one is created when nil.
	registry *metrics.Registry
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Output
	lc.FilePath = cfg.FilePath
	lc.MaxSizeMB = cfg.MaxSizeMB
	lc.MaxBackups = cfg.MaxBackups
	lc.MaxAgeDays = cfg.MaxAgeDays
	lc.Writer = w
	return logging.New(lc)
}

func runDaemon(ctx context.Context, loader *config.Loader, cfg *config.Config, opts runOptions) error {
	logger, err := newLogger(cfg.Logging, opts.logWriter)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if opts.pidfile {
		pid, err := pidfile.Acquire(config.PIDFile())
		if err != nil {
			return err
		}
		defer pid.Release()
	}

	checker := health.NewChecker()

	var recorder bridge.Recorder
	if cfg.Journal.Enabled {
		journal, err := store.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		if cfg.Journal.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Journal.RetentionDays)
			if n, err := journal.Prune(cutoff); err != nil {
				logger.Warn("journal prune failed", "error", err)
			} else if n > 0 {
				logger.Info("journal pruned", "transitions", n)
			}
		}
		recorder = journal
		checker.Register("journal", false, health.PingCheck(journal.Ping))
	}

	manifest, err := host.LoadManifest(cfg.Host.MetadataManifest)
	if err != nil {
		return err
	}
	replay := host.NewReplay(cfg.Host.ScreenWidth, cfg.Host.ScreenHeight, logger.Component("replay"))
	sink := host.NewWriterSink(opts.stdout, cfg.Host.PassthroughSupported)

	prefs := config.NewStore(cfg.Preferences)
	prefs.Bind(loader)
	startBridge := cfg.Clone().Bridge
	loader.OnChange(func(c *config.Config) {
		if !reflect.DeepEqual(c.Bridge, startBridge) {
			logger.Warn("bridge settings changed on disk; restart to apply them")
		}
	})
	if _, err := os.Stat(loader.Path()); err == nil {
		if err := loader.Watch(); err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		}
	}

	registry := opts.registry
	if registry == nil {
		registry = metrics.NewRegistry("touchbridge")
	}

	engine, err := bridge.New(cfg.EngineConfig(), bridge.Deps{
		Preferences: prefs,
		Surfaces:    replay,
		Sink:        sink,
		Metadata:    manifest,
		Actuator:    host.NewLogActuator(logger.Component("haptics")),
		Recorder:    recorder,
		Observer:    metrics.NewBridgeMetrics(registry),
		Logger:      logger.Component("bridge"),
	})
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	checker.Register("engine", true, engineCheck(engine))
	checker.SetReady(true)
	defer func() {
		engine.Stop()
		st := engine.State()
		logger.Info("shutdown", "session", st.SessionID, "passes", st.Passes, "frames", replay.Frames())
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-loader.Errors():
				logger.Warn("config reload rejected", "error", err)
			}
		}
	})

	if cfg.Host.SessionBus {
		watcher, err := host.NewBusWatcher(logger.Component("bus"))
		if err != nil {
			logger.Warn("session bus unavailable", "error", err)
		} else {
			defer watcher.Close()
			g.Go(func() error {
				err := watcher.Run(gctx, engine.HandleEvent)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	if opts.metricsAddr != "" {
		ln, err := net.Listen("tcp", opts.metricsAddr)
		if err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("metrics listener: %w", err)
		}
		logger.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error { return serveMetrics(gctx, ln, registry, checker) })
	}

	src, closeSrc, err := openEvents(cfg.Host.Events, opts.stdin)
	if err != nil {
		return err
	}
	defer closeSrc()

	// A blocked read on stdin cannot be interrupted, so the replay runs
	// outside the group and is abandoned on shutdown.
	replayDone := make(chan error, 1)
	go func() {
		replayDone <- replay.Run(gctx, src, engine.HandleEvent)
	}()

	select {
	case <-gctx.Done():
	case err := <-replayDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			cancel()
			g.Wait()
			return err
		}
		if opts.follow {
			<-gctx.Done()
			break
		}
		// Let the last debounced pass land before shutting down.
		select {
		case <-gctx.Done():
		case <-time.After(2*engine.Config().DebounceDuration + 100*time.Millisecond):
		}
	}

	cancel()
	return g.Wait()
}

func engineCheck(engine *bridge.Engine) health.Check {
	return func(context.Context) health.CheckResult {
		st := engine.State()
		switch {
		case !st.Running:
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "engine stopped"}
		case st.RegionUnsupported:
			return health.CheckResult{Status: health.StatusDegraded, Message: "host cannot apply passthrough regions"}
		}
		return health.CheckResult{Status: health.StatusHealthy, Message: st.Phase.String()}
	}
}

func serveMetrics(ctx context.Context, ln net.Listener, registry *metrics.Registry, checker *health.Checker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.HTTPHandler())
	mux.Handle("/healthz", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openEvents(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open events: %w", err)
	}
	return f, func() { f.Close() }, nil
}
