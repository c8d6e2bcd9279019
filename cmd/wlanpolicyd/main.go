// wlanpolicyd is the Wi-Fi client connection manager daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/openwlan/wlanpolicyd/internal/config"
	"github.com/openwlan/wlanpolicyd/internal/dbusiface"
	metrics "github.com/openwlan/wlanpolicyd/internal/metrics"
	"github.com/openwlan/wlanpolicyd/internal/netmon"
	"github.com/openwlan/wlanpolicyd/internal/server"
	appversion "github.com/openwlan/wlanpolicyd/internal/version"
	"github.com/openwlan/wlanpolicyd/internal/wlan"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging connection
// failures.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("wlanpolicyd starting",
		slog.String("version", appversion.Version),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	conn, err := dbusiface.Dial(dbusiface.Config{
		System:     cfg.DBus.System,
		SMEBusName: cfg.DBus.SMEBusName,
		PhyBusName: cfg.DBus.PhyBusName,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to D-Bus", slog.String("error", err.Error()))
		return 1
	}
	defer conn.Close()

	phy := dbusiface.NewPhyManager(conn, logger)
	defer phy.Close()

	netMon, err := netmon.NewLinuxMonitor(logger)
	if err != nil {
		logger.Warn("falling back to stub interface monitor", slog.String("error", err.Error()))
	}
	var mon netmon.Monitor = netMon
	if netMon == nil {
		mon = netmon.NewStubMonitor(logger)
	}

	store := wlan.NewInMemorySavedNetworkStore()
	resultCache := server.NewResultCache()
	telemetry := metrics.NewSink(collector)

	mgr := wlan.NewManager(phy, store, telemetry, logger, wlan.WithScanConsumers(resultCache))
	defer mgr.Close()

	if err := runServers(cfg, mgr, phy, mon, reg, logger, *configPath, logLevel, fr, resultCache); err != nil {
		logger.Error("wlanpolicyd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("wlanpolicyd stopped")
	return 0
}

// runServers brings up the initial client interfaces, starts the HTTP
// servers and background goroutines using an errgroup with signal-aware
// context, and blocks until shutdown completes.
func runServers(
	cfg *config.Config,
	mgr *wlan.Manager,
	phy *dbusiface.PhyManager,
	mon netmon.Monitor,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
	resultCache *server.ResultCache,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	statusSrv := newStatusServer(cfg.GRPC, mgr, resultCache, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if err := bootstrapInterfaces(gCtx, mgr, phy, logger); err != nil {
		return fmt.Errorf("bootstrap client interfaces: %w", err)
	}

	g.Go(func() error {
		return mgr.RunDispatch(gCtx)
	})

	g.Go(func() error {
		return mgr.RunConnectivityMonitor(gCtx)
	})

	g.Go(func() error {
		return mon.Run(gCtx)
	})

	g.Go(func() error {
		watchHotplug(gCtx, mgr, phy, mon, logger)
		return nil
	})

	startHTTPServers(gCtx, g, cfg, statusSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, statusSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// bootstrapInterfaces asks the PHY manager for every client interface it
// can bring up and registers each one with the interface manager.
func bootstrapInterfaces(ctx context.Context, mgr *wlan.Manager, phy *dbusiface.PhyManager, logger *slog.Logger) error {
	slots, err := phy.CreateAllClientInterfaces(ctx)
	if err != nil {
		return fmt.Errorf("create client interfaces: %w", err)
	}

	for _, slot := range slots {
		sme, err := phy.SMEFor(slot.IfaceID)
		if err != nil {
			logger.Warn("no SME transport for interface, skipping",
				slog.Uint64("iface_id", uint64(slot.IfaceID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := mgr.AddIface(ctx, slot.IfaceID, slot.IfName, sme); err != nil {
			logger.Warn("failed to register client interface",
				slog.Uint64("iface_id", uint64(slot.IfaceID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("client interface registered",
			slog.Uint64("iface_id", uint64(slot.IfaceID)),
			slog.String("if_name", slot.IfName),
		)
	}
	return nil
}

// watchHotplug fans PhyManager and netmon events into Manager.AddIface /
// Manager.RemoveIface calls until ctx is cancelled. PhyManager owns
// positive identification of new interfaces (it alone can mint an SME
// transport); netmon's netlink feed is only used to notice a link
// disappearing out from under the D-Bus layer.
func watchHotplug(ctx context.Context, mgr *wlan.Manager, phy *dbusiface.PhyManager, mon netmon.Monitor, logger *slog.Logger) {
	phyEvents := phy.Events()
	netEvents := mon.Events()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-phyEvents:
			if !ok {
				phyEvents = nil
				continue
			}
			handlePhyEvent(ctx, mgr, phy, ev, logger)

		case ev, ok := <-netEvents:
			if !ok {
				netEvents = nil
				continue
			}
			if ev.Removed {
				if err := mgr.RemoveIface(findIfaceID(mgr, ev.IfName)); err != nil {
					logger.Warn("failed to remove interface after netlink delete",
						slog.String("if_name", ev.IfName),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

func handlePhyEvent(ctx context.Context, mgr *wlan.Manager, phy *dbusiface.PhyManager, ev wlan.InterfaceEvent, logger *slog.Logger) {
	if !ev.Added {
		if err := mgr.RemoveIface(ev.IfaceID); err != nil {
			logger.Warn("failed to remove interface",
				slog.Uint64("iface_id", uint64(ev.IfaceID)),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	sme, err := phy.SMEFor(ev.IfaceID)
	if err != nil {
		logger.Warn("no SME transport for newly added interface",
			slog.Uint64("iface_id", uint64(ev.IfaceID)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := mgr.AddIface(ctx, ev.IfaceID, ev.IfName, sme); err != nil {
		logger.Warn("failed to register hotplugged interface",
			slog.Uint64("iface_id", uint64(ev.IfaceID)),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("client interface hotplugged",
		slog.Uint64("iface_id", uint64(ev.IfaceID)),
		slog.String("if_name", ev.IfName),
	)
}

// findIfaceID resolves a netlink interface name back to the small integer
// ID the manager uses, by scanning its current slots. Returns 0 (never a
// valid assigned ID in practice, but harmless) if no match is found, since
// RemoveIface on an unknown ID is a no-op error the caller already logs.
func findIfaceID(mgr *wlan.Manager, ifName string) uint16 {
	for _, slot := range mgr.Slots() {
		if slot.IfName == ifName {
			return slot.IfaceID
		}
	}
	return 0
}

// startHTTPServers registers the status and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	statusSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("status server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, statusSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The interval
// is WatchdogSec/2 as recommended by the systemd documentation.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — dynamic log level only; interface state is hotplug-driven
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newStatusServer creates an HTTP server for the grpchealth + JSON status
// surface. The handler is wrapped with h2c so grpchealth's Connect-protocol
// clients can use HTTP/2 without TLS.
func newStatusServer(cfg config.GRPCConfig, mgr *wlan.Manager, cache *server.ResultCache, logger *slog.Logger) *http.Server {
	handler := server.New(mgr, cache, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
