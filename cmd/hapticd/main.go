package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dgnsrekt/haptic_agent/internal/api"
	"github.com/dgnsrekt/haptic_agent/internal/cdp"
	"github.com/dgnsrekt/haptic_agent/internal/clock"
	"github.com/dgnsrekt/haptic_agent/internal/config"
	"github.com/dgnsrekt/haptic_agent/internal/haptic"
	"github.com/dgnsrekt/haptic_agent/internal/haptic/hubsdk"
	"github.com/dgnsrekt/haptic_agent/internal/haptic/strokersdk"
	"github.com/dgnsrekt/haptic_agent/internal/haptic/vendor2sdk"
	"github.com/dgnsrekt/haptic_agent/internal/hub"
	"github.com/dgnsrekt/haptic_agent/internal/netutil"
	"github.com/dgnsrekt/haptic_agent/internal/protocol"
	"github.com/dgnsrekt/haptic_agent/internal/script"
	"github.com/dgnsrekt/haptic_agent/internal/storage"
	"github.com/dgnsrekt/haptic_agent/internal/tabs"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("agent config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"watch_tabs", cfg.WatchTabs,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, nil, false)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	settings := storage.NewStore(cfg.DataDir)
	if err := settings.Load(); err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	scripts, err := script.NewStore(filepath.Join(cfg.DataDir, "scripts"), cfg.MaxScriptBytes)
	if err != nil {
		slog.Error("failed to open script store", "error", err)
		os.Exit(1)
	}

	synchronizer := clock.NewSynchronizer(nil, cfg.SyncProbeCount, cfg.SyncTrimRatio)
	scheduler := clock.NewScheduler(synchronizer, clock.ScheduleConfig{
		FirstDelay:  time.Duration(cfg.FirstResyncDelayMS) * time.Millisecond,
		SecondDelay: time.Duration(cfg.SecondResyncDelayMS) * time.Millisecond,
		Interval:    time.Duration(cfg.ResyncIntervalMS) * time.Millisecond,
		LooseFilter: cfg.LooseSyncFilter,
		TightFilter: cfg.TightSyncFilter,
	})

	// The hub is wired after the adapters, and SDK events can fire from
	// their own goroutines during that window, so callbacks resolve the
	// hub through an atomic pointer published once wiring completes.
	var agentRef atomic.Pointer[hub.Hub]
	notify := func(c haptic.Change) {
		if h := agentRef.Load(); h != nil {
			h.OnDeviceChange(c)
		}
	}
	persist := func(kind protocol.DeviceKind, s protocol.DeviceSettings) {
		settings.UpdateDevice(kind, func(dc *storage.DeviceConfig) { dc.Settings = s })
	}

	stroker := strokersdk.New(cfg.StrokerAPIURL, synchronizer, nil)
	synchronizer.SetProbe(stroker)

	adapters := map[protocol.DeviceKind]*haptic.Adapter{
		protocol.DeviceStroker: haptic.NewAdapter(protocol.DeviceStroker,
			func() haptic.SDK { return stroker }, persist, notify),
		protocol.DeviceHub: haptic.NewAdapter(protocol.DeviceHub,
			func() haptic.SDK { return hubsdk.New(cfg.HubWSURL) }, persist, notify),
		protocol.DeviceVendor2: haptic.NewAdapter(protocol.DeviceVendor2,
			func() haptic.SDK { return vendor2sdk.New(cfg.Vendor2APIURL, nil) }, persist, notify),
	}
	for kind, a := range adapters {
		a.SetSettings(settings.Device(kind).Settings)
	}
	defer func() {
		for _, a := range adapters {
			a.Close()
		}
	}()

	broker := hub.NewBroker()
	agent := hub.New(hub.Deps{
		Adapters:  adapters,
		Resolver:  script.NewResolver(scripts, nil, cfg.CatalogTokenURL),
		Settings:  settings,
		Clock:     synchronizer,
		Scheduler: scheduler,
		Broker:    broker,
	})
	agentRef.Store(agent)
	defer scheduler.Stop()

	// Restore device connections from persisted credentials so a daemon
	// restart does not strand previously paired devices.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		resp := agent.Dispatch(ctx, protocol.Request{Type: protocol.ReqAutoConnect})
		if resp.Error != "" {
			slog.Warn("startup auto-connect failed", "error", resp.Error)
		}
	}()

	registry := tabs.NewRegistry()
	if cfg.WatchTabs {
		watcher := cdp.NewWatcher(cfg, registry, agent)
		if err := watcher.Start(context.Background()); err != nil {
			slog.Warn("tab watcher unavailable, relying on session events", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(agent, scripts, registry, broker)}

	go func() {
		slog.Info("agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("agent shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
