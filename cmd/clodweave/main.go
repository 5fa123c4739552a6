package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rdeforest/ClodWeave/internal/builtin"
	"github.com/rdeforest/ClodWeave/internal/config"
	"github.com/rdeforest/ClodWeave/internal/connection"
	"github.com/rdeforest/ClodWeave/internal/coordinator"
	"github.com/rdeforest/ClodWeave/internal/host"
	"github.com/rdeforest/ClodWeave/internal/natsbus"
	"github.com/rdeforest/ClodWeave/internal/registry"
	"github.com/rdeforest/ClodWeave/internal/scheduler"
	"github.com/rdeforest/ClodWeave/internal/store"
	"github.com/rdeforest/ClodWeave/internal/vault"
	"github.com/rdeforest/ClodWeave/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("clodweave %s\n", version)
		return
	case "serve":
		err = runServe()
	case "secret":
		err = runSecret(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: clodweave <command>

Commands:
  serve      Start the component host
  secret     Manage sealed secrets
  backup     Write a compressed snapshot of the store
  restore    Restore the store from a snapshot
  version    Print version
`)
}

// logLevel is shared by the default handler so a reload can change it.
var logLevel = new(slog.LevelVar)

func setLogLevel(name string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, using info", "level", name)
		level = slog.LevelInfo
	}
	logLevel.Set(level)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	setLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Log))

	slog.Info("starting clodweave", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	transport, err := natsbus.NewTransport(client, cfg.NATS.CompressThreshold)
	if err != nil {
		return fmt.Errorf("nats transport: %w", err)
	}
	defer transport.Close()

	events := natsbus.NewEvents(client)

	var secrets *vault.Secrets
	if cfg.Vault.Passphrase != "" {
		v, err := vault.New(cfg.Vault.Passphrase)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		secrets = vault.NewSecrets(v, db)
	} else {
		slog.Warn("vault passphrase not set, secret references disabled")
	}

	types := registry.New()
	defaults := coordinator.Defaults{
		Timeout:      cfg.Coordinator.Timeout,
		DebateRounds: cfg.Coordinator.DebateRounds,
		HandoffHops:  cfg.Coordinator.HandoffHops,
	}
	if err := builtin.Register(types, defaults, db, events); err != nil {
		return fmt.Errorf("register builtin types: %w", err)
	}

	h, err := host.New(host.Options{
		Types:          types,
		Transport:      transport,
		Secrets:        secrets,
		Events:         events,
		Recorder:       db,
		RequestTimeout: cfg.Runtime.RequestTimeout,
		MailboxSize:    cfg.Runtime.MailboxSize,
	})
	if err != nil {
		return fmt.Errorf("init host: %w", err)
	}
	defer h.Close()

	if failed := loadTopology(ctx, h, cfg); failed > 0 {
		slog.Warn("topology partially loaded", "failed", failed)
	}
	if err := h.StartAll(ctx); err != nil {
		// Components that did start keep running; failures are in health.
		slog.Error("some components failed to start", "error", err)
	}
	slog.Info("components started", "count", len(h.IDs()), "connections", h.Connections().Len())

	sched := scheduler.New(db, h, events, cfg.Scheduler.PollInterval)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	if cfg.Web.Enabled {
		srv := web.NewServer(db, h, client, secrets, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			cfg = reload(cfg, sched)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()

	if err := h.StopAll(context.Background()); err != nil {
		slog.Warn("stop components", "error", err)
	}
	return nil
}

// reload re-reads the config file and applies what can change at runtime.
// It returns the config now in effect.
func reload(cur *config.Config, sched *scheduler.Scheduler) *config.Config {
	next, err := config.Load()
	if err != nil {
		slog.Error("reload config", "error", err)
		return cur
	}

	d := config.Diff(cur, next)
	if d.LogChanged {
		setLogLevel(d.NewLog.Level)
		if d.NewLog.Format != cur.Log.Format {
			slog.Warn("log format change requires restart")
		}
	}
	if d.SchedulerChanged {
		sched.UpdateConfig(d.NewPollInterval.PollInterval)
	}
	if d.RuntimeChanged || d.CoordinatorChanged {
		slog.Warn("runtime and coordinator defaults apply after restart")
	}
	for _, field := range d.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	slog.Info("config reloaded", "changed", d.HasChanges())
	return next
}

// loadTopology adds the configured components and connections to h. A
// component that fails to build or initialize is logged and skipped, along
// with every connection that touches it. It returns the number of
// components and connections that could not be loaded.
func loadTopology(ctx context.Context, h *host.Host, cfg *config.Config) int {
	failed := 0
	for _, c := range cfg.Components {
		if _, err := h.Add(ctx, c.ID, c.Type, c.Config); err != nil {
			slog.Error("component not loaded", "id", c.ID, "type", c.Type, "error", err)
			failed++
		}
	}
	for _, c := range cfg.Connections {
		if err := h.Connect(c.Source, c.Target, c.Protocol, connection.Pattern(c.Pattern)); err != nil {
			slog.Error("connection not loaded", "source", c.Source, "target", c.Target, "error", err)
			failed++
		}
	}
	return failed
}
