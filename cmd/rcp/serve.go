package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robot-control/rcp/internal/api"
	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/auth"
	"github.com/robot-control/rcp/internal/channel"
	"github.com/robot-control/rcp/internal/channel/fake"
	"github.com/robot-control/rcp/internal/channel/rosbridge"
	"github.com/robot-control/rcp/internal/command"
	"github.com/robot-control/rcp/internal/config"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/session"
	"github.com/robot-control/rcp/internal/storage/memory"
	"github.com/robot-control/rcp/internal/storage/sqlite"
	"github.com/robot-control/rcp/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, telemetry poller and lease reaper",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", cfg.Server.Addr)
		if err != nil {
			_ = a.close()
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
		}
		log.Printf("Robot control panel %s listening on %s", Version, ln.Addr())
		log.Printf("Health endpoint: http://%s/api/v1/health", ln.Addr())

		return a.run(ctx, ln)
	},
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// backend is what a storage driver must provide.
type backend interface {
	robot.Store
	arbiter.StateStore
	telemetry.JointReader
	Close() error
}

type app struct {
	cfg       *config.Config
	store     backend
	registry  *robot.Registry
	hub       *telemetry.Hub
	arbiter   *arbiter.Arbiter
	poller    *telemetry.Poller
	publisher channel.Publisher
	auditLog  *audit.Logger
	server    *api.Server
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	log.Printf("Storage %s ready", cfg.Storage.Driver)

	limits := robot.NewLimitTable(cfg.Catalog)
	registry := robot.NewRegistry(store, limits)
	if err := registry.Load(ctx, cfg.Catalog); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load robots: %w", err)
	}
	log.Printf("Robot registry loaded: %d robot(s), active %q", len(registry.IDs()), registry.GetActive())

	auditLog, err := audit.NewLogger(cfg.Audit.Dir, audit.Options{
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	log.Printf("Audit log at %s", auditLog.GetFilePath())

	hub := telemetry.NewHub(&cfg.Timing)
	arb := arbiter.New(store, registry, arbiter.Options{
		Auditor:      auditLog,
		Events:       hub,
		StoreTimeout: cfg.Timing.CommandTimeoutStore,
	})

	var publisher channel.Publisher
	switch cfg.Channel.Driver {
	case "fake":
		publisher = fake.New()
	default:
		publisher = rosbridge.New(cfg.Channel.URL, cfg.Channel.DialTimeout)
	}
	log.Printf("Control channel %s ready", cfg.Channel.Driver)

	validator := command.NewValidator(limits, cfg.Catalog.Scripts)
	dispatcher := command.NewDispatcher(registry, arb, validator, auditLog, publisher, hub, &cfg.Timing)
	poller := telemetry.NewPoller(store, registry.GetActive, hub, cfg.Timing.TelemetryPollInterval)

	bus := session.NewBus()
	bus.Subscribe(session.ReleaseOnEnd(arb))

	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		_ = auditLog.Close()
		_ = store.Close()
		return nil, err
	}

	hub.SetSnapshot(controlSnapshot(registry, arb))

	server := api.NewServer(api.Deps{
		Robots:     registry,
		Arbiter:    arb,
		Dispatcher: dispatcher,
		Telemetry:  hub,
		Joints:     poller,
		Sessions:   bus,
		Scripts:    validator,
		Auth:       auth.NewMiddleware(verifier, cfg.Auth.MinimumOperatorLevel),
		Version:    Version,
	}, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)

	return &app{
		cfg:       cfg,
		store:     store,
		registry:  registry,
		hub:       hub,
		arbiter:   arb,
		poller:    poller,
		publisher: publisher,
		auditLog:  auditLog,
		server:    server,
	}, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	default:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create storage directory: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	}
}

// newVerifier returns a nil interface for HS256 without a secret; every token is
// then rejected.
func newVerifier(cfg config.AuthConfig) (auth.TokenVerifier, error) {
	if cfg.Algorithm == "HS256" && cfg.SecretKey == "" {
		log.Printf("WARNING: no auth secret configured, all authenticated routes will return 401")
		return nil, nil
	}
	verifier, err := auth.NewVerifier(auth.VerifierConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}
	return verifier, nil
}

// controlSnapshot builds the payload of the SSE ready event.
func controlSnapshot(registry *robot.Registry, arb *arbiter.Arbiter) telemetry.SnapshotFunc {
	return func() map[string]interface{} {
		list := registry.List()
		robots := make([]map[string]interface{}, 0, len(list.Items))
		for _, r := range list.Items {
			view := map[string]interface{}{
				"id":         r.ID,
				"model":      r.Model,
				"jointCount": r.JointCount,
			}
			if state, err := arb.State(context.Background(), r.ID); err == nil {
				view["connected"] = state.Connected
				view["mode"] = state.Mode()
				if state.Connected {
					view["ownerUserId"] = state.OwnerUserID
				}
			}
			robots = append(robots, view)
		}
		return map[string]interface{}{
			"activeRobotId": list.ActiveRobotID,
			"robots":        robots,
		}
	}
}

// run serves on ln until ctx is done, then shuts everything down.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Serve(ln)
	})
	g.Go(func() error {
		return a.poller.Run(gctx)
	})
	g.Go(func() error {
		return a.arbiter.RunReaper(gctx, a.cfg.Timing.LeaseIdleTimeout, a.cfg.Timing.LeaseReapInterval)
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		a.rotateOnHangup(gctx, hup)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down...")
		a.hub.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := a.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	log.Printf("Shutdown complete")
	return err
}

// rotateOnHangup starts a new audit file each time hup fires.
func (a *app) rotateOnHangup(ctx context.Context, hup <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.auditLog.Rotate(); err != nil {
				log.Printf("audit: rotate failed: %v", err)
				continue
			}
			log.Printf("audit: rotated %s", a.auditLog.GetFilePath())
		}
	}
}

func (a *app) close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{a.publisher, a.auditLog, a.store} {
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
