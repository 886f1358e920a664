// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/devkitserver/devkitserver/internal/access"
	"github.com/devkitserver/devkitserver/internal/access/audit"
	"github.com/devkitserver/devkitserver/internal/command"
	"github.com/devkitserver/devkitserver/internal/command/builtin"
	"github.com/devkitserver/devkitserver/internal/config"
	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/logging"
	"github.com/devkitserver/devkitserver/internal/observability"
	"github.com/devkitserver/devkitserver/internal/replication"
	"github.com/devkitserver/devkitserver/pkg/errutil"
)

const (
	serviceName     = "devkitserver"
	loopBuffer      = 256
	shutdownTimeout = 5 * time.Second
)

// AuditPool is the part of a pgx pool the serve command needs.
type AuditPool interface {
	audit.DB
	Close()
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// Stdin is read line by line for console commands.
	// Default: os.Stdin
	Stdin io.Reader

	// Console receives console replies.
	// Default: os.Stdout
	Console io.Writer

	// LogOutput receives log records.
	// Default: os.Stderr
	LogOutput io.Writer

	// ListenerFactory creates the replication listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// AuditPoolFactory connects to the audit database.
	// Default: pgxpool.New
	AuditPoolFactory func(ctx context.Context, url string) (AuditPool, error)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.Stdin == nil {
		out.Stdin = os.Stdin
	}
	if out.Console == nil {
		out.Console = os.Stdout
	}
	if out.LogOutput == nil {
		out.LogOutput = os.Stderr
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.AuditPoolFactory == nil {
		out.AuditPoolFactory = func(ctx context.Context, url string) (AuditPool, error) {
			return pgxpool.New(ctx, url)
		}
	}
	return &out
}

// NewServeCmd creates the serve subcommand. deps may be nil.
func NewServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the permission server",
		Long: `Run the authoritative permission engine and command dispatcher.
Terminal lines on stdin are dispatched as console commands. Clients
connect over the replication websocket when replication_addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, deps)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(cfg.LoggingOptions(serviceName, version), deps.LogOutput)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	groups, err := loadGroups(&cfg)
	if err != nil {
		return err
	}
	st, err := openStore(&cfg, groups)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			errutil.LogWarn(slog.Default(), "error closing permission store", closeErr)
		}
	}()

	users := core.NewUsers()
	server := access.NewServer(groups, st, users, access.WithGroupDefinitionsFile(cfg.Permissions.GroupsFile))

	loop := core.NewLoop(loopBuffer)
	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if runErr := loop.Run(loopCtx); runErr != nil {
			errutil.LogError(slog.Default(), "main loop failed", runErr)
		}
	}()
	defer func() {
		cancelLoop()
		<-loopDone
	}()

	var ready atomic.Bool
	var obs *observability.Server
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr,
			observability.WithVersion(version),
			observability.WithReadiness(ready.Load),
			observability.WithCollectors(
				command.RegisterMetrics,
				access.RegisterMetrics,
				audit.RegisterMetrics,
				replication.RegisterMetrics,
			))
	}

	registry := command.NewRegistry(command.WithTranslationsDir(cfg.TranslationsDir))
	if err := builtin.Register(registry, server); err != nil {
		return err
	}
	plugins := newPluginManager(&cfg)
	if err := plugins.LoadAll(ctx, registry); err != nil {
		return err
	}
	defer plugins.Close(registry)

	hub := replication.NewHub(server, users, loop)
	server.SetReplicator(hub)
	defer hub.Close()

	handlerOpts := []command.HandlerOption{
		command.WithOutput(&command.Router{Console: deps.Console, Players: hub}),
		command.WithUsers(users),
		command.WithGameState(core.NewGameState(cfg.GameState())),
		command.WithPluginTranslations(plugins.Translations),
	}
	if cfg.RateLimit.Burst > 0 {
		var reg prometheus.Registerer
		if obs != nil {
			reg = obs.Registry()
		}
		limiter := command.NewRateLimiter(command.RateLimiterConfig{
			BurstCapacity: cfg.RateLimit.Burst,
			SustainedRate: cfg.RateLimit.Rate,
		}, reg)
		defer limiter.Close()
		handlerOpts = append(handlerOpts, command.WithRateLimiter(limiter))
	}
	handler, err := command.NewHandler(registry, server, handlerOpts...)
	if err != nil {
		return oops.In("serve").Wrap(err)
	}
	defer handler.Close()
	hub.SetChatHandler(handler)
	slog.SetDefault(slog.New(handler.HostLogHandler(logger.Handler())))

	if cfg.Audit.DatabaseURL != "" {
		closeAudit, err := startAudit(ctx, &cfg, server, deps)
		if err != nil {
			return err
		}
		defer closeAudit()
	}

	errChan := make(chan error, 2)

	if obs != nil {
		obsErrChan, err := obs.Start()
		if err != nil {
			return err
		}
		go func() {
			if obsErr, ok := <-obsErrChan; ok && obsErr != nil {
				errChan <- obsErr
			}
		}()
		slog.Info("observability server started", "addr", obs.Addr())
	}

	var replicationServer *http.Server
	if cfg.ReplicationAddr != "" {
		ln, err := deps.ListenerFactory("tcp", cfg.ReplicationAddr)
		if err != nil {
			return oops.In("serve").Code("LISTEN_FAILED").With("addr", cfg.ReplicationAddr).Wrap(err)
		}
		replicationServer = &http.Server{Handler: hub, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if serveErr := replicationServer.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errChan <- serveErr
			}
		}()
		slog.Info("replication listening", "addr", ln.Addr().String())
	}

	go readConsole(ctx, deps.Stdin, loop, handler)

	ready.Store(true)
	slog.Info("devkitserver ready",
		"data_dir", cfg.DataDir,
		"storage", cfg.Storage.Backend,
		"groups", groups.Len(),
		"commands", registry.Len(),
		"plugins", len(plugins.Plugins()))

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case runErr = <-errChan:
		errutil.LogError(slog.Default(), "server error, shutting down", runErr)
	}
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if replicationServer != nil {
		// Upgraded connections are not tracked by the http server.
		hub.Close()
		if err := replicationServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("error stopping replication server", "error", err)
		}
	}
	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	return runErr
}

// startAudit connects the audit sink and subscribes it to permission and
// command events. The returned function flushes and disconnects.
func startAudit(ctx context.Context, cfg *config.Config, server *access.Server, deps *ServeDeps) (func(), error) {
	pool, err := deps.AuditPoolFactory(ctx, cfg.Audit.DatabaseURL)
	if err != nil {
		return nil, oops.In("serve").Code("AUDIT_CONNECT_FAILED").Wrap(err)
	}
	sink := audit.NewSink(pool,
		audit.WithBatchSize(cfg.Audit.BatchSize),
		audit.WithFlushPeriod(cfg.Audit.FlushPeriod))
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = sink.Close()
		pool.Close()
		return nil, err
	}
	sink.Subscribe(&server.Events)
	remove := sink.SubscribeCommands()
	slog.Info("audit log enabled")

	return func() {
		remove()
		if err := sink.Close(); err != nil {
			errutil.LogWarn(slog.Default(), "error closing audit sink", err)
		}
		pool.Close()
	}, nil
}

// readConsole posts every non-empty line of r to the main loop as a console
// command. It returns at EOF or once the loop stops.
func readConsole(ctx context.Context, r io.Reader, loop *core.Loop, handler *command.Handler) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), command.ChatPrefix)
		if line == "" {
			continue
		}
		if !loop.Post(ctx, func(mainCtx context.Context) { handler.OnCommandInput(mainCtx, line) }) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("console input closed", "error", err)
	}
}
