// Command runnerd is the poller daemon: it runs a Poller against a
// configured queue.Store backend, exposes the admin HTTP surface, and
// recovers stale tasks at startup before polling begins.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"runloop/internal/adminserver"
	"runloop/internal/cliexecutor"
	"runloop/internal/obslog"
	"runloop/internal/poller"
	"runloop/internal/queue"
	"runloop/internal/restarthandler"
	"runloop/internal/taskrunner"
	"runloop/internal/tasksupervisor"
	"runloop/internal/tracing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("runnerd")
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "runnerd",
		Short: "Persistent task-queue poller daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("namespace", "default", "Queue namespace this runner serves")
	flags.String("project-root", ".", "Project root (config, build metadata, state)")
	flags.String("store", "memory", "Queue store backend: memory|file|postgres")
	flags.String("state-dir", ".claude/state", "State directory for the file store")
	flags.String("db-dsn", "", "Postgres DSN, required when --store=postgres")
	flags.String("admin-addr", ":8090", "Admin HTTP surface bind address")
	flags.Duration("poll-interval", time.Second, "Poll loop interval")
	flags.Bool("recover-on-startup", true, "Run recover_stale_tasks before polling begins")
	flags.String("executor-command", "", "Executor binary invoked per task (required)")
	flags.StringSlice("executor-args", nil, "Extra args passed to the executor binary")
	flags.String("otlp-endpoint", "", "OTLP-HTTP trace collector endpoint (disabled when empty)")
	flags.String("log-format", "text", "Log format: text|json")
	flags.String("log-level", "info", "Log level: debug|info|warn|error")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func runDaemon(ctx context.Context, v *viper.Viper) error {
	obslog.Init(os.Stderr, v.GetString("log-format"), v.GetString("log-level"))
	log := obslog.NewComponentLogger("runnerd")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, v.GetString("otlp-endpoint"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	namespace := v.GetString("namespace")
	projectRoot := v.GetString("project-root")

	store, err := buildStore(ctx, v, namespace)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	if err := store.EnsureTable(ctx); err != nil {
		return fmt.Errorf("ensure table: %w", err)
	}

	executorCommand := v.GetString("executor-command")
	if executorCommand == "" {
		return fmt.Errorf("--executor-command is required")
	}
	executor := cliexecutor.New(executorCommand, v.GetStringSlice("executor-args"), obslog.NewComponentLogger("cliexecutor"))
	if err := executor.Preflight(); err != nil {
		return fmt.Errorf("executor preflight: %w", err)
	}

	supervisor := tasksupervisor.New(executor, obslog.NewComponentLogger("tasksupervisor"))
	runner := taskrunner.New(supervisor, projectRoot, obslog.NewComponentLogger("taskrunner"))

	p := poller.New(store, runner, poller.Config{
		PollInterval:     v.GetDuration("poll-interval"),
		RecoverOnStartup: v.GetBool("recover-on-startup"),
		ProjectRoot:      projectRoot,
	}, obslog.NewComponentLogger("poller"))

	restartHandler := restarthandler.New(store, nil, 0, obslog.NewComponentLogger("restarthandler"))
	if result, err := restartHandler.Run(ctx, time.Now()); err != nil {
		log.Warn("restart scan failed", "error", err)
	} else {
		log.Info("restart scan complete",
			"continued", len(result.Continued),
			"resumed", len(result.Resumed),
			"rolled_back", len(result.RolledBack))
	}

	admin := adminserver.New(adminserver.Config{
		Addr:      v.GetString("admin-addr"),
		Namespace: namespace,
	}, store, p, obslog.NewComponentLogger("adminserver"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Start(gctx)
		<-gctx.Done()
		p.Stop(context.Background())
		return nil
	})
	g.Go(func() error {
		return admin.Run(gctx)
	})

	log.Info("runnerd started", "namespace", namespace, "admin_addr", v.GetString("admin-addr"))
	return g.Wait()
}

func buildStore(ctx context.Context, v *viper.Viper, namespace string) (queue.Store, error) {
	switch v.GetString("store") {
	case "memory":
		return queue.NewMemoryStore(namespace, time.Now), nil
	case "file":
		return queue.NewFileStore(v.GetString("state-dir"), namespace, time.Now)
	case "postgres":
		dsn := v.GetString("db-dsn")
		if dsn == "" {
			return nil, fmt.Errorf("--db-dsn is required for --store=postgres")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return queue.NewPostgresStore(pool, namespace, time.Now), nil
	default:
		return nil, fmt.Errorf("unknown --store %q (want memory|file|postgres)", v.GetString("store"))
	}
}
