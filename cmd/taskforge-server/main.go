package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	server "github.com/taskforge/taskforge/internal"
	"github.com/taskforge/taskforge/internal/agent"
	agentrepo "github.com/taskforge/taskforge/internal/agent/repositoryimpl"
	"github.com/taskforge/taskforge/internal/assign"
	"github.com/taskforge/taskforge/internal/config"
	"github.com/taskforge/taskforge/internal/delegation"
	"github.com/taskforge/taskforge/internal/eventbus"
	"github.com/taskforge/taskforge/internal/orchestrator"
	"github.com/taskforge/taskforge/internal/recovery"
	"github.com/taskforge/taskforge/internal/scheduler"
	"github.com/taskforge/taskforge/internal/session"
	sessionrepo "github.com/taskforge/taskforge/internal/session/repositoryimpl"
	"github.com/taskforge/taskforge/internal/task"
	taskrepo "github.com/taskforge/taskforge/internal/task/repositoryimpl"
	"github.com/taskforge/taskforge/pkg/clog"
	"github.com/taskforge/taskforge/pkg/storage"
)

func main() {
	// Without a subcommand the sentinel supervises a "run" child. The
	// "run" subcommand is the actual server.
	if len(os.Args) > 1 && os.Args[1] == "run" {
		run()
		return
	}
	runSentinel()
}

func run() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Setup event bus
	bus := eventbus.New()

	// Setup repositories
	taskRepo := taskrepo.NewYAMLRepository(store)
	agentRepo := agentrepo.NewYAMLRepository(store)
	sessionRepo := sessionrepo.NewYAMLRepository(store)

	// Setup domain services
	registry := agent.NewRegistry(agentRepo)
	queue := task.NewQueue(taskRepo, registry, bus, task.QueueConfig{
		DefaultPriority: env.QueueEnv.DefaultPriority,
	})
	assignEngine := assign.NewEngine(queue, agentRepo, assign.Config{
		IncludeIdle: env.QueueEnv.AssignIncludeIdle,
	})
	resolver := delegation.NewResolver(taskRepo, queue, agentRepo, registry, bus, delegation.Config{
		DefaultPriority: env.QueueEnv.DefaultPriority,
	})
	recoveryEngine := recovery.NewEngine(queue, taskRepo, recovery.Config{
		StallThreshold: env.QueueEnv.StallThreshold,
		MaxRetries:     env.QueueEnv.MaxRetries,
	})
	reconciler := assign.NewReconciler(taskRepo, agentRepo, registry)
	sessionStore := session.NewStore(sessionRepo, bus, session.StoreConfig{
		Expiry: env.SessionEnv.Expiry,
	})

	// Setup background jobs
	sched := scheduler.New()
	sched.Register("stall-recovery", env.QueueEnv.RecoveryInterval, recoveryEngine.Sweep)
	sched.Register("workload-reconcile", env.QueueEnv.ReconcileInterval, reconciler.Reconcile)
	sched.Register("session-sweep", env.SessionEnv.SweepInterval, sessionStore.Sweep)

	orch := orchestrator.New(assignEngine, bus)

	srv := server.NewServer(
		env,
		task.NewServer(queue),
		agent.NewServer(agentRepo),
		assign.NewServer(assignEngine),
		delegation.NewServer(resolver),
		session.NewServer(sessionStore),
		scheduler.NewServer(sched),
	)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go orch.Run(ctx)
	go sched.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
