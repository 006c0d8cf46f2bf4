package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/mcpserver"
	"github.com/alexjbarnes/medsync/internal/notify"
	"github.com/alexjbarnes/medsync/internal/scheduler"
	"github.com/alexjbarnes/medsync/internal/server"
	"github.com/alexjbarnes/medsync/internal/syncengine"
	"github.com/alexjbarnes/medsync/internal/watcher"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const syncJobName = "medsync.sync"

func runDaemon(ctx context.Context, a *app) error {
	a.logger.Info("medsync starting",
		slog.String("version", Version),
		slog.String("owner", a.cfg.OwnerID),
		slog.Bool("background", a.cfg.BackgroundEnabled),
		slog.Bool("watch", a.cfg.WatchStore),
		slog.Bool("mcp", a.cfg.EnableMCP),
	)

	initialSync(ctx, a)

	evaluator := notify.NewEvaluator(a.engine, notify.LogDispatcher{Logger: a.logger}, a.cfg.AppointmentLead, a.logger)

	sched := scheduler.New(scheduler.HostFunc(func(string) bool {
		return a.cfg.BackgroundEnabled
	}), a.logger)

	registered, err := sched.Register(newSyncJob(a.engine, evaluator, a.cfg.OwnerID, a.cfg.SyncInterval, a.logger))
	if err != nil {
		return fmt.Errorf("registering sync job: %w", err)
	}

	if !registered {
		a.logger.Info("background sync disabled, relying on immediate pushes")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	// Rows left pending by a previous run are pushed now rather than at
	// the first tick.
	g.Go(func() error {
		resumePush(gctx, a, sched, registered)
		return nil
	})

	if a.cfg.WatchStore {
		w := watcher.New(a.cfg.StorePath(), func(ctx context.Context) {
			report := a.engine.PushLocalUpdatesToServer(ctx, a.cfg.OwnerID)
			if err := report.Err(); err != nil && !report.Offline {
				a.logger.Warn("push after store change incomplete", slog.String("error", err.Error()))
			}
		}, a.logger)

		g.Go(func() error {
			if err := w.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("store watcher: %w", err)
			}

			return nil
		})
	}

	if a.cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, a)
		})
	}

	return g.Wait()
}

// initialSync runs the first-login reconciliation. Failure is logged and
// retried by the next scheduled pull; it never stops the agent.
func initialSync(ctx context.Context, a *app) {
	synced, err := a.engine.FullySynced(a.cfg.OwnerID)
	if err != nil {
		a.logger.Warn("reading sync state", slog.String("error", err.Error()))
	}

	if synced {
		return
	}

	a.logger.Info("reconciling local store with backend")

	if err := a.engine.SyncLocalDatabaseWithRemote(ctx, a.cfg.OwnerID, false); err != nil {
		a.logger.Warn("initial reconciliation incomplete", slog.String("error", err.Error()))
		return
	}

	a.logger.Info("local store fully synced")
}

// resumePush runs one sync pass at launch: the registered job when
// background sync is on, otherwise a plain push.
func resumePush(ctx context.Context, a *app, sched *scheduler.Scheduler, registered bool) {
	if registered {
		if _, err := sched.Trigger(ctx, syncJobName); err != nil {
			a.logger.Warn("launch sync incomplete", slog.String("error", err.Error()))
		}

		return
	}

	report := a.engine.PushLocalUpdatesToServer(ctx, a.cfg.OwnerID)
	if err := report.Err(); err != nil && !report.Offline {
		a.logger.Warn("launch push incomplete", slog.String("error", err.Error()))
	}
}

// newSyncJob builds the periodic job. Each run finishes any incomplete
// reconciliation, pushes pending rows and evaluates notifications.
func newSyncJob(eng *syncengine.Engine, evaluator *notify.Evaluator, ownerID string, interval time.Duration, logger *slog.Logger) scheduler.Job {
	return scheduler.Job{
		Name:     syncJobName,
		Interval: interval,
		Run: func(ctx context.Context) (scheduler.Result, error) {
			if synced, err := eng.FullySynced(ownerID); err == nil && !synced {
				// Resources already pulled are skipped, so this only
				// refetches what failed last time.
				err := eng.SyncLocalDatabaseWithRemote(ctx, ownerID, false)
				if err != nil && !errors.Is(err, apperrors.ErrOffline) && !errors.Is(err, apperrors.ErrSyncInProgress) {
					logger.Warn("reconciliation incomplete, pushing anyway", slog.String("error", err.Error()))
				}
			}

			var (
				report  syncengine.PushReport
				created int
			)

			var g errgroup.Group

			g.Go(func() error {
				report = eng.PushLocalUpdatesToServer(ctx, ownerID)
				if report.Offline {
					return nil
				}

				return report.Err()
			})

			g.Go(func() error {
				notes, err := evaluator.Evaluate(ctx, ownerID)
				created = len(notes)

				return err
			})

			if err := g.Wait(); err != nil {
				return scheduler.ResultFailed, err
			}

			if report.Synced() > 0 || created > 0 {
				return scheduler.ResultNewData, nil
			}

			return scheduler.ResultNoData, nil
		},
	}
}

// runMCP serves the MCP inspection endpoint until ctx is cancelled.
func runMCP(ctx context.Context, a *app) error {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "medsync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, a.engine, a.cfg.OwnerID)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: a.cfg.MCPListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			APIKeyHash: a.cfg.MCPAPIKeyHash,
			MCPHandler: mcpHandler,
			Logger:     a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("starting MCP server", slog.String("listen", a.cfg.MCPListenAddr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
