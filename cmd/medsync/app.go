package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alexjbarnes/medsync/internal/config"
	"github.com/alexjbarnes/medsync/internal/logging"
	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/remote"
	"github.com/alexjbarnes/medsync/internal/state"
	"github.com/alexjbarnes/medsync/internal/store"
	"github.com/alexjbarnes/medsync/internal/syncengine"
)

// app is the wired process: config, logger, both databases and the engine.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	state  *state.State
	engine *syncengine.Engine

	closers []io.Closer
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser := logging.Open(cfg.Environment, cfg.LogFile)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	a.closers = append(a.closers, logCloser)

	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.StorePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	appState, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading state: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		state:   appState,
		closers: []io.Closer{appState, st},
	}

	if err := a.signIn(ctx); err != nil {
		a.Close()
		return nil, err
	}

	client := remote.NewClient(remote.Config{
		BaseURL:   cfg.APIBaseURL,
		Token:     cfg.APIToken,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RemoteRateLimit,
		RateBurst: cfg.RemoteRateBurst,
	})

	a.engine = syncengine.New(syncengine.Deps{
		Store:  st,
		State:  appState,
		API:    client,
		Probe:  remote.NewHTTPProbe(cfg.APIBaseURL, cfg.ConnectivityTimeout),
		Logger: logger,
	})

	return a, nil
}

// signIn records the owner. A different owner than the last session
// invalidates the pulled flags so the next reconciliation refetches.
func (a *app) signIn(ctx context.Context) error {
	if prev := a.state.Owner(); prev != "" && prev != a.cfg.OwnerID {
		a.logger.Info("owner changed, resetting pull flags",
			slog.String("previous", prev),
			slog.String("owner", a.cfg.OwnerID),
		)

		if err := a.state.ResetPulled(a.cfg.OwnerID); err != nil {
			return fmt.Errorf("resetting pull flags: %w", err)
		}
	}

	if err := a.state.SetOwner(a.cfg.OwnerID); err != nil {
		return fmt.Errorf("saving owner: %w", err)
	}

	if a.cfg.APIToken != "" {
		if err := a.state.SetToken(a.cfg.APIToken); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
	}

	user := models.User{ID: a.cfg.OwnerID, Email: a.cfg.OwnerEmail}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	return nil
}

func (a *app) Close() error {
	var first error

	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
