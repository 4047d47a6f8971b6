// Package app wires the viewport server, its websocket transport and the
// optional image feed into one runnable unit.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tomaslejdung/viewshare/pkg/imagefeed"
	"github.com/tomaslejdung/viewshare/pkg/settings"
	"github.com/tomaslejdung/viewshare/pkg/signal"
	"github.com/tomaslejdung/viewshare/pkg/viewport"
)

// App is a fully wired viewport server.
type App struct {
	Core      *viewport.Server
	Transport *signal.Server
	Feed      *imagefeed.Watcher // nil without an image path

	settings settings.Settings
	logger   *slog.Logger
}

// New builds an App from validated settings.
func New(s settings.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	transport := signal.NewServer(signal.Options{
		PongTimeout: s.PongTimeout,
		ReadLimit:   s.ReadLimit,
		Logger:      logger.With("component", "transport"),
	})
	core, err := viewport.NewServer(viewport.Config{
		PoolSize: s.PoolSize,
		Rotate:   s.Rotate,
	}, transport, logger.With("component", "viewport"))
	if err != nil {
		return nil, fmt.Errorf("create viewport server: %w", err)
	}
	transport.SetHandler(core)

	a := &App{
		Core:      core,
		Transport: transport,
		settings:  s,
		logger:    logger,
	}

	if s.ImagePath != "" {
		feed, err := imagefeed.NewWatcher(s.ImagePath, core, 0, logger.With("component", "imagefeed"))
		if err != nil {
			return nil, fmt.Errorf("create image feed: %w", err)
		}
		a.Feed = feed
	}
	return a, nil
}

// Settings returns the settings the App was built with
func (a *App) Settings() settings.Settings {
	return a.settings
}

// Run serves peers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feedDone := make(chan struct{})
	if a.Feed != nil {
		if err := a.Feed.Load(); err != nil {
			a.logger.Warn("initial image load failed", "error", err)
		}
		go func() {
			defer close(feedDone)
			if err := a.Feed.Run(ctx); err != nil {
				a.logger.Error("image feed stopped", "error", err)
			}
		}()
	} else {
		close(feedDone)
	}

	a.logger.Info("starting viewport server",
		"listen", a.settings.Listen,
		"pool_size", a.settings.PoolSize,
		"rotate", a.settings.Rotate,
		"image", a.settings.ImagePath,
	)
	err := a.Transport.Serve(ctx, a.settings.Listen)
	cancel()
	<-feedDone
	return err
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
