package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"flatshare/internal/bus"
	"flatshare/internal/channel"
	"flatshare/internal/config"
	"flatshare/internal/domain"
	"flatshare/internal/engine"
	"flatshare/internal/persona"
	"flatshare/internal/provider"
	"flatshare/internal/store"
)

const shutdownTimeout = 10 * time.Second

// setupLogger builds the process logger. With a log file, logs go there
// only, so they do not interleave with the chat.
func setupLogger(cfg config.GeneralConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func newGenerator(cfg *config.Config, logger *slog.Logger) (domain.Generator, error) {
	return provider.NewFactory(cfg.Generator, logger).Generator()
}

// flat is everything a front end needs to run.
type flat struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *bus.InMemoryBus
	engine *engine.Engine
	store  domain.SnapshotStore
	close  func()
}

func openFlat(ctx context.Context, resume bool) (*flat, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := setupLogger(cfg.General)
	if err != nil {
		return nil, err
	}

	cast, err := persona.Load(cfg.General.PersonasFile, logger)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("personas: %w", err)
	}
	gen, err := newGenerator(cfg, logger)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("generator: %w", err)
	}
	if err := gen.Healthy(ctx); err != nil {
		logger.Warn("generator unhealthy at startup; backup lines will cover", "generator", gen.Name(), "err", err)
	}
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		closeLog()
		return nil, err
	}

	b := bus.New(bus.Config{Logger: logger})
	eng, err := engine.FromConfig(cfg, cast, gen, st, b, logger)
	if err != nil {
		if st != nil {
			st.Close()
		}
		closeLog()
		return nil, err
	}
	if resume {
		if err := eng.Resume(ctx); err != nil {
			logger.Warn("resume failed, starting fresh", "err", err)
		}
	}

	return &flat{
		cfg:    cfg,
		logger: logger,
		bus:    b,
		engine: eng,
		store:  st,
		close: func() {
			b.Close()
			if st != nil {
				if err := st.Close(); err != nil {
					logger.Warn("close store", "err", err)
				}
			}
			closeLog()
		},
	}, nil
}

// serveMetrics exposes the engine's counters until ctx ends. An empty
// address disables it.
func serveMetrics(ctx context.Context, f *flat) {
	addr := f.cfg.General.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", f.engine.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	go func() {
		f.logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Warn("metrics server stopped", "err", err)
		}
	}()
}

func runChat(resume bool) error {
	ctx, stop := signalContext()
	defer stop()

	f, err := openFlat(ctx, resume)
	if err != nil {
		return err
	}
	defer f.close()
	serveMetrics(ctx, f)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- f.engine.Run(loopCtx) }()

	cli := channel.NewCLI(channel.CLIConfig{Logger: f.logger, Spinner: f.cfg.Channels.CLI.Spinner})
	err = cli.Start(ctx, f.bus)
	cancelLoop()
	if loopErr := <-loopDone; loopErr != nil && err == nil {
		err = loopErr
	}
	fmt.Println()
	return err
}

func runTelegram(resume bool) error {
	ctx, stop := signalContext()
	defer stop()

	f, err := openFlat(ctx, resume)
	if err != nil {
		return err
	}
	defer f.close()
	serveMetrics(ctx, f)

	tc := f.cfg.Channels.Telegram
	if tc.Token == "" {
		return errors.New("channels.telegram.token is not set (or TELEGRAM_BOT_TOKEN)")
	}
	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:     tc.Token,
		AllowFrom: tc.AllowFrom,
		Logger:    f.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.engine.Run(gctx) })
	g.Go(func() error { return tg.Start(gctx, f.bus) })
	f.logger.Info("telegram flat running; Ctrl+C to stop")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	f.logger.Info("shutting down")
	select {
	case err := <-done:
		return err
	case <-time.After(shutdownTimeout):
		return errors.New("shutdown timed out")
	}
}
