package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/oauth2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/harrisonrobin/mirrorsync/pkg/auth"
	"github.com/harrisonrobin/mirrorsync/pkg/config"
	"github.com/harrisonrobin/mirrorsync/pkg/google"
	"github.com/harrisonrobin/mirrorsync/pkg/items"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
	"github.com/harrisonrobin/mirrorsync/pkg/syncer"
	"github.com/harrisonrobin/mirrorsync/pkg/token"
)

// app holds everything a command needs. It is built once per invocation.
type app struct {
	cfg    *config.Config
	db     *store.DB
	logger *slog.Logger
	logOut io.Closer

	oauth  *oauth2.Config
	remote *google.Client
	engine *syncer.Engine
}

var current *app

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if current != nil {
		current.close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, logOut, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &app{cfg: cfg, db: db, logger: logger, logOut: logOut}, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logOut != nil {
		_ = a.logOut.Close()
	}
}

func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil, nil
	}
	out := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return slog.New(slog.NewJSONHandler(out, opts)), out, nil
}

// oauthConfig reads the client secrets once.
func (a *app) oauthConfig() (*oauth2.Config, error) {
	if a.oauth != nil {
		return a.oauth, nil
	}
	oc, err := auth.GetConfig(a.cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if a.cfg.Remote.TokenURL != "" {
		oc.Endpoint.TokenURL = a.cfg.Remote.TokenURL
	}
	a.oauth = oc
	return oc, nil
}

// sync wires the token manager, remote client and engine.
func (a *app) sync() (*syncer.Engine, *google.Client, error) {
	if a.engine != nil {
		return a.engine, a.remote, nil
	}
	oc, err := a.oauthConfig()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := token.NewManager(token.Config{
		Store: a.db,
		Refresher: &token.OAuthRefresher{
			Config:     oc,
			HTTPClient: &http.Client{Timeout: a.cfg.Remote.Timeout},
		},
		RefreshTimeout: a.cfg.Remote.Timeout,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	remote, err := google.NewClient(google.Config{
		Tokens:           tokens,
		TasksEndpoint:    a.cfg.Remote.TasksEndpoint,
		CalendarEndpoint: a.cfg.Remote.CalendarEndpoint,
		Timeout:          a.cfg.Remote.Timeout,
		MaxAttempts:      a.cfg.Remote.MaxAttempts,
		BaseDelay:        a.cfg.Remote.BaseDelay,
		Logger:           a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	engine, err := syncer.NewEngine(syncer.Config{
		Store:     a.db,
		Remote:    remote,
		Lookback:  a.cfg.Sync.Lookback,
		Lookahead: a.cfg.Sync.Lookahead,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	a.remote, a.engine = remote, engine
	return engine, remote, nil
}

// items returns the local mutation API. Without client secrets local edits
// still work; they are just not mirrored.
func (a *app) items() *items.Service {
	engine, _, err := a.sync()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("mirroring disabled", "error", err)
		} else {
			a.logger.Debug("mirroring disabled, no client secrets", "path", a.cfg.Credentials)
		}
		return items.NewService(a.db, nil, items.WithLogger(a.logger))
	}
	return items.NewService(a.db, engine, items.WithLogger(a.logger))
}
