package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"e2echat/backend"
	"e2echat/chat"
	"e2echat/config"
	"e2echat/storage"
)

type contextKey int

const contextKeyApp contextKey = iota

type appEnv struct {
	cfg     *config.UserConfig
	cfgPath string
	log     zerolog.Logger
	store   *storage.Store
	backend *backend.Local
	client  *chat.Client
}

func getApp(ctx *cli.Context) *appEnv {
	return ctx.Context.Value(contextKeyApp).(*appEnv)
}

func prepareApp(ctx *cli.Context) error {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Level()
	if raw := ctx.String("log-level"); raw != "" {
		parsed, err := zerolog.ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("invalid log level %q", raw)
		}
		level = parsed
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()

	userID := cfg.UserID
	if override := ctx.String("user"); override != "" {
		userID = override
	}

	store, err := storage.OpenPath(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	local, err := backend.NewLocal(backend.Options{Store: store, Logger: &log})
	if err != nil {
		_ = store.Close()
		return err
	}
	client, err := chat.NewClient(chat.Options{
		UserID:   userID,
		Backend:  local,
		PageSize: cfg.PageSize,
		Logger:   &log,
	})
	if err != nil {
		local.Close()
		_ = store.Close()
		return err
	}

	ctx.Context = context.WithValue(ctx.Context, contextKeyApp, &appEnv{
		cfg:     cfg,
		cfgPath: cfgPath,
		log:     log,
		store:   store,
		backend: local,
		client:  client,
	})
	return nil
}

func closeApp(ctx *cli.Context) error {
	a, ok := ctx.Context.Value(contextKeyApp).(*appEnv)
	if !ok {
		return nil
	}
	a.client.Close()
	a.backend.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Database close error")
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "e2echat",
		Usage: "End-to-end encrypted chat over a local message store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Usage:   "Act as this user ID instead of the configured one",
				EnvVars: []string{"E2ECHAT_USER"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before: prepareApp,
		After:  closeApp,
		Commands: []*cli.Command{
			infoCommand,
			keyCommand,
			sendCommand,
			sendFileCommand,
			historyCommand,
			editCommand,
			deleteCommand,
			reactCommand,
			forwardCommand,
			membersCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		var remote *chat.RemoteStoreError
		if errors.As(err, &remote) {
			fmt.Fprintf(os.Stderr, "Error: backend request failed (%s): %v\n", remote.Op, remote.Err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var infoCommand = &cli.Command{
	Name:  "info",
	Usage: "Show the local user and data locations",
	Action: func(ctx *cli.Context) error {
		a := getApp(ctx)
		fmt.Printf("User ID:         %s\n", a.client.UserID())
		fmt.Printf("Display Name:    %s\n", a.cfg.DisplayName)
		fmt.Printf("Page Size:       %d\n", a.cfg.PageSize)
		fmt.Printf("Config File:     %s\n", a.cfgPath)
		fmt.Printf("Data Directory:  %s\n", filepath.Dir(a.cfgPath))
		fmt.Printf("Database File:   %s\n", a.cfg.DatabasePath)
		return nil
	},
}
