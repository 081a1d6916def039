package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/smart-canopy/internal/pkg/config"
	"github.com/anicoll/smart-canopy/internal/pkg/controller"
	"github.com/anicoll/smart-canopy/internal/pkg/directory"
	"github.com/anicoll/smart-canopy/internal/pkg/model"
	"github.com/anicoll/smart-canopy/internal/pkg/mqtt"
	"github.com/anicoll/smart-canopy/internal/pkg/relay"
	"github.com/anicoll/smart-canopy/internal/pkg/server"
	"github.com/anicoll/smart-canopy/internal/pkg/session"
	"github.com/anicoll/smart-canopy/internal/pkg/topics"
)

const shutdownTimeout = 5 * time.Second

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv files to load before reading the environment",
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "INFO",
		},
		&cli.StringFlag{
			Name:    "http-addr",
			EnvVars: []string{"HTTP_ADDR"},
			Value:   "0.0.0.0:8000",
		},
		&cli.StringFlag{
			Name:    "transport",
			EnvVars: []string{"TRANSPORT"},
			Value:   config.TransportMQTT,
			Usage:   "mqtt or relay",
		},
		&cli.StringFlag{
			Name:    "broker-url",
			EnvVars: []string{"BROKER_URL"},
		},
		&cli.StringFlag{
			Name:    "broker-user",
			EnvVars: []string{"BROKER_USER"},
		},
		&cli.StringFlag{
			Name:    "broker-pass",
			EnvVars: []string{"BROKER_PASS"},
		},
		&cli.StringFlag{
			Name:    "client-name",
			EnvVars: []string{"CLIENT_NAME"},
			Usage:   "name the broker sees, slugged into the mqtt client id",
		},
		&cli.StringFlag{
			Name:    "directory-url",
			EnvVars: []string{"DIRECTORY_URL"},
		},
		&cli.StringSliceFlag{
			Name:    "devices",
			EnvVars: []string{"DEVICES"},
			Usage:   "static device ids, used when no directory is configured",
		},
		&cli.BoolFlag{
			Name:    "auto-reconnect",
			EnvVars: []string{"SESSION_AUTO_RECONNECT"},
		},
	}
}

func CanopyCommand(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.StringSlice("env-file")...)
	if err != nil {
		return err
	}
	applyFlags(ctx, cfg)
	if err := cfg.Normalize(); err != nil {
		return err
	}

	if err := run(ctx.Context, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyFlags overrides the environment only with flags given explicitly.
func applyFlags(ctx *cli.Context, cfg *config.Config) {
	strs := map[string]*string{
		"log-level":     &cfg.LogLevel,
		"http-addr":     &cfg.HTTPAddr,
		"transport":     &cfg.Transport,
		"broker-url":    &cfg.BrokerURL,
		"broker-user":   &cfg.BrokerUsername,
		"broker-pass":   &cfg.BrokerPassword,
		"client-name":   &cfg.ClientName,
		"directory-url": &cfg.DirectoryURL,
	}
	for name, dst := range strs {
		if ctx.IsSet(name) {
			*dst = ctx.String(name)
		}
	}
	if ctx.IsSet("devices") {
		cfg.Devices = ctx.StringSlice("devices")
	}
	if ctx.IsSet("auto-reconnect") {
		cfg.Session.AutoReconnect = ctx.Bool("auto-reconnect")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	dial, err := dialerFor(cfg)
	if err != nil {
		return err
	}

	ctl := controller.New(cfg.Session, dial,
		controller.WithDevices(staticDevices(cfg.Devices)),
		controller.WithDefaultEndpoint(session.Endpoint{URL: cfg.BrokerURL, Credentials: brokerCredentials(cfg)}),
	)
	defer ctl.Close()

	var dir Directory
	if cfg.DirectoryURL != "" {
		dir = directory.NewClient(cfg.DirectoryURL, directory.WithBroker(cfg.BrokerURL, brokerCredentials(cfg)))
	}

	logger.Info("starting",
		zap.String("transport", cfg.Transport),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Duration("staleness_window", cfg.Session.StalenessWindow),
		zap.String("staleness_policy", cfg.Session.StalenessPolicy),
	)
	return serve(ctx, cfg, ctl, dir, logger)
}

// serve runs the HTTP adapter and, when a directory is configured, the device
// refresher until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, ctl CanopyController, dir Directory, logger *zap.Logger) error {
	eg, ctx := errgroup.WithContext(ctx)

	var opts []server.Option
	if dir != nil {
		refresher := directory.NewRefresher(dir, ctl)
		opts = append(opts, server.WithRefresher(refresher), server.WithHistory(dir))

		eg.Go(func() error {
			return refresher.Run(ctx, cfg.DirectoryRefresh)
		})
	}

	srv := &http.Server{
		Handler:           server.New(ctl, opts...).Handler(),
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("context done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		return ctx.Err()
	})

	return eg.Wait()
}

func dialerFor(cfg *config.Config) (session.Dialer, error) {
	switch cfg.Transport {
	case config.TransportMQTT:
		return mqtt.Dialer(cfg.ClientName), nil
	case config.TransportRelay:
		return relay.Dialer(), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
}

// staticDevices skips ids that could not be routed to their own topics.
func staticDevices(ids []string) []model.DeviceDescriptor {
	ids = lo.Compact(lo.Map(ids, func(id string, _ int) string { return strings.TrimSpace(id) }))
	ids = lo.Filter(ids, func(id string, _ int) bool {
		if err := topics.Validate(id); err != nil {
			zap.L().Warn("skipping static device", zap.String("device", id), zap.Error(err))
			return false
		}
		return true
	})
	return lo.Map(ids, func(id string, _ int) model.DeviceDescriptor {
		return model.DeviceDescriptor{ID: id, DisplayName: id}
	})
}

func brokerCredentials(cfg *config.Config) *model.Credentials {
	if cfg.BrokerUsername == "" && cfg.BrokerPassword == "" {
		return nil
	}
	return &model.Credentials{Username: cfg.BrokerUsername, Password: cfg.BrokerPassword}
}
