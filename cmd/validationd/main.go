package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mlsvalidation/internal/config"
	httpinfra "mlsvalidation/internal/infra/http"
	"mlsvalidation/internal/infra/metrics"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "validationd",
		Short:         "Stateless MLS and identity update validation service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), v)
		},
	}
	registerFlags(root.PersistentFlags(), v)

	root.AddCommand(newCheckCommand(v))
	root.AddCommand(newPolicyCommand())
	return root
}

// registerFlags exposes the main settings as flags; env vars of the same
// name (upper case) keep working underneath.
func registerFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.String(config.KeyHTTPAddr, v.GetString(config.KeyHTTPAddr), "listen address")
	flags.String(config.KeyLogLevel, v.GetString(config.KeyLogLevel), "log level (debug, info, warn, error)")
	flags.String(config.KeyChainRPCURLs, "", "chain RPC endpoints, e.g. eip155:1=https://...,eip155:8453=https://...")
	flags.String(config.KeyPolicyBundlePath, "", "key package admission policy bundle directory")
	flags.Int(config.KeyConcurrency, v.GetInt(config.KeyConcurrency), "items validated in parallel per batch")
	flags.Int(config.KeyMaxBatchSize, v.GetInt(config.KeyMaxBatchSize), "maximum items per request")
	flags.String(config.KeyRedisAddr, "", "redis address for the shared rate limiter")
	flags.Int(config.KeyRateLimitRequests, 0, "requests per client and route per window; 0 disables")
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

func serve(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := metrics.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	app, err := buildApp(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Service:     app.Service,
		Logger:      logger,
		Metrics:     m,
		Gatherer:    prometheus.DefaultGatherer,
		RateLimiter: app.RateLimiter,
		Ready:       app.Ready,
	})
	logger.Info("starting",
		zap.Strings("chains", cfg.Chains()),
		zap.String("policy_bundle_path", cfg.PolicyBundlePath),
		zap.Bool("rate_limited", app.RateLimiter != nil),
	)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
