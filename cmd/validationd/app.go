package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mlsvalidation/internal/config"
	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/infra/chain"
	httpinfra "mlsvalidation/internal/infra/http"
	"mlsvalidation/internal/infra/metrics"
	"mlsvalidation/internal/infra/mlswire"
	"mlsvalidation/internal/infra/policyopa"
	"mlsvalidation/internal/infra/ratelimit"
	"mlsvalidation/internal/signature"
	"mlsvalidation/internal/usecase"
)

type app struct {
	Service     *usecase.ValidationService
	RateLimiter domain.RateLimiter
	Ready       map[string]httpinfra.ReadinessCheck

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires the validators from cfg. m may be nil for offline use.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*app, error) {
	a := &app{Ready: make(map[string]httpinfra.ReadinessCheck)}

	var oracle signature.ContractOracle
	if len(cfg.ChainRPCURLs) > 0 {
		opts := chain.Options{
			Timeout: cfg.OracleTimeout,
			RPS:     cfg.OracleRPS,
			Logger:  logger.Named("oracle"),
		}
		if m != nil {
			opts.Obs = m
		}
		o, err := chain.Dial(ctx, cfg.ChainRPCURLs, opts)
		if err != nil {
			return nil, fmt.Errorf("init chain oracle: %w", err)
		}
		a.closers = append(a.closers, o.Close)
		oracle = o
		if cfg.OracleCacheTTL > 0 {
			oracle = chain.NewCachedOracle(o, cfg.OracleCacheTTL, cfg.OracleCacheEntries)
		}
	}

	retry := signature.RetryPolicy{
		Attempts:       cfg.OracleRetryAttempts,
		InitialBackoff: cfg.OracleRetryBackoff,
		MaxBackoff:     cfg.OracleMaxBackoff,
	}
	identity := &usecase.IdentityUpdateValidator{
		Verifier:             signature.NewVerifier(oracle, retry, logger.Named("signature")),
		MaxUpdates:           cfg.MaxUpdatesPerLog,
		MaxActionsPerUpdate:  cfg.MaxActionsPerUpdate,
		SignatureConcurrency: cfg.SignatureConcurrency,
	}

	mls := &usecase.MLSValidator{Protocol: mlswire.Parser{}}
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load policy bundle: %w", err)
		}
		logger.Info("policy bundle loaded",
			zap.String("bundle_id", engine.BundleID()),
			zap.String("bundle_hash", engine.BundleHash()),
		)
		mls.Policy = engine
	}

	a.Service = &usecase.ValidationService{
		Identity:    identity,
		MLS:         mls,
		Concurrency: cfg.Concurrency,
		Logger:      logger.Named("validation"),
	}
	if m != nil {
		a.Service.Metrics = m
	}

	switch {
	case cfg.RedisAddr != "":
		limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis rate limiter: %w", err)
		}
		a.closers = append(a.closers, func() { _ = limiter.Close() })
		a.RateLimiter = limiter
		a.Ready["redis"] = limiter.Ping
	case cfg.RateLimitRequests > 0:
		a.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
	}
	return a, nil
}
