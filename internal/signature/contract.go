package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mlsvalidation/internal/domain"
)

// RetryPolicy bounds how long a smart-contract check keeps retrying a
// transient oracle failure.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (v *Verifier) verifySmartContract(ctx context.Context, sig *domain.SmartContractSignature, text []byte) (domain.MemberIdentifier, error) {
	account := domain.NormalizeAddress(sig.AccountAddress)
	if len(account) != 42 {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: account address %q", domain.ErrMalformedSignature, sig.AccountAddress)
	}
	if sig.ChainID == "" {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: chain id missing", domain.ErrMalformedSignature)
	}
	if len(sig.Bytes) == 0 {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: empty contract signature", domain.ErrMalformedSignature)
	}
	if v == nil || v.Oracle == nil {
		return domain.MemberIdentifier{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, errNoOracle)
	}

	digest := PersonalSignHash(text)
	attempts := v.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.MemberIdentifier{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
		ok, err := v.Oracle.IsValidSignature(ctx, sig.ChainID, account, digest, sig.Bytes, sig.BlockNumber)
		if err == nil {
			if !ok {
				return domain.MemberIdentifier{}, fmt.Errorf("%w: contract %s rejected signature", domain.ErrSignatureInvalid, account)
			}
			return domain.AddressMember(account), nil
		}
		if errors.Is(err, domain.ErrSchemeMismatch) || errors.Is(err, domain.ErrMalformedSignature) {
			return domain.MemberIdentifier{}, err
		}
		lastErr = err
		v.logger().Warn("contract oracle call failed",
			zap.String("chain_id", sig.ChainID),
			zap.String("account", account),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, v.Retry.backoff(attempt)); err != nil {
			return domain.MemberIdentifier{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
	}
	return domain.MemberIdentifier{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
