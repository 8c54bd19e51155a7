// Package signature checks the four signature kinds an identity update may
// carry and reports which member produced each one.
package signature

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mlsvalidation/internal/domain"
)

// ContractOracle answers ERC-1271 queries against a chain. Implementations
// return (false, nil) when the contract rejects or reverts, an error wrapping
// domain.ErrSchemeMismatch for chains they do not serve, and any other error
// for transport failures.
type ContractOracle interface {
	IsValidSignature(ctx context.Context, chainID, account string, digest [32]byte, signature []byte, block *uint64) (bool, error)
}

type Verifier struct {
	Oracle ContractOracle
	Retry  RetryPolicy
	Logger *zap.Logger
}

func NewVerifier(oracle ContractOracle, retry RetryPolicy, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{Oracle: oracle, Retry: retry, Logger: logger}
}

// Verify checks sig over text and returns the member it proves.
func (v *Verifier) Verify(ctx context.Context, sig domain.Signature, text []byte) (domain.MemberIdentifier, error) {
	switch sig.Kind {
	case domain.SignatureKindWalletECDSA:
		if sig.WalletECDSA == nil {
			return domain.MemberIdentifier{}, missingVariant(sig.Kind)
		}
		return verifyWallet(sig.WalletECDSA, text)
	case domain.SignatureKindSmartContract:
		if sig.SmartContract == nil {
			return domain.MemberIdentifier{}, missingVariant(sig.Kind)
		}
		return v.verifySmartContract(ctx, sig.SmartContract, text)
	case domain.SignatureKindPasskey:
		if sig.Passkey == nil {
			return domain.MemberIdentifier{}, missingVariant(sig.Kind)
		}
		return verifyPasskey(sig.Passkey, text)
	case domain.SignatureKindInstallationKey:
		if sig.InstallationKey == nil {
			return domain.MemberIdentifier{}, missingVariant(sig.Kind)
		}
		return verifyInstallation(sig.InstallationKey, text)
	case "":
		return domain.MemberIdentifier{}, fmt.Errorf("%w: signature kind missing", domain.ErrMalformedSignature)
	}
	return domain.MemberIdentifier{}, fmt.Errorf("%w: unknown signature kind %q", domain.ErrSchemeMismatch, sig.Kind)
}

func missingVariant(kind domain.SignatureKind) error {
	return fmt.Errorf("%w: %s payload missing", domain.ErrSchemeMismatch, kind)
}

func (v *Verifier) logger() *zap.Logger {
	if v == nil || v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}

var errNoOracle = errors.New("no contract oracle configured")
