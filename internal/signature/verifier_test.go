package signature_test

import (
	"context"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/signature"
	"mlsvalidation/pkg/signing"
)

var text = []byte("Authorize identity update\n\nInbox ID: abc\n")

type fakeOracle struct {
	calls   atomic.Int32
	results []oracleResult
}

type oracleResult struct {
	ok  bool
	err error
}

func (f *fakeOracle) IsValidSignature(ctx context.Context, chainID, account string, digest [32]byte, sig []byte, block *uint64) (bool, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	r := f.results[n]
	return r.ok, r.err
}

func fastRetry(attempts int) signature.RetryPolicy {
	return signature.RetryPolicy{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestWalletSignatureRecoversSigner(t *testing.T) {
	key, err := signing.GenerateWalletKey()
	require.NoError(t, err)
	sig, err := signing.SignWallet(key, text)
	require.NoError(t, err)

	v := signature.NewVerifier(nil, fastRetry(1), nil)
	member, err := v.Verify(context.Background(), sig, text)
	require.NoError(t, err)
	assert.Equal(t, domain.AddressMember(signing.WalletAddress(key)), member)

	sig.WalletECDSA.Address = ""
	member, err = v.Verify(context.Background(), sig, text)
	require.NoError(t, err)
	assert.Equal(t, signing.WalletAddress(key), member.Value)
}

func TestWalletSignatureFailures(t *testing.T) {
	key, err := signing.GenerateWalletKey()
	require.NoError(t, err)
	other, err := signing.GenerateWalletKey()
	require.NoError(t, err)
	v := signature.NewVerifier(nil, fastRetry(1), nil)

	t.Run("other text", func(t *testing.T) {
		sig, err := signing.SignWallet(key, text)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), sig, []byte("something else"))
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	})
	t.Run("claimed address differs", func(t *testing.T) {
		sig, err := signing.SignWallet(key, text)
		require.NoError(t, err)
		sig.WalletECDSA.Address = signing.WalletAddress(other)
		_, err = v.Verify(context.Background(), sig, text)
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	})
	t.Run("short", func(t *testing.T) {
		sig, err := signing.SignWallet(key, text)
		require.NoError(t, err)
		sig.WalletECDSA.Bytes = sig.WalletECDSA.Bytes[:64]
		_, err = v.Verify(context.Background(), sig, text)
		assert.ErrorIs(t, err, domain.ErrMalformedSignature)
	})
	t.Run("bad recovery id", func(t *testing.T) {
		sig, err := signing.SignWallet(key, text)
		require.NoError(t, err)
		sig.WalletECDSA.Bytes[64] = 5
		_, err = v.Verify(context.Background(), sig, text)
		assert.ErrorIs(t, err, domain.ErrMalformedSignature)
	})
	t.Run("high s", func(t *testing.T) {
		sig, err := signing.SignWallet(key, text)
		require.NoError(t, err)
		for i := 32; i < 64; i++ {
			sig.WalletECDSA.Bytes[i] = 0xff
		}
		sig.WalletECDSA.Bytes[32] = 0x80
		_, err = v.Verify(context.Background(), sig, text)
		assert.ErrorIs(t, err, domain.ErrMalformedSignature)
	})
}

func TestInstallationSignature(t *testing.T) {
	key, err := signing.GenerateInstallationKey()
	require.NoError(t, err)
	sig, err := signing.SignInstallation(key, text)
	require.NoError(t, err)

	v := signature.NewVerifier(nil, fastRetry(1), nil)
	member, err := v.Verify(context.Background(), sig, text)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberKindInstallation, member.Kind)
	assert.Equal(t, signing.InstallationSigner{Key: key}.Member(), member)

	_, err = v.Verify(context.Background(), sig, append([]byte("x"), text...))
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	sig.InstallationKey.PublicKey = sig.InstallationKey.PublicKey[:31]
	_, err = v.Verify(context.Background(), sig, text)
	assert.ErrorIs(t, err, domain.ErrMalformedSignature)
}

func TestPasskeySignature(t *testing.T) {
	key, err := signing.GeneratePasskey()
	require.NoError(t, err)
	opts := signing.PasskeyOptions{RPID: "example.org", Origin: "https://example.org"}
	v := signature.NewVerifier(nil, fastRetry(1), nil)

	sig, err := signing.SignPasskey(key, text, opts)
	require.NoError(t, err)
	member, err := v.Verify(context.Background(), sig, text)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberKindPasskey, member.Kind)
	assert.Equal(t, signing.PasskeySigner{Key: key}.Member(), member)

	t.Run("challenge for other text", func(t *testing.T) {
		_, err := v.Verify(context.Background(), sig, []byte("other"))
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	})
	t.Run("user not present", func(t *testing.T) {
		s, err := signing.SignPasskey(key, text, opts)
		require.NoError(t, err)
		s.Passkey.AuthenticatorData[32] = 0
		_, err = v.Verify(context.Background(), s, text)
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	})
	t.Run("tampered authenticator data", func(t *testing.T) {
		s, err := signing.SignPasskey(key, text, opts)
		require.NoError(t, err)
		s.Passkey.AuthenticatorData[0] ^= 0xff
		_, err = v.Verify(context.Background(), s, text)
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	})
	t.Run("garbage cose key", func(t *testing.T) {
		s, err := signing.SignPasskey(key, text, opts)
		require.NoError(t, err)
		s.Passkey.PublicKey = []byte{0x01, 0x02}
		_, err = v.Verify(context.Background(), s, text)
		assert.ErrorIs(t, err, domain.ErrMalformedSignature)
	})
}

func contractSig() domain.Signature {
	return signing.SmartContract("0x00000000000000000000000000000000000000aa", "eip155:1", nil, []byte{1, 2, 3})
}

func TestSmartContractSignature(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{ok: true}}}
		v := signature.NewVerifier(oracle, fastRetry(3), nil)
		member, err := v.Verify(ctx, contractSig(), text)
		require.NoError(t, err)
		assert.Equal(t, "0x00000000000000000000000000000000000000aa", member.Value)
	})
	t.Run("rejected is permanent", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{ok: false}}}
		v := signature.NewVerifier(oracle, fastRetry(3), nil)
		_, err := v.Verify(ctx, contractSig(), text)
		assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
		assert.False(t, domain.IsRetryable(err))
		assert.Equal(t, int32(1), oracle.calls.Load())
	})
	t.Run("transient then success", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{err: errors.New("timeout")}, {ok: true}}}
		v := signature.NewVerifier(oracle, fastRetry(3), nil)
		_, err := v.Verify(ctx, contractSig(), text)
		require.NoError(t, err)
		assert.Equal(t, int32(2), oracle.calls.Load())
	})
	t.Run("unavailable after retries", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{err: errors.New("connection refused")}}}
		v := signature.NewVerifier(oracle, fastRetry(3), nil)
		_, err := v.Verify(ctx, contractSig(), text)
		assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, int32(3), oracle.calls.Load())
	})
	t.Run("unknown chain", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{err: domain.ErrSchemeMismatch}}}
		v := signature.NewVerifier(oracle, fastRetry(3), nil)
		_, err := v.Verify(ctx, contractSig(), text)
		assert.ErrorIs(t, err, domain.ErrSchemeMismatch)
		assert.Equal(t, int32(1), oracle.calls.Load())
	})
	t.Run("no oracle", func(t *testing.T) {
		v := signature.NewVerifier(nil, fastRetry(3), nil)
		_, err := v.Verify(ctx, contractSig(), text)
		assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
	})
	t.Run("cancelled context stops retries", func(t *testing.T) {
		oracle := &fakeOracle{results: []oracleResult{{err: errors.New("timeout")}}}
		v := signature.NewVerifier(oracle, signature.RetryPolicy{Attempts: 5, InitialBackoff: time.Hour}, nil)
		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(10*time.Millisecond, cancel)
		_, err := v.Verify(cctx, contractSig(), text)
		assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
		assert.Equal(t, int32(1), oracle.calls.Load())
	})
}

func TestUnknownKind(t *testing.T) {
	v := signature.NewVerifier(nil, fastRetry(1), nil)
	_, err := v.Verify(context.Background(), domain.Signature{Kind: "schnorr"}, text)
	assert.ErrorIs(t, err, domain.ErrSchemeMismatch)

	_, err = v.Verify(context.Background(), domain.Signature{Kind: domain.SignatureKindPasskey}, text)
	assert.ErrorIs(t, err, domain.ErrSchemeMismatch)

	_, err = v.Verify(context.Background(), domain.Signature{}, text)
	assert.ErrorIs(t, err, domain.ErrMalformedSignature)
}

func TestPersonalSignHashIsStable(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	got := signature.PersonalSignHash([]byte("hello"))
	assert.Equal(t, "50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750", hex.EncodeToString(got[:]))
}
