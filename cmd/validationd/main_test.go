package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/infra/mlswire"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeKeyPackage(t *testing.T, notAfter time.Time) string {
	t.Helper()
	return writeKeyPackageLifetime(t, time.Now().Add(-time.Hour), notAfter, nil)
}

func writeKeyPackageLifetime(t *testing.T, notBefore, notAfter time.Time, lifetime *mlswire.Lifetime) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	raw, err := mlswire.BuildKeyPackage(mlswire.KeyPackageParams{
		CipherSuite:   0x0001,
		SigningKey:    priv,
		InitKey:       bytes.Repeat([]byte{1}, 32),
		EncryptionKey: bytes.Repeat([]byte{2}, 32),
		Identity:      []byte("inbox-cli"),
		NotBefore:     notBefore,
		NotAfter:      notAfter,
		Lifetime:      lifetime,
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "kp.hex")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600))
	return path
}

func TestCheckKeyPackage(t *testing.T) {
	path := writeKeyPackage(t, time.Now().Add(24*time.Hour))
	out, err := execute(t, "check", "key-package", "--encoding", "hex", path)
	require.NoError(t, err)
	assert.Contains(t, out, "status=pass kind=key_package")
	assert.Contains(t, out, `identity="inbox-cli"`)
}

func TestCheckKeyPackageExpired(t *testing.T) {
	path := writeKeyPackage(t, time.Now().Add(-time.Minute))
	out, err := execute(t, "check", "key-package", "--encoding", "hex", path)
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "status=fail")
	assert.Contains(t, out, "error.code=INVALID_CREDENTIAL")
}

func TestCheckKeyPackageWithPolicy(t *testing.T) {
	path := writeKeyPackage(t, time.Now().Add(365*24*time.Hour))
	bundle := filepath.Join("..", "..", "policy", "bundles", "keypackage_v0")
	out, err := execute(t, "check", "key-package", "--encoding", "hex", "--policy_bundle_path", bundle, path)
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "error.code=POLICY_DENIED")
	assert.Contains(t, out, "LIFETIME_TOO_LONG")
}

func TestCheckKeyPackageUnboundedLifetimeIsDenied(t *testing.T) {
	path := writeKeyPackageLifetime(t, time.Time{}, time.Time{}, &mlswire.Lifetime{NotBefore: 0, NotAfter: math.MaxUint64})
	bundle := filepath.Join("..", "..", "policy", "bundles", "keypackage_v0")

	out, err := execute(t, "check", "key-package", "--encoding", "hex", path)
	require.NoError(t, err)
	assert.Contains(t, out, "status=pass")

	out, err = execute(t, "check", "key-package", "--encoding", "hex", "--policy_bundle_path", bundle, path)
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "LIFETIME_TOO_LONG")
}

func TestCheckIdentityUpdateRejectsEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inbox_id":"abc","updates":[]}`), 0o600))
	out, err := execute(t, "check", "identity-update", path)
	require.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "error.code=EMPTY_LOG")
}

func TestPolicyHash(t *testing.T) {
	out, err := execute(t, "policy", "hash", filepath.Join("..", "..", "policy", "bundles", "keypackage_v0"))
	require.NoError(t, err)
	assert.Regexp(t, `^bundle_id=keypackage_v0 bundle_hash=[0-9a-f]{64}\n$`, out)
}

func TestPolicyHashPrefersManifestID(t *testing.T) {
	src := filepath.Join("..", "..", "policy", "bundles", "keypackage_v0")
	dst := filepath.Join(t.TempDir(), "renamed")
	require.NoError(t, os.MkdirAll(dst, 0o755))
	for _, name := range []string{"manifest.json", "policy.rego"} {
		data, err := os.ReadFile(filepath.Join(src, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, name), data, 0o600))
	}

	out, err := execute(t, "policy", "hash", dst)
	require.NoError(t, err)
	assert.Contains(t, out, "bundle_id=keypackage_v0 ")
}

func TestPrintVerdictIdentityState(t *testing.T) {
	var out bytes.Buffer
	err := printVerdict(&out, domain.Verdict{
		Kind:  domain.RequestKindIdentityUpdate,
		Valid: true,
		IdentityUpdate: &domain.AssociationStateVerdict{
			Valid: true,
			State: &domain.AssociationSnapshot{InboxID: "abc", RecoveryAddress: "0x01"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "status=pass kind=identity_update")
	assert.Contains(t, out.String(), `"inbox_id": "abc"`)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("chatty")
	require.Error(t, err)
	logger, err := newLogger("DEBUG")
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
