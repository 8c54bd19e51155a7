package usecase

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/infra/mlswire"
)

var mlsNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func buildTestKeyPackage(t *testing.T, notAfter time.Time) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	initKey := make([]byte, 32)
	encKey := make([]byte, 32)
	_, _ = rand.Read(initKey)
	_, _ = rand.Read(encKey)
	raw, err := mlswire.BuildKeyPackage(mlswire.KeyPackageParams{
		CipherSuite:   0x0001,
		SigningKey:    priv,
		InitKey:       initKey,
		EncryptionKey: encKey,
		Identity:      []byte("inbox-1"),
		NotBefore:     mlsNow.Add(-time.Hour),
		NotAfter:      notAfter,
	})
	if err != nil {
		t.Fatalf("build key package: %v", err)
	}
	return raw
}

func newMLSValidator(policy PolicyEngine) *MLSValidator {
	return &MLSValidator{
		Protocol: mlswire.Parser{},
		Policy:   policy,
		Now:      func() time.Time { return mlsNow },
	}
}

type policyStub struct {
	result domain.PolicyResult
	err    error
	inputs []domain.KeyPackageInfo
	nows   []time.Time
}

func (p *policyStub) EvaluateKeyPackage(ctx context.Context, info domain.KeyPackageInfo, now time.Time) (domain.PolicyEvaluation, error) {
	p.inputs = append(p.inputs, info)
	p.nows = append(p.nows, now)
	return domain.PolicyEvaluation{BundleHash: "test", Result: p.result}, p.err
}

type protocolStub struct {
	err error
}

func (p protocolStub) VerifyKeyPackage(data []byte, now time.Time) (domain.KeyPackageInfo, error) {
	return domain.KeyPackageInfo{}, p.err
}

func (p protocolStub) ParseGroupMessage(data []byte) (domain.GroupMessageInfo, error) {
	return domain.GroupMessageInfo{}, p.err
}

func TestMLSValidator_KeyPackage(t *testing.T) {
	raw := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))
	info, err := newMLSValidator(nil).ValidateKeyPackage(context.Background(), raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if string(info.CredentialIdentity) != "inbox-1" || len(info.InstallationKey) != ed25519.PublicKeySize {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestMLSValidator_KeyPackageErrors(t *testing.T) {
	valid := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "empty", data: nil, want: domain.ErrMalformedEncoding},
		{name: "truncated signature", data: valid[:len(valid)-10], want: domain.ErrMalformedEncoding},
		{name: "expired", data: buildTestKeyPackage(t, mlsNow.Add(-time.Minute)), want: domain.ErrInvalidCredential},
		{name: "unsupported version", data: append([]byte{0x00, 0x02}, valid[2:]...), want: domain.ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newMLSValidator(nil).ValidateKeyPackage(context.Background(), tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMLSValidator_UnknownProtocolErrorIsInternal(t *testing.T) {
	v := &MLSValidator{Protocol: protocolStub{err: errors.New("boom")}}
	_, err := v.ValidateKeyPackage(context.Background(), []byte{1})
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Fatal("internal errors are not retryable")
	}
}

func TestMLSValidator_PolicyGate(t *testing.T) {
	raw := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))

	allow := &policyStub{result: domain.PolicyResult{Allow: true}}
	if _, err := newMLSValidator(allow).ValidateKeyPackage(context.Background(), raw); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(allow.inputs) != 1 || allow.inputs[0].CipherSuite != 1 || !allow.nows[0].Equal(mlsNow) {
		t.Fatalf("unexpected policy input %+v", allow.inputs)
	}

	deny := &policyStub{result: domain.PolicyResult{Deny: []domain.PolicyDeny{{Code: "LIFETIME_TOO_LONG"}}}}
	_, err := newMLSValidator(deny).ValidateKeyPackage(context.Background(), raw)
	if !errors.Is(err, domain.ErrPolicyDenied) {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
	if domain.Describe(err).Kind != domain.KindPolicy {
		t.Fatalf("expected policy kind, got %+v", domain.Describe(err))
	}

	broken := &policyStub{err: errors.New("bundle missing")}
	_, err = newMLSValidator(broken).ValidateKeyPackage(context.Background(), raw)
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestMLSValidator_GroupMessage(t *testing.T) {
	groupID := []byte("group-a")
	raw, err := mlswire.BuildPrivateMessage(mlswire.PrivateMessageParams{
		GroupID:             groupID,
		Epoch:               7,
		ContentType:         mlswire.ContentApplication,
		EncryptedSenderData: []byte{1, 2, 3},
		Ciphertext:          []byte{4, 5, 6},
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	epoch := uint64(7)
	wrongEpoch := uint64(8)

	tests := []struct {
		name  string
		group domain.GroupContext
		want  error
	}{
		{name: "no expectations", group: domain.GroupContext{}},
		{name: "matching", group: domain.GroupContext{GroupID: groupID, Epoch: &epoch}},
		{name: "other group", group: domain.GroupContext{GroupID: []byte("group-b")}, want: domain.ErrGroupMismatch},
		{name: "stale epoch", group: domain.GroupContext{GroupID: groupID, Epoch: &wrongEpoch}, want: domain.ErrEpochMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := newMLSValidator(nil).ValidateGroupMessage(context.Background(), raw, tt.group)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				if info.Epoch != 7 || info.WireFormat != domain.WireFormatPrivateMessage {
					t.Fatalf("unexpected info %+v", info)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMLSValidator_KeyPackageIsNotAGroupMessage(t *testing.T) {
	raw := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))
	wrapped := append([]byte{0x00, 0x01, 0x00, 0x05}, raw...)
	_, err := newMLSValidator(nil).ValidateGroupMessage(context.Background(), wrapped, domain.GroupContext{})
	if !errors.Is(err, domain.ErrUnsupportedWire) {
		t.Fatalf("expected ErrUnsupportedWire, got %v", err)
	}
}
