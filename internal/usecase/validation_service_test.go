package usecase

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mlsvalidation/internal/domain"
	"mlsvalidation/internal/infra/mlswire"
	"mlsvalidation/pkg/signing"
)

type metricsRecorder struct {
	mu       sync.Mutex
	verdicts map[string]int
	batches  []int
}

func (m *metricsRecorder) ObserveVerdict(kind domain.RequestKind, valid bool, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.verdicts == nil {
		m.verdicts = make(map[string]int)
	}
	outcome := "valid"
	if !valid {
		outcome = code
	}
	m.verdicts[string(kind)+"/"+outcome]++
}

func (m *metricsRecorder) ObserveBatch(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, size)
}

func newTestService(t *testing.T, metrics Metrics) *ValidationService {
	t.Helper()
	return &ValidationService{
		Identity:    newIdentityValidator(nil),
		MLS:         newMLSValidator(nil),
		Concurrency: 3,
		Metrics:     metrics,
	}
}

func TestValidationService_MixedBatchKeepsOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIdentityFixture(t)
	good := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))
	message, err := mlswire.BuildPrivateMessage(mlswire.PrivateMessageParams{
		GroupID: []byte("g"), Epoch: 1, ContentType: mlswire.ContentApplication, Ciphertext: []byte{9},
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	log := f.log(f.create(1), f.update(2, func(b *signing.UpdateBuilder) {
		b.AddAssociation(f.wallet, f.second, nil)
	}))

	requests := []domain.ValidationRequest{
		{Kind: domain.RequestKindKeyPackage, KeyPackage: good},
		{Kind: domain.RequestKindKeyPackage, KeyPackage: good[:len(good)-10]},
		{Kind: domain.RequestKindGroupMessage, GroupMessage: &domain.GroupMessageRequest{Data: message}},
		{Kind: domain.RequestKindIdentityUpdate, UpdateLog: &log},
		{Kind: domain.RequestKindKeyPackage, KeyPackage: good},
	}
	metrics := &metricsRecorder{}
	verdicts := newTestService(t, metrics).ValidateBatch(context.Background(), requests)

	if len(verdicts) != len(requests) {
		t.Fatalf("expected %d verdicts, got %d", len(requests), len(verdicts))
	}
	for i, v := range verdicts {
		if v.Index != i || v.Kind != requests[i].Kind {
			t.Fatalf("verdict %d answers index %d kind %s", i, v.Index, v.Kind)
		}
		wantValid := i != 1
		if v.Valid != wantValid {
			t.Fatalf("verdict %d: expected valid=%v, got %+v", i, wantValid, v.Error)
		}
	}
	if verdicts[1].Error == nil || verdicts[1].Error.Code != "MALFORMED_ENCODING" || verdicts[1].Error.Retryable {
		t.Fatalf("unexpected error for truncated key package: %+v", verdicts[1].Error)
	}
	if verdicts[1].KeyPackage == nil || verdicts[1].KeyPackage.Valid {
		t.Fatalf("expected per-kind payload on failed item")
	}
	state := verdicts[3].IdentityUpdate.State
	if state == nil || state.InboxID != f.inboxID || len(state.Members) != 3 {
		t.Fatalf("unexpected association state %+v", state)
	}
	if len(metrics.batches) != 1 || metrics.batches[0] != 5 {
		t.Fatalf("expected one batch of 5, got %v", metrics.batches)
	}
	if metrics.verdicts["key_package/valid"] != 2 || metrics.verdicts["key_package/MALFORMED_ENCODING"] != 1 {
		t.Fatalf("unexpected verdict metrics %v", metrics.verdicts)
	}
}

func TestValidationService_OracleTimeoutIsolatedToItem(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIdentityFixture(t)
	good := buildTestKeyPackage(t, mlsNow.Add(24*time.Hour))
	contract := f.log(f.create(1), f.contractAdd(2))
	plain := f.log(f.create(1))

	svc := newTestService(t, nil)
	svc.Identity = newIdentityValidator(stubOracle{err: context.DeadlineExceeded})
	verdicts := svc.ValidateBatch(context.Background(), []domain.ValidationRequest{
		{Kind: domain.RequestKindKeyPackage, KeyPackage: good},
		{Kind: domain.RequestKindIdentityUpdate, UpdateLog: &contract},
		{Kind: domain.RequestKindIdentityUpdate, UpdateLog: &plain},
	})

	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	if !verdicts[0].Valid || !verdicts[2].Valid {
		t.Fatalf("expected siblings to stay valid, got %+v %+v", verdicts[0].Error, verdicts[2].Error)
	}
	e := verdicts[1].Error
	if verdicts[1].Valid || e == nil || e.Code != "ORACLE_UNAVAILABLE" || !e.Retryable {
		t.Fatalf("expected retryable ORACLE_UNAVAILABLE, got %+v", e)
	}
	if e.UpdateIndex == nil || *e.UpdateIndex != 1 {
		t.Fatalf("expected failure positioned at update 1, got %+v", e)
	}
}

func TestValidationService_MissingPayloadAndUnknownKind(t *testing.T) {
	verdicts := newTestService(t, nil).ValidateBatch(context.Background(), []domain.ValidationRequest{
		{Kind: domain.RequestKindGroupMessage},
		{Kind: domain.RequestKindIdentityUpdate},
		{Kind: "welcome"},
	})
	want := []string{"MALFORMED_ENCODING", "EMPTY_LOG", "UNSUPPORTED_KIND"}
	for i, code := range want {
		if verdicts[i].Valid || verdicts[i].Error == nil || verdicts[i].Error.Code != code {
			t.Fatalf("verdict %d: expected %s, got %+v", i, code, verdicts[i].Error)
		}
	}
}

type panickingProtocol struct {
	poison []byte
}

func (p panickingProtocol) VerifyKeyPackage(data []byte, now time.Time) (domain.KeyPackageInfo, error) {
	if bytes.Equal(data, p.poison) {
		panic("decoder blew up")
	}
	return domain.KeyPackageInfo{CipherSuite: domain.CipherSuiteX25519AES128SHA256Ed25519}, nil
}

func (p panickingProtocol) ParseGroupMessage(data []byte) (domain.GroupMessageInfo, error) {
	return domain.GroupMessageInfo{}, nil
}

func TestValidationService_PanicIsolatedToItem(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := &ValidationService{MLS: &MLSValidator{Protocol: panickingProtocol{poison: []byte{0xde, 0xad}}}}
	verdicts := svc.ValidateKeyPackages(context.Background(), [][]byte{{1}, {0xde, 0xad}, {2}})

	if !verdicts[0].Valid || !verdicts[2].Valid {
		t.Fatalf("neighbours of a panicking item must still validate: %+v", verdicts)
	}
	if verdicts[1].Valid || verdicts[1].Error == nil || verdicts[1].Error.Kind != domain.KindInternal {
		t.Fatalf("expected internal error for panicking item, got %+v", verdicts[1])
	}
}

func TestValidationService_IdentityUpdates(t *testing.T) {
	f := newIdentityFixture(t)
	ok := f.log(f.create(1))
	bad := f.log(f.create(3), f.update(2, func(b *signing.UpdateBuilder) {
		b.AddAssociation(f.wallet, f.second, nil)
	}))

	verdicts := newTestService(t, nil).ValidateIdentityUpdates(context.Background(), []domain.UpdateLog{ok, bad})
	if !verdicts[0].Valid || verdicts[0].State == nil {
		t.Fatalf("expected first log valid, got %+v", verdicts[0].Error)
	}
	detail := verdicts[1].Error
	if verdicts[1].Valid || detail == nil || detail.Code != "SEQUENCE_OUT_OF_ORDER" {
		t.Fatalf("expected out of order sequence, got %+v", detail)
	}
	if detail.UpdateIndex == nil || *detail.UpdateIndex != 1 {
		t.Fatalf("expected position on update 1, got %+v", detail)
	}
}

func TestValidationService_GroupMessages(t *testing.T) {
	message, err := mlswire.BuildPrivateMessage(mlswire.PrivateMessageParams{
		GroupID: []byte("g"), Epoch: 4, ContentType: mlswire.ContentCommit, Ciphertext: []byte{9},
	})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	epoch := uint64(3)
	verdicts := newTestService(t, nil).ValidateGroupMessages(context.Background(), []domain.GroupMessageRequest{
		{Data: message},
		{Data: message, Context: domain.GroupContext{Epoch: &epoch}},
	})
	if !verdicts[0].Valid || verdicts[0].Info.Epoch != 4 {
		t.Fatalf("unexpected first verdict %+v", verdicts[0])
	}
	if verdicts[1].Valid || verdicts[1].Error.Code != "EPOCH_MISMATCH" {
		t.Fatalf("expected epoch mismatch, got %+v", verdicts[1].Error)
	}
}
