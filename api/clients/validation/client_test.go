package validation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlsvalidation/internal/config"
	"mlsvalidation/internal/domain"
	httpinfra "mlsvalidation/internal/infra/http"
	"mlsvalidation/internal/infra/mlswire"
	"mlsvalidation/internal/signature"
	"mlsvalidation/internal/usecase"
	"mlsvalidation/pkg/signing"
)

func newTestClient(t *testing.T, cfg config.Config) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := &usecase.ValidationService{
		Identity: &usecase.IdentityUpdateValidator{
			Verifier:   signature.NewVerifier(nil, signature.DefaultRetryPolicy(), nil),
			MaxUpdates: 16,
		},
		MLS: &usecase.MLSValidator{Protocol: mlswire.Parser{}},
	}
	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{Service: svc, Gatherer: prometheus.NewRegistry()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL+"/", WithRequestID(func() string { return "client-req" }))
}

func TestValidateIdentityUpdatesRoundTrip(t *testing.T) {
	walletKey, err := signing.GenerateWalletKey()
	require.NoError(t, err)
	installKey, err := signing.GenerateInstallationKey()
	require.NoError(t, err)
	wallet := signing.WalletSigner{Key: walletKey}
	install := signing.InstallationSigner{Key: installKey}

	inboxID := domain.InboxID(wallet.Member().Value, 0)
	update, err := signing.NewUpdate(inboxID, 1, 1_000).CreateIdentity(wallet, 0, install).Build()
	require.NoError(t, err)

	verdicts, err := newTestClient(t, config.Config{}).ValidateIdentityUpdates(context.Background(), []domain.UpdateLog{
		{InboxID: inboxID, Updates: []domain.IdentityUpdate{update}},
		{InboxID: inboxID},
	})
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	require.True(t, verdicts[0].Valid, "%+v", verdicts[0].Error)
	assert.Equal(t, inboxID, verdicts[0].State.InboxID)
	assert.Len(t, verdicts[0].State.Members, 2)

	assert.False(t, verdicts[1].Valid)
	assert.Equal(t, "EMPTY_LOG", verdicts[1].Error.Code)
}

func TestValidateKeyPackagesReportsPerItem(t *testing.T) {
	verdicts, err := newTestClient(t, config.Config{}).ValidateKeyPackages(context.Background(), [][]byte{{0x00, 0x01}})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Valid)
	assert.Equal(t, "MALFORMED_ENCODING", verdicts[0].Error.Code)
}

func TestValidateBatchTooLarge(t *testing.T) {
	client := newTestClient(t, config.Config{MaxBatchSize: 1})
	_, err := client.ValidateBatch(context.Background(), []domain.ValidationRequest{
		{Kind: domain.RequestKindKeyPackage, KeyPackage: []byte{1}},
		{Kind: domain.RequestKindKeyPackage, KeyPackage: []byte{2}},
	})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "BATCH_TOO_LARGE", apiErr.Code)
	assert.Equal(t, "client-req", apiErr.RequestID)
	assert.False(t, apiErr.Retryable())
}

func TestClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient("").ValidateBatch(context.Background(), nil)
	require.Error(t, err)
}
