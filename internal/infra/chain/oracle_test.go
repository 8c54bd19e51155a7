package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlsvalidation/internal/domain"
)

const account = "0x00000000000000000000000000000000000000aa"

type fakeCaller struct {
	out   []byte
	err   error
	msg   ethereum.CallMsg
	block *big.Int
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.msg = msg
	f.block = blockNumber
	return f.out, f.err
}

type revertError struct{}

func (revertError) Error() string  { return "execution reverted: bad signature" }
func (revertError) ErrorCode() int { return 3 }

type recorder struct {
	outcomes []string
}

func (r *recorder) ObserveOracleCall(chainID, outcome string, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, chainID+":"+outcome)
}

func encodeResult(t *testing.T, value [4]byte) []byte {
	t.Helper()
	out, err := parsedABI.Methods["isValidSignature"].Outputs.Pack(value)
	require.NoError(t, err)
	return out
}

func TestOracleMagicValue(t *testing.T) {
	rec := &recorder{}
	o := NewOracle(Options{Obs: rec})
	caller := &fakeCaller{out: encodeResult(t, MagicValue)}
	o.Register("eip155:1", caller)

	block := uint64(1234)
	ok, err := o.IsValidSignature(context.Background(), "eip155:1", account, [32]byte{1}, []byte{9}, &block)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1234), caller.block.Int64())
	require.NotNil(t, caller.msg.To)
	assert.Equal(t, parsedABI.Methods["isValidSignature"].ID, caller.msg.Data[:4])
	assert.Equal(t, []string{"eip155:1:valid"}, rec.outcomes)
}

func TestOracleOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		caller *fakeCaller
		wantOK bool
		anyErr bool
	}{
		{name: "other value", caller: &fakeCaller{out: nil}, wantOK: false},
		{name: "revert", caller: &fakeCaller{err: revertError{}}, wantOK: false},
		{name: "transport", caller: &fakeCaller{err: errors.New("dial tcp: refused")}, anyErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOracle(Options{Timeout: time.Second})
			o.Register("eip155:8453", tt.caller)
			ok, err := o.IsValidSignature(context.Background(), "eip155:8453", account, [32]byte{}, []byte{1}, nil)
			if tt.anyErr {
				require.Error(t, err)
				assert.False(t, errors.Is(err, domain.ErrSchemeMismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Nil(t, tt.caller.block)
		})
	}

	t.Run("wrong magic", func(t *testing.T) {
		o := NewOracle(Options{})
		o.Register("eip155:1", &fakeCaller{out: encodeResult(t, [4]byte{0xff, 0xff, 0xff, 0xff})})
		ok, err := o.IsValidSignature(context.Background(), "eip155:1", account, [32]byte{}, []byte{1}, nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestOracleUnknownChain(t *testing.T) {
	o := NewOracle(Options{})
	_, err := o.IsValidSignature(context.Background(), "eip155:10", account, [32]byte{}, []byte{1}, nil)
	assert.ErrorIs(t, err, domain.ErrSchemeMismatch)
}

func TestOracleThrottleHonoursContext(t *testing.T) {
	o := NewOracle(Options{RPS: 0.001})
	o.Register("eip155:1", &fakeCaller{out: encodeResult(t, MagicValue)})

	_, err := o.IsValidSignature(context.Background(), "eip155:1", account, [32]byte{}, []byte{1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = o.IsValidSignature(ctx, "eip155:1", account, [32]byte{}, []byte{1}, nil)
	require.Error(t, err)
}
