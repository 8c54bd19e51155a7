// Package chain answers ERC-1271 isValidSignature queries over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mlsvalidation/internal/domain"
)

// MagicValue is returned by isValidSignature for a valid signature.
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const erc1271ABI = `[{"type":"function","name":"isValidSignature","stateMutability":"view",
"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],
"outputs":[{"name":"magicValue","type":"bytes4"}]}]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc1271ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Caller is the slice of ethclient.Client the oracle needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Observer receives one call per contract query.
type Observer interface {
	ObserveOracleCall(chainID, outcome string, elapsed time.Duration)
}

type Options struct {
	Timeout time.Duration
	// RPS caps queries per chain; zero disables throttling.
	RPS    float64
	Logger *zap.Logger
	Obs    Observer
}

type endpoint struct {
	caller  Caller
	limiter *rate.Limiter
}

// Oracle routes queries to one RPC endpoint per CAIP-2 chain id.
type Oracle struct {
	mu        sync.RWMutex
	endpoints map[string]endpoint
	timeout   time.Duration
	rps       float64
	logger    *zap.Logger
	obs       Observer
}

func NewOracle(opts Options) *Oracle {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		endpoints: make(map[string]endpoint),
		timeout:   opts.Timeout,
		rps:       opts.RPS,
		logger:    logger,
		obs:       opts.Obs,
	}
}

// Dial connects every chain in urls (chain id -> RPC URL).
func Dial(ctx context.Context, urls map[string]string, opts Options) (*Oracle, error) {
	o := NewOracle(opts)
	for chainID, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("dial %s: %w", chainID, err)
		}
		o.Register(chainID, client)
	}
	return o, nil
}

func (o *Oracle) Register(chainID string, caller Caller) {
	var limiter *rate.Limiter
	if o.rps > 0 {
		burst := int(o.rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.rps), burst)
	}
	o.mu.Lock()
	o.endpoints[chainID] = endpoint{caller: caller, limiter: limiter}
	o.mu.Unlock()
}

func (o *Oracle) Chains() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.endpoints))
	for id := range o.endpoints {
		out = append(out, id)
	}
	return out
}

func (o *Oracle) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ep := range o.endpoints {
		if c, ok := ep.caller.(*ethclient.Client); ok {
			c.Close()
		}
		delete(o.endpoints, id)
	}
}

func (o *Oracle) IsValidSignature(ctx context.Context, chainID, account string, digest [32]byte, signature []byte, block *uint64) (bool, error) {
	o.mu.RLock()
	ep, ok := o.endpoints[chainID]
	o.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: chain %s not configured", domain.ErrSchemeMismatch, chainID)
	}
	if !common.IsHexAddress(account) {
		return false, fmt.Errorf("%w: account %q", domain.ErrMalformedSignature, account)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	if ep.limiter != nil {
		if err := ep.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	data, err := parsedABI.Pack("isValidSignature", digest, signature)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrMalformedSignature, err)
	}
	to := common.HexToAddress(account)
	var number *big.Int
	if block != nil {
		number = new(big.Int).SetUint64(*block)
	}

	start := time.Now()
	out, err := ep.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, number)
	elapsed := time.Since(start)
	if err != nil {
		if isRevert(err) {
			o.observe(chainID, "reverted", elapsed)
			o.logger.Debug("isValidSignature reverted", zap.String("chain_id", chainID), zap.String("account", account), zap.Error(err))
			return false, nil
		}
		o.observe(chainID, "error", elapsed)
		return false, err
	}

	valid := matchesMagic(out)
	if valid {
		o.observe(chainID, "valid", elapsed)
	} else {
		o.observe(chainID, "invalid", elapsed)
	}
	return valid, nil
}

func (o *Oracle) observe(chainID, outcome string, elapsed time.Duration) {
	if o.obs != nil {
		o.obs.ObserveOracleCall(chainID, outcome, elapsed)
	}
}

// matchesMagic reports whether the ABI-encoded bytes4 result is MagicValue.
// Contracts without code return empty output, which is not valid.
func matchesMagic(out []byte) bool {
	if len(out) < 32 {
		return false
	}
	values, err := parsedABI.Unpack("isValidSignature", out)
	if err != nil || len(values) != 1 {
		return false
	}
	got, ok := values[0].([4]byte)
	return ok && got == MagicValue
}

func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
