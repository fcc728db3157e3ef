package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/eth2030/txcore/log"
)

// RPCOptions configures an RPCSource.
type RPCOptions struct {
	// RetryMaxElapsed bounds the total time spent retrying one request.
	// Zero disables retries.
	RetryMaxElapsed time.Duration
	Logger          *log.Logger
}

// RPCSource is a Source backed by a JSON-RPC endpoint.
type RPCSource struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	geth *gethclient.Client
	opts RPCOptions
	log  *log.Logger
}

// DialRPCSource connects to url.
func DialRPCSource(ctx context.Context, url string, opts RPCOptions) (*RPCSource, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("state: dial %s: %w", url, err)
	}
	return NewRPCSource(c, opts), nil
}

// NewRPCSource wraps an existing RPC client.
func NewRPCSource(c *rpc.Client, opts RPCOptions) *RPCSource {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &RPCSource{
		rpc:  c,
		eth:  ethclient.NewClient(c),
		geth: gethclient.New(c),
		opts: opts,
		log:  opts.Logger.Module("rpcsource"),
	}
}

// Close closes the underlying connection.
func (s *RPCSource) Close() { s.rpc.Close() }

// ChainID returns the remote chain id.
func (s *RPCSource) ChainID(ctx context.Context) (*big.Int, error) {
	return retry(ctx, s, "eth_chainId", func() (*big.Int, error) {
		return s.eth.ChainID(ctx)
	})
}

func (s *RPCSource) BlockNumber(ctx context.Context) (uint64, error) {
	return retry(ctx, s, "eth_blockNumber", func() (uint64, error) {
		return s.eth.BlockNumber(ctx)
	})
}

func (s *RPCSource) StorageAt(ctx context.Context, addr common.Address, key common.Hash, block *big.Int) ([]byte, error) {
	return retry(ctx, s, "eth_getStorageAt", func() ([]byte, error) {
		return s.eth.StorageAt(ctx, addr, key, block)
	})
}

func (s *RPCSource) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	return retry(ctx, s, "eth_getCode", func() ([]byte, error) {
		return s.eth.CodeAt(ctx, addr, block)
	})
}

func (s *RPCSource) GetProof(ctx context.Context, addr common.Address, keys []common.Hash, block *big.Int) (*AccountProof, error) {
	hexKeys := make([]string, len(keys))
	for i, k := range keys {
		hexKeys[i] = k.Hex()
	}
	res, err := retry(ctx, s, "eth_getProof", func() (*gethclient.AccountResult, error) {
		return s.geth.GetProof(ctx, addr, hexKeys, block)
	})
	if err != nil {
		return nil, err
	}
	return decodeAccountResult(res)
}

func decodeAccountResult(res *gethclient.AccountResult) (*AccountProof, error) {
	nodes, err := decodeNodes(res.AccountProof)
	if err != nil {
		return nil, err
	}
	out := &AccountProof{
		Address:      res.Address,
		AccountProof: nodes,
		Balance:      new(uint256.Int),
		CodeHash:     res.CodeHash,
		Nonce:        res.Nonce,
		StorageHash:  res.StorageHash,
	}
	if res.Balance != nil {
		if out.Balance.SetFromBig(res.Balance) {
			return nil, ErrBalanceOverflow
		}
	}
	for _, sp := range res.StorageProof {
		proof, err := decodeNodes(sp.Proof)
		if err != nil {
			return nil, err
		}
		val := new(uint256.Int)
		if sp.Value != nil {
			val.SetFromBig(sp.Value)
		}
		out.StorageProof = append(out.StorageProof, StorageProof{
			Key:   common.HexToHash(sp.Key),
			Value: val,
			Proof: proof,
		})
	}
	return out, nil
}

func decodeNodes(hexNodes []string) ([][]byte, error) {
	out := make([][]byte, len(hexNodes))
	for i, h := range hexNodes {
		b, err := hexutil.Decode(h)
		if err != nil {
			return nil, fmt.Errorf("state: proof node %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// retry runs op with exponential backoff until it succeeds, the context is
// done, or RetryMaxElapsed passes.
func retry[T any](ctx context.Context, s *RPCSource, method string, op func() (T, error)) (T, error) {
	if s.opts.RetryMaxElapsed <= 0 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.opts.RetryMaxElapsed
	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		s.log.Debug("rpc request failed", "method", method, "attempt", attempt, "err", err)
		return v, err
	}, backoff.WithContext(b, ctx))
}
