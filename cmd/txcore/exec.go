package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/txcore/config"
	"github.com/eth2030/txcore/core"
	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/core/types"
	"github.com/eth2030/txcore/log"
	"github.com/eth2030/txcore/metrics"
	"github.com/eth2030/txcore/params"
	"github.com/eth2030/txcore/txpool"
)

type execOptions struct {
	txs         string
	genesis     string
	dump        string
	number      uint64
	timestamp   uint64
	coinbase    string
	baseFee     uint64
	skipBalance bool
	skipNonce   bool
}

func newExecCmd() *cobra.Command {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Pool, order and execute a batch of raw transactions as one block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runExec(cmd.Context(), cmd.OutOrStdout(), cfg, logger, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.txs, "txs", "", "file with one 0x-prefixed raw transaction per line")
	fs.StringVar(&opts.genesis, "genesis", "", "JSON state dump to start from")
	fs.StringVar(&opts.dump, "dump", "", "write the resulting state dump to this file")
	fs.Uint64Var(&opts.number, "block.number", 1, "block number")
	fs.Uint64Var(&opts.timestamp, "block.timestamp", 0, "block timestamp")
	fs.StringVar(&opts.coinbase, "block.coinbase", "", "fee recipient")
	fs.Uint64Var(&opts.baseFee, "block.basefee", 0, "base fee per gas in wei")
	fs.BoolVar(&opts.skipBalance, "skip-balance", false, "waive sender balance checks")
	fs.BoolVar(&opts.skipNonce, "skip-nonce", false, "waive sender nonce checks")
	if err := cmd.MarkFlagRequired("txs"); err != nil {
		panic(err)
	}
	return cmd
}

// runExec runs the batch alongside the metrics endpoint when enabled. The
// endpoint is shut down once the batch finishes.
func runExec(ctx context.Context, out io.Writer, cfg config.Config, logger *log.Logger, opts execOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
			return metrics.Serve(gctx, cfg.Metrics.Addr)
		})
	}
	g.Go(func() error {
		defer cancel()
		return execute(gctx, out, cfg, logger, opts)
	})
	return g.Wait()
}

type rejectedTx struct {
	Hash  common.Hash `json:"hash"`
	Error string      `json:"error"`
}

type execResult struct {
	StateRoot common.Hash          `json:"stateRoot"`
	GasUsed   hexutil.Uint64       `json:"gasUsed"`
	Receipts  []*gethtypes.Receipt `json:"receipts"`
	Rejected  []rejectedTx         `json:"rejected,omitempty"`
}

func execute(ctx context.Context, out io.Writer, cfg config.Config, logger *log.Logger, opts execOptions) error {
	rules, err := cfg.ChainRules()
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.genesis != "" {
		if err := loadGenesis(ctx, store, opts.genesis); err != nil {
			return err
		}
	}

	vm := core.NewVM(store, core.Config{Chain: rules, Logger: logger})
	var verifier txpool.BlobVerifier
	if cfg.Pool.VerifyBlobProofs {
		v, err := txpool.NewKZGVerifier()
		if err != nil {
			return err
		}
		verifier = v
	}
	pool := txpool.New(cfg.TxPool(verifier, logger), vm)

	txs, err := readTxs(opts.txs)
	if err != nil {
		return err
	}
	var result execResult
	for _, tx := range txs {
		err := pool.Add(ctx, tx, txpool.AddOptions{RequireSignature: true, SkipBalance: opts.skipBalance, Local: true})
		if err != nil {
			result.Rejected = append(result.Rejected, rejectedTx{Hash: tx.Hash(), Error: err.Error()})
		}
	}

	block := newBlock(rules.Hardfork, opts)
	allowed := params.MaxBlobsPerBlock
	block.Transactions = pool.TxsByPriceAndNonce(txpool.OrderOptions{BaseFee: block.BaseFee(), AllowedBlobs: &allowed})

	results, err := vm.RunBlock(ctx, block, core.RunBlockOpts{SkipBalance: opts.skipBalance, SkipNonce: opts.skipNonce})
	if err != nil {
		return err
	}
	pool.RemoveNewBlockTxs([]*types.Block{block})

	var prev uint64
	for i, res := range results {
		r := res.Receipt.ToGeth()
		r.TxHash = block.Transactions[i].Hash()
		r.GasUsed = r.CumulativeGasUsed - prev
		r.TransactionIndex = uint(i)
		r.BlockNumber = new(big.Int).SetUint64(opts.number)
		if r.Logs == nil {
			r.Logs = []*gethtypes.Log{}
		}
		prev = r.CumulativeGasUsed
		result.Receipts = append(result.Receipts, r)
	}
	result.GasUsed = hexutil.Uint64(prev)
	if result.StateRoot, err = store.StateRoot(ctx); err != nil {
		return err
	}
	logger.Info("executed block", "number", opts.number, "txs", len(results), "rejected", len(result.Rejected), "gas", prev, "root", result.StateRoot)

	if opts.dump != "" {
		if err := dumpState(ctx, store, opts.dump); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// openStore returns a local store, or one forked from cfg.Fork.URL.
func openStore(ctx context.Context, cfg config.Config, logger *log.Logger) (*state.Store, func(), error) {
	if cfg.Fork.URL == "" {
		store, err := state.New(cfg.StateOptions(nil, logger))
		return store, func() {}, err
	}
	src, err := state.DialRPCSource(ctx, cfg.Fork.URL, cfg.RPCOptions(logger))
	if err != nil {
		return nil, nil, err
	}
	store, err := state.New(cfg.StateOptions(src, logger))
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	if err := store.Lock(ctx); err != nil {
		src.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Unlock()
		src.Close()
	}, nil
}

func loadGenesis(ctx context.Context, store *state.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var genesis state.Genesis
	if err := json.Unmarshal(raw, &genesis); err != nil {
		return fmt.Errorf("decode genesis %s: %w", path, err)
	}
	store.Checkpoint()
	if err := store.GenerateCanonicalGenesis(ctx, genesis); err != nil {
		return errors.Join(err, store.Revert())
	}
	return store.Commit()
}

func dumpState(ctx context.Context, store *state.Store, path string) error {
	genesis, err := store.DumpCanonicalGenesis(ctx)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// readTxs decodes one raw transaction per non-empty line. Lines starting
// with # are skipped.
func readTxs(path string) ([]*types.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var txs []*types.Transaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*txpool.MaxDataBytes)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		raw, err := hexutil.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		tx, err := types.DecodeTx(raw)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		txs = append(txs, tx)
	}
	return txs, scanner.Err()
}

func newBlock(fork params.Hardfork, opts execOptions) *types.Block {
	block := types.NewEmptyBlock(fork)
	block.Header.Number = new(big.Int).SetUint64(opts.number)
	block.Header.Time = opts.timestamp
	if opts.coinbase != "" {
		block.Header.Coinbase = common.HexToAddress(opts.coinbase)
	}
	if block.Header.BaseFee != nil {
		block.Header.BaseFee = new(big.Int).SetUint64(opts.baseFee)
	}
	return block
}
