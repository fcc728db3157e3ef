package main

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/eth2030/txcore/core/state"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeTxs(t *testing.T, dir string, txs ...*gethtypes.Transaction) string {
	t.Helper()
	var lines []string
	lines = append(lines, "# transfers")
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		lines = append(lines, hexutil.Encode(raw))
	}
	path := filepath.Join(dir, "txs.hex")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, version)
}

func TestExec(t *testing.T) {
	key, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0xb0b")
	dir := t.TempDir()

	genesis := state.Genesis{from: {Balance: (*hexutil.Big)(big.NewInt(1e18))}}
	raw, err := json.Marshal(genesis)
	require.NoError(t, err)
	genesisPath := filepath.Join(dir, "genesis.json")
	require.NoError(t, os.WriteFile(genesisPath, raw, 0o644))

	signer := gethtypes.LatestSignerForChainID(big.NewInt(1))
	sign := func(nonce uint64, price int64) *gethtypes.Transaction {
		tx, err := gethtypes.SignNewTx(key, signer, &gethtypes.LegacyTx{
			Nonce: nonce, GasPrice: big.NewInt(price), Gas: 21000, To: &to, Value: big.NewInt(1000),
		})
		require.NoError(t, err)
		return tx
	}
	// The third repeats nonce 0 without a price bump.
	txsPath := writeTxs(t, dir, sign(1, 2e9), sign(0, 1e9), sign(0, 1e9+1))
	dumpPath := filepath.Join(dir, "dump.json")

	out, err := runCmd(t, "exec",
		"--txs", txsPath, "--genesis", genesisPath, "--dump", dumpPath,
		"--block.coinbase", "0xc0ffee", "--log.level", "error")
	require.NoError(t, err)

	var res struct {
		StateRoot common.Hash    `json:"stateRoot"`
		GasUsed   hexutil.Uint64 `json:"gasUsed"`
		Receipts  []struct {
			Status  hexutil.Uint64 `json:"status"`
			GasUsed hexutil.Uint64 `json:"gasUsed"`
		} `json:"receipts"`
		Rejected []rejectedTx `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, hexutil.Uint64(42000), res.GasUsed)
	require.Len(t, res.Receipts, 2)
	for _, r := range res.Receipts {
		require.Equal(t, hexutil.Uint64(1), r.Status)
		require.Equal(t, hexutil.Uint64(21000), r.GasUsed)
	}
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Error, "replacement transaction underpriced")
	require.NotEqual(t, common.Hash{}, res.StateRoot)

	raw, err = os.ReadFile(dumpPath)
	require.NoError(t, err)
	var dumped state.Genesis
	require.NoError(t, json.Unmarshal(raw, &dumped))
	require.Equal(t, int64(2000), dumped[to].Balance.ToInt().Int64())
	require.Equal(t, hexutil.Uint64(2), dumped[from].Nonce)
}

func TestExecRequiresTxs(t *testing.T) {
	_, err := runCmd(t, "exec", "--log.level", "error")
	require.Error(t, err)
}

func TestExecInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txs.hex")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := runCmd(t, "exec", "--txs", path, "--chain.hardfork", "nope")
	require.ErrorContains(t, err, "unknown hardfork")
}
