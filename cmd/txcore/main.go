// Command txcore executes batches of signed transactions against a state
// snapshot or a forked remote chain.
//
// Usage:
//
//	txcore exec --txs txs.hex [--genesis alloc.json] [--dump out.json] [flags]
//	txcore version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/eth2030/txcore/config"
	"github.com/eth2030/txcore/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. It takes the CLI
// arguments without the program name so it can be tested in isolation.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "txcore",
		Short:         "Ethereum transaction execution core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	withConfigFlags(root.PersistentFlags())
	root.AddCommand(newExecCmd(), newVersionCmd())
	return root
}

// withConfigFlags registers the flags that override config keys. Flag names
// are the config keys themselves.
func withConfigFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.Uint64("chain.id", def.Chain.ID, "chain id")
	fs.String("chain.hardfork", def.Chain.Hardfork, "hardfork rules to execute under")
	fs.String("chain.consensus", def.Chain.Consensus, "consensus (pow, pos, clique)")
	fs.String("fork.url", def.Fork.URL, "JSON-RPC endpoint to fork state from")
	fs.Uint64("fork.block", def.Fork.Block, "block to pin forked reads to (0 follows the head)")
	fs.Bool("pool.verify_blob_proofs", def.Pool.VerifyBlobProofs, "verify blob sidecar KZG proofs")
	fs.String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log.format", def.Log.Format, "log format (json, text)")
	fs.Bool("metrics.enabled", def.Metrics.Enabled, "serve Prometheus metrics")
	fs.String("metrics.addr", def.Metrics.Addr, "metrics listen address")
}

// loadConfig resolves the configuration for cmd and installs its logger as
// the process default.
func loadConfig(cmd *cobra.Command) (config.Config, *log.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, err
	}
	log.SetDefault(logger)
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "txcore %s (commit %s)\n", version, commit)
		},
	}
}
