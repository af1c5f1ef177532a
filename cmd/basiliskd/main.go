package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"basilisk/config"
	"basilisk/core"
	"basilisk/crypto"
	"basilisk/native/jobs"
	"basilisk/observability/logging"
	"basilisk/rpc"
	"basilisk/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BASILISK_ENV"))
	logger := logging.Setup("basiliskd", env, *verbose)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Env
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err), slog.String("dataDir", cfg.DataDir))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)

	allocs, err := genesisAllocs(cfg)
	if err != nil {
		logger.Error("invalid genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.EnsureGenesis(allocs); err != nil {
		logger.Error("failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	if err := ensureMarketplaceConfig(node, cfg, logger); err != nil {
		logger.Error("failed to initialize marketplace config", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("rpcAddress", cfg.RPCAddress),
	)

	server := rpc.NewServer(node)
	server.SetLogger(logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func genesisAllocs(cfg *config.Config) ([]core.GenesisAlloc, error) {
	allocs := make([]core.GenesisAlloc, 0, len(cfg.GenesisAlloc))
	for i, entry := range cfg.GenesisAlloc {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("GenesisAlloc[%d]: %w", i, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("GenesisAlloc[%d]: invalid amount %q", i, entry.Amount)
		}
		token, err := jobs.NormalizeToken(entry.Token)
		if err != nil {
			return nil, fmt.Errorf("GenesisAlloc[%d]: %w", i, err)
		}
		var fixed [20]byte
		copy(fixed[:], addr.Bytes())
		allocs = append(allocs, core.GenesisAlloc{Address: fixed, Token: token, Amount: amount})
	}
	return allocs, nil
}

// ensureMarketplaceConfig initializes the program config from the config file
// when both Admin and Arbitrator are set and no config exists yet. Operators
// can also initialize over RPC instead.
func ensureMarketplaceConfig(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	if strings.TrimSpace(cfg.Admin) == "" || strings.TrimSpace(cfg.Arbitrator) == "" {
		return nil
	}
	admin, err := crypto.DecodeAddress(cfg.Admin)
	if err != nil {
		return fmt.Errorf("Admin: %w", err)
	}
	arbitrator, err := crypto.DecodeAddress(cfg.Arbitrator)
	if err != nil {
		return fmt.Errorf("Arbitrator: %w", err)
	}
	var adminBytes, arbitratorBytes [20]byte
	copy(adminBytes[:], admin.Bytes())
	copy(arbitratorBytes[:], arbitrator.Bytes())

	if _, err := node.JobsInitialize(adminBytes, arbitratorBytes); err != nil {
		if errors.Is(err, jobs.ErrAlreadyInitialized) {
			return nil
		}
		return err
	}
	logger.Info("marketplace config initialized",
		slog.String("admin", cfg.Admin),
		slog.String("arbitrator", cfg.Arbitrator),
	)
	return nil
}
