// Command deployer-cli is the operator's one-shot control surface: inspect
// the deployer pool and round state, and create, extend, or inspect the
// acceleration index without starting the daemon loop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"griddeployer/ledger"
	"griddeployer/scheduler"
	deployerd "griddeployer/services/deployerd"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}
	cfgPath := "services/deployerd/config.yaml"
	if len(args) >= 2 && args[0] == "-config" {
		cfgPath = args[1]
		args = args[2:]
		if len(args) < 1 {
			printUsage()
			os.Exit(1)
		}
	}

	command := args[0]
	if err := run(cfgPath, command, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "deployer-cli: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, command string, args []string) error {
	cfg, err := deployerd.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	signer, err := ledger.SignerFromHex(cfg.SignerKey)
	if err != nil {
		return err
	}
	reader := ledger.NewRPCClient(cfg.RPCEndpoint,
		ledger.WithCallTimeout(cfg.RPC.CallTimeout.Duration),
		ledger.WithRateLimit(cfg.RPC.RateLimit, cfg.RPC.RateBurst),
	)
	sched, err := scheduler.New(schedCfg, reader, signer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch command {
	case "deployers":
		if err := sched.Bootstrap(ctx); err != nil {
			return err
		}
		summaries, err := deployerSummaries(ctx, sched.Deployers(), reader)
		if err != nil {
			return err
		}
		return printJSON(summaries)
	case "round":
		monitor := scheduler.NewRoundMonitor(reader, schedCfg.Board, schedCfg.IntermissionWindow)
		state, err := monitor.Poll(ctx)
		if err != nil {
			return err
		}
		return printJSON(state)
	case "table":
		if len(args) < 1 {
			return fmt.Errorf("table requires a subcommand: create, extend, or inspect")
		}
		return runTable(ctx, sched, schedCfg, args[0])
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runTable(ctx context.Context, sched *scheduler.Scheduler, cfg scheduler.Config, sub string) error {
	lookup := sched.Lookup()
	switch sub {
	case "create":
		table, err := lookup.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Println(table.String())
		return nil
	case "extend":
		if cfg.TableAddress.IsZero() {
			return fmt.Errorf("extend requires lookup_table in the configuration")
		}
		if err := sched.Bootstrap(ctx); err != nil {
			return err
		}
		if !lookup.Loaded() {
			return fmt.Errorf("lookup table %s could not be loaded", cfg.TableAddress)
		}
		var candidates []ledger.Address
		for _, dep := range sched.Deployers() {
			candidates = append(candidates, dep.Authority, dep.MinerAddress, dep.VaultAddress)
		}
		candidates = append(candidates, cfg.Board)
		missing := lookup.MissingAddresses(candidates)
		if len(missing) == 0 {
			fmt.Println("table already covers the deployer pool")
			return nil
		}
		if err := lookup.Extend(ctx, missing); err != nil {
			return err
		}
		fmt.Printf("added %d addresses\n", len(missing))
		return nil
	case "inspect":
		if cfg.TableAddress.IsZero() {
			return fmt.Errorf("inspect requires lookup_table in the configuration")
		}
		if err := lookup.Load(ctx, cfg.TableAddress); err != nil {
			return err
		}
		entries := lookup.KnownAddresses()
		encoded := make([]string, 0, len(entries))
		for _, entry := range entries {
			encoded = append(encoded, entry.String())
		}
		return printJSON(map[string]interface{}{
			"table":   cfg.TableAddress.String(),
			"entries": encoded,
			"ceiling": lookup.CapacityCeiling(),
		})
	default:
		return fmt.Errorf("unknown table subcommand %q", sub)
	}
}

type deployerSummary struct {
	Address        string `json:"address"`
	Authority      string `json:"authority"`
	Balance        uint64 `json:"balance"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	FlatFee        uint64 `json:"flat_fee"`
}

func deployerSummaries(ctx context.Context, pool []scheduler.Deployer, reader ledger.Reader) ([]deployerSummary, error) {
	addrs := make([]ledger.Address, 0, len(pool))
	for _, dep := range pool {
		addrs = append(addrs, dep.Authority)
	}
	infos, err := reader.GetAccounts(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	summaries := make([]deployerSummary, 0, len(pool))
	for i, dep := range pool {
		var balance uint64
		if i < len(infos) && infos[i] != nil {
			balance = infos[i].Balance
		}
		summaries = append(summaries, deployerSummary{
			Address:        dep.Address.String(),
			Authority:      dep.Authority.String(),
			Balance:        balance,
			FeeBasisPoints: dep.FeeBasisPoints,
			FlatFee:        dep.FlatFee,
		})
	}
	return summaries, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printUsage() {
	usage := []string{
		"Usage: deployer-cli [-config path] <command>",
		"",
		"Commands:",
		"  deployers           list discovered deployers and balances",
		"  round               show the current round and phase",
		"  table create        allocate a new acceleration index",
		"  table extend        add the deployer pool's addresses to the index",
		"  table inspect       dump the index contents",
	}
	fmt.Fprintln(os.Stderr, strings.Join(usage, "\n"))
}
