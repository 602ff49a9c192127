// custody-cli is an operator tool for the custody engine. It opens the
// engine's store directly, so it runs on the same host as custodyd (or
// against the same Postgres), not over the network.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/node"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dataDir := ""
	configPath := ""

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--config" && len(args) > 1:
			configPath = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--config="):
			configPath = args[0][len("--config="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		usage()
		return
	}
	if args[0] == "chains" {
		cmdChains()
		return
	}

	n := openNode(dataDir, configPath)
	defer n.Stop()
	svc := n.Service()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch args[0] {
	case "create-wallet":
		requireArgs(args, 3, "create-wallet <account> <chain>")
		w, addr, err := svc.CreateWallet(ctx, args[1], chain.Key(args[2]))
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Wallet:  %s\n", w.ID)
		fmt.Printf("Account: %s\n", w.AccountID)
		fmt.Printf("Address: %s (%s, index %d)\n", addr.Address, addr.Chain, addr.AddressIndex)

	case "address":
		requireArgs(args, 3, "address <wallet-id> <chain>")
		addr, err := svc.AllocateAddress(ctx, parseID(args[1]), chain.Key(args[2]), "deposit")
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Address: %s\n", addr.Address)
		fmt.Printf("Index:   %d\n", addr.AddressIndex)
		fmt.Printf("Path:    %s\n", addr.DerivationPath)

	case "deposit-address":
		requireArgs(args, 3, "deposit-address <wallet-id> <chain>")
		addr, err := svc.GetDepositAddress(ctx, parseID(args[1]), chain.Key(args[2]))
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Address: %s\n", addr.Address)

	case "addresses":
		requireArgs(args, 2, "addresses <account> [chain]")
		key := chain.Key("")
		if len(args) > 2 {
			key = chain.Key(args[2])
		}
		info, err := svc.GetWallet(ctx, args[1], key)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Wallet %s (%d addresses)\n", info.Wallet.ID, len(info.Addresses))
		for _, a := range info.Addresses {
			label := string(a.Chain)
			if a.Asset != "" {
				label += "/" + a.Asset
			}
			bal := a.Balance
			if a.Asset != "" {
				bal = a.TokenBalance
			}
			fmt.Printf("  [%d] %-14s %s  balance=%s\n", a.AddressIndex, label, a.Address, bal)
		}

	case "balance":
		requireArgs(args, 3, "balance <address> <chain>")
		amount, err := svc.GetBalance(ctx, args[1], chain.Key(args[2]))
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(amount)

	case "check-deposits":
		requireArgs(args, 3, "check-deposits <wallet-id> <chain>")
		events, err := svc.CheckDeposits(ctx, parseID(args[1]), chain.Key(args[2]))
		if err != nil {
			fatal("%v", err)
		}
		if len(events) == 0 {
			fmt.Println("No new deposits.")
			return
		}
		for _, ev := range events {
			label := ev.Asset
			if label == "" {
				label = string(chain.Key(args[2]))
			}
			fmt.Printf("Deposit %s %s to %s (tx %s)\n", ev.Received, label, ev.Address, ev.TransactionID)
		}

	case "sweep":
		requireArgs(args, 4, "sweep <wallet-id> <chain> <to-address>")
		res, err := svc.Sweep(ctx, parseID(args[1]), chain.Key(args[2]), args[3])
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Tx hash: %s\n", res.TxHash)
		fmt.Printf("Amount:  %s\n", res.Amount)
		fmt.Printf("Fee:     %s\n", res.Fee)

	case "withdraw":
		requireArgs(args, 5, "withdraw <wallet-id> <chain> <amount> <to-address>")
		txID, err := svc.InitiateWithdrawal(ctx, parseID(args[1]), chain.Key(args[2]), args[3], args[4])
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Withdrawal recorded: %s\n", txID)
		res, err := svc.ExecuteWithdrawal(ctx, txID)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Tx hash: %s\n", res.TxHash)
		fmt.Printf("Fee:     %s\n", res.Fee)

	case "export-mnemonic":
		requireArgs(args, 2, "export-mnemonic <wallet-id>")
		cmdExportMnemonic(ctx, svc, parseID(args[1]))

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}

type service interface {
	ExportMnemonic(ctx context.Context, walletID uuid.UUID) (string, error)
}

// cmdExportMnemonic prints a wallet's mnemonic once, after an explicit
// typed confirmation. The words go to stdout so they are never mixed into
// log output; everything else goes to stderr.
func cmdExportMnemonic(ctx context.Context, svc service, walletID uuid.UUID) {
	fmt.Fprintln(os.Stderr, "WARNING: the mnemonic grants full control over all funds in this wallet.")
	fmt.Fprint(os.Stderr, "Type 'reveal' to continue: ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "reveal" {
		fatal("aborted")
	}

	mnemonic, err := svc.ExportMnemonic(ctx, walletID)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(mnemonic)
	fmt.Fprintln(os.Stderr, "Write the words down now; they will not be shown again.")
}

func cmdChains() {
	fmt.Printf("%-16s %-8s %-6s %9s %13s %13s\n",
		"KEY", "SYMBOL", "FAMILY", "DECIMALS", "MIN-WITHDRAW", "FEE")
	for _, p := range chain.Supported() {
		key := string(p.Key)
		if p.IsTokenAlias {
			key += " -> " + string(p.BaseChain)
		}
		fmt.Printf("%-16s %-8s %-6s %9d %13s %13s\n",
			key, p.Symbol, p.Family, p.Decimals, p.MinWithdraw, p.WithdrawFee)
	}
}

// openNode loads config and assembles the engine. When no seed secret is
// configured it is prompted for, with echo off.
func openNode(dataDir, configPath string) *node.Node {
	flags := &config.Flags{DataDir: dataDir, Config: configPath, LogLevel: "warn"}

	cfg, err := config.Load(flags)
	if err != nil && os.Getenv(config.SeedSecretEnv) == "" {
		secret, perr := readSecret("Seed secret: ")
		if perr != nil {
			fatal("%v", perr)
		}
		os.Setenv(config.SeedSecretEnv, secret)
		cfg, err = config.Load(flags)
	}
	if err != nil {
		fatal("%v", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		fatal("%v", err)
	}
	return n
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func parseID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		fatal("invalid wallet/transaction id %q", s)
	}
	return id
}

func requireArgs(args []string, n int, form string) {
	if len(args) < n {
		fatal("usage: custody-cli %s", form)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: custody-cli [global flags] <command> [args]

Global flags:
  --datadir <path>    Data directory (default: platform-specific)
  --config <path>     Config file path

Commands:
  create-wallet <account> <chain>            Create (or fetch) the account wallet
  address <wallet-id> <chain>                Allocate the next address
  deposit-address <wallet-id> <chain>        Get an unused deposit address
  addresses <account> [chain]                List a wallet's addresses
  balance <address> <chain>                  Live balance of an address
  check-deposits <wallet-id> <chain>         Detect and record new deposits
  sweep <wallet-id> <chain> <to-address>     Sweep the full balance
  withdraw <wallet-id> <chain> <amount> <to-address>
                                             Withdraw a fixed amount
  export-mnemonic <wallet-id>                One-time mnemonic disclosure
  chains                                     List supported chains

The seed secret is read from KLINGNET_SEED_SECRET, the config file, or an
interactive prompt.
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
