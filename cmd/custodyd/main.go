// Custody engine daemon.
//
// Usage:
//
//	custodyd [flags]       Run the engine
//	custodyd --help        Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/node"
)

const version = "0.3.0"

func main() {
	flags := config.ParseFlags()
	if flags.Help {
		config.Usage()
		return
	}
	if flags.Version {
		fmt.Printf("custodyd %s\n", version)
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
