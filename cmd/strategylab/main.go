package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: strategylab <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version      Print the version\n")
		fmt.Fprintf(os.Stderr, "  run          Backtest the configured strategies\n")
		fmt.Fprintf(os.Stderr, "  indicator    Compute a built-in or custom indicator\n")
		fmt.Fprintf(os.Stderr, "  import       Load bars from a CSV file into the bar store\n")
		fmt.Fprintf(os.Stderr, "  catalog      List, save or delete stored custom indicators\n")
		fmt.Fprintf(os.Stderr, "\nThe config file is strategylab.yaml unless STRATEGYLAB_CONFIG is set.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("strategylab %s\n", version)

	case "run":
		err = runCmd(ctx, os.Args[2:], os.Stdout)

	case "indicator":
		err = indicatorCmd(ctx, os.Args[2:], os.Stdout)

	case "import":
		err = importCmd(ctx, os.Args[2:], os.Stdout)

	case "catalog":
		err = catalogCmd(ctx, os.Args[2:], os.Stdout)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}
