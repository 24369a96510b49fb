// Command ledgerctl drives a running ledger engine from the terminal.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var server = flag.String("server", envOr("LEDGER_URL", "http://localhost:8080"), "ledger engine base URL")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	commander.Register(&openCmd{}, "portfolio")
	commander.Register(&orderCmd{}, "portfolio")
	commander.Register(&reportCmd{}, "reports")
	commander.Register(&historyCmd{}, "reports")
	commander.Register(&leaderboardCmd{}, "reports")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
