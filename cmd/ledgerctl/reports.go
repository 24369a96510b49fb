package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/google/subcommands"

	"github.com/wsacademy/ledger-engine/internal/client"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

// printMarkdown renders md for the terminal, or prints it raw when asked.
func printMarkdown(md string, raw bool, style string) subcommands.ExitStatus {
	if raw {
		fmt.Print(md)
		return subcommands.ExitSuccess
	}
	out, err := glamour.Render(md, style)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering report: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Print(out)
	return subcommands.ExitSuccess
}

type reportCmd struct {
	user  string
	raw   bool
	style string
}

func (*reportCmd) Name() string     { return "report" }
func (*reportCmd) Synopsis() string { return "display a portfolio valuation and achievements" }
func (*reportCmd) Usage() string {
	return `report -u <user> [-raw] [-style dark|light|notty]

  Displays cash, holdings marked to market, aggregate P&L and achievement
  status. Holdings without a current price are flagged as unavailable.
`
}

func (c *reportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "user ID (required)")
	f.BoolVar(&c.raw, "raw", false, "print markdown without terminal styling")
	f.StringVar(&c.style, "style", "dark", "glamour style")
}

func (c *reportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -u is required.")
		return subcommands.ExitUsageError
	}
	cl := client.New(*server)
	pr, err := cl.Portfolio(ctx, c.user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading portfolio: %v\n", err)
		return subcommands.ExitFailure
	}
	achievements, err := cl.Achievements(ctx, c.user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading achievements: %v\n", err)
		return subcommands.ExitFailure
	}

	md, err := renderReport(pr.Valuation, achievements)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building report: %v\n", err)
		return subcommands.ExitFailure
	}
	return printMarkdown(md, c.raw, c.style)
}

type historyCmd struct {
	user  string
	raw   bool
	style string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list a user's trades, most recent first" }
func (*historyCmd) Usage() string {
	return `history -u <user> [-raw] [-style dark|light|notty]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "user ID (required)")
	f.BoolVar(&c.raw, "raw", false, "print markdown without terminal styling")
	f.StringVar(&c.style, "style", "dark", "glamour style")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -u is required.")
		return subcommands.ExitUsageError
	}
	trades, err := client.New(*server).Trades(ctx, c.user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trades: %v\n", err)
		return subcommands.ExitFailure
	}
	md, err := renderHistory(c.user, trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building history: %v\n", err)
		return subcommands.ExitFailure
	}
	return printMarkdown(md, c.raw, c.style)
}

type leaderboardCmd struct {
	limit int
	raw   bool
	style string
}

func (*leaderboardCmd) Name() string     { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string { return "rank users by total account value" }
func (*leaderboardCmd) Usage() string {
	return `leaderboard [-n <limit>] [-raw] [-style dark|light|notty]
`
}

func (c *leaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", valuation.DefaultLeaderboardSize, "number of entries")
	f.BoolVar(&c.raw, "raw", false, "print markdown without terminal styling")
	f.StringVar(&c.style, "style", "dark", "glamour style")
}

func (c *leaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	entries, err := client.New(*server).Leaderboard(ctx, c.limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading leaderboard: %v\n", err)
		return subcommands.ExitFailure
	}
	md, err := renderLeaderboard(entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building leaderboard: %v\n", err)
		return subcommands.ExitFailure
	}
	return printMarkdown(md, c.raw, c.style)
}
