package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/client"
	"github.com/wsacademy/ledger-engine/internal/ledger"
	"github.com/wsacademy/ledger-engine/internal/model"
)

type openCmd struct {
	user string
	cash string
}

func (*openCmd) Name() string     { return "open" }
func (*openCmd) Synopsis() string { return "open a portfolio for a user" }
func (*openCmd) Usage() string {
	return `open -u <user> [-cash <amount>]

  Opens a portfolio funded with the given virtual cash, or the server's
  default opening balance.
`
}

func (c *openCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "user ID (required)")
	f.StringVar(&c.cash, "cash", "", "opening cash balance")
}

func (c *openCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -u is required.")
		return subcommands.ExitUsageError
	}
	var cash decimal.NullDecimal
	if c.cash != "" {
		v, err := decimal.NewFromString(c.cash)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing cash %q: %v\n", c.cash, err)
			return subcommands.ExitUsageError
		}
		cash = decimal.NewNullDecimal(v)
	}

	p, err := client.New(*server).OpenPortfolio(ctx, c.user, cash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening portfolio: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("Opened portfolio for %s with %s cash.\n", p.UserID, p.Cash)
	return subcommands.ExitSuccess
}

type orderCmd struct {
	user       string
	side       string
	symbol     string
	quantity   string
	price      string
	commission string
	orderType  string
}

func (*orderCmd) Name() string     { return "order" }
func (*orderCmd) Synopsis() string { return "submit a buy or sell order" }
func (*orderCmd) Usage() string {
	return `order -u <user> -side buy|sell -s <symbol> -q <quantity> -p <price> [-fee <commission>] [-type market|limit]

  Settles one order at the given execution price. Rejections (insufficient
  funds, unknown or insufficient position) are printed with their reason.
`
}

func (c *orderCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "u", "", "user ID (required)")
	f.StringVar(&c.side, "side", "buy", "buy or sell")
	f.StringVar(&c.symbol, "s", "", "ticker symbol (required)")
	f.StringVar(&c.quantity, "q", "", "quantity (required)")
	f.StringVar(&c.price, "p", "", "execution price (required)")
	f.StringVar(&c.commission, "fee", "0", "commission")
	f.StringVar(&c.orderType, "type", "market", "order type, market or limit")
}

func (c *orderCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.symbol == "" || c.quantity == "" || c.price == "" {
		fmt.Fprintln(os.Stderr, "Error: -u, -s, -q and -p are required.")
		return subcommands.ExitUsageError
	}

	o := ledger.Order{
		UserID:    c.user,
		Symbol:    c.symbol,
		TradeType: model.TradeType(c.side),
		OrderType: model.OrderType(c.orderType),
	}
	var err error
	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"quantity", c.quantity, &o.Quantity},
		{"price", c.price, &o.ExecutionPrice},
		{"commission", c.commission, &o.Commission},
	} {
		if *field.dst, err = decimal.NewFromString(field.raw); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s %q: %v\n", field.name, field.raw, err)
			return subcommands.ExitUsageError
		}
	}

	resp, err := client.New(*server).SubmitOrder(ctx, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Order rejected: %v\n", err)
		return subcommands.ExitFailure
	}
	t := resp.Trade
	fmt.Printf("Settled #%d: %s %s %s @ %s (fee %s). Cash now %s.\n",
		t.Sequence, t.TradeType, t.Quantity, t.Symbol, t.ExecutionPrice, t.Commission, resp.Portfolio.Cash)
	if t.TradeType == model.Sell {
		fmt.Printf("Realized P&L: %s\n", t.RealizedPnL.StringFixed(2))
	}
	return subcommands.ExitSuccess
}
