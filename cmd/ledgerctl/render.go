package main

import (
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/wsacademy/ledger-engine/internal/model"
	"github.com/wsacademy/ledger-engine/internal/valuation"
)

const reportTemplate = `# Portfolio {{.Report.UserID}}

Valued {{.Report.ValuedAt.Format "2006-01-02 15:04 MST"}}{{if not .Report.Complete}}. **Incomplete**: no price for {{join .Report.Unavailable ", "}}{{end}}

## Summary

| | {{.Currency}} |
|---|---:|
| Cash | {{money .Report.Cash}} |
| Invested | {{money .Report.TotalInvested}} |
| Market value | {{money .Report.TotalMarketValue}} |
| Unrealized P&L | {{money .Report.TotalProfit}} |
| Total value | {{money .Report.TotalValue}} |
{{- if .Report.UnpricedCost.IsPositive}}
| Unpriced cost | {{money .Report.UnpricedCost}} |
{{- end}}

## Holdings
{{if .Report.Holdings}}
| Symbol | Quantity | Avg cost | Price | Market value | Unrealized P&L | Allocation | Held since |
|---|---:|---:|---:|---:|---:|---:|---|
{{- range .Report.Holdings}}
| {{.Symbol}} | {{.Quantity}} | {{money .AvgBuyPrice}} | {{if .Available}}{{money .CurrentPrice.Decimal}} | {{money .MarketValue.Decimal}} | {{money .UnrealizedPnL.Decimal}} ({{pct .UnrealizedPnLPct}}) | {{pct .Allocation}}{{else}}unavailable | unavailable | unavailable | unavailable{{end}} | {{.HeldSince.Format "2006-01-02"}} |
{{- end}}
{{else}}
No open positions.
{{end}}
## Achievements
{{range .Achievements}}
- **{{.Kind}}**: {{.Status}}{{with .AwardedAt}} on {{.Format "2006-01-02"}}{{end}}{{if .IssuanceRef}}, issued as ` + "`{{.IssuanceRef}}`" + `{{end}}
{{- else}}
None tracked.
{{- end}}
`

const historyTemplate = `# Trades for {{.UserID}}
{{if .Trades}}
| # | Time | Side | Symbol | Quantity | Price | Commission | Realized P&L |
|---:|---|---|---|---:|---:|---:|---:|
{{- range .Trades}}
| {{.Sequence}} | {{.Timestamp.Format "2006-01-02 15:04:05"}} | {{.TradeType}} | {{.Symbol}} | {{.Quantity}} | {{.ExecutionPrice}} | {{.Commission}} | {{if eq .TradeType "sell"}}{{.RealizedPnL.StringFixed 2}}{{end}} |
{{- end}}
{{else}}
No trades yet.
{{end}}`

const leaderboardTemplate = `# Leaderboard
{{if .}}
| Rank | User | Total value | Cash | Holdings | Unrealized P&L |
|---:|---|---:|---:|---:|---:|
{{- range .}}
| {{.Rank}} | {{.UserID}}{{if not .Complete}} *{{end}} | {{.TotalValue.StringFixed 2}} | {{.Cash.StringFixed 2}} | {{.HoldingsValue.StringFixed 2}} | {{.TotalProfit.StringFixed 2}} |
{{- end}}
{{else}}
No portfolios yet.
{{end}}`

func renderReport(r *valuation.Report, achievements []model.AchievementState) (string, error) {
	currency := "USD"
	if r.Display != nil && r.Display.Currency != "" {
		currency = r.Display.Currency
	}
	funcs := template.FuncMap{
		"money": func(v decimal.Decimal) string { return valuation.FormatMoney(v, currency) },
		"pct": func(v decimal.NullDecimal) string {
			if !v.Valid {
				return "n/a"
			}
			return v.Decimal.StringFixed(2) + "%"
		},
		"join": strings.Join,
	}
	return execute("report", reportTemplate, funcs, struct {
		Report       *valuation.Report
		Achievements []model.AchievementState
		Currency     string
	}{r, achievements, currency})
}

func renderHistory(userID string, trades []model.Trade) (string, error) {
	return execute("history", historyTemplate, nil, struct {
		UserID string
		Trades []model.Trade
	}{userID, trades})
}

func renderLeaderboard(entries []valuation.LeaderboardEntry) (string, error) {
	return execute("leaderboard", leaderboardTemplate, nil, entries)
}

func execute(name, text string, funcs template.FuncMap, data any) (string, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
