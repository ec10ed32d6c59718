package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/edgebot/internal/domain"
)

// Console renders engine events and reports to a terminal. It implements
// ports.EventSink; Publish never blocks and never fails the caller.
type Console struct {
	out     io.Writer
	verbose bool
}

// NewConsole creates a notifier that writes to stdout. Verbose mode prints
// every detected opportunity; otherwise only trades, errors and alerts.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// Publish renders one event. Unknown payload shapes degrade to a generic
// line rather than being dropped.
func (c *Console) Publish(_ context.Context, event domain.Event) {
	switch event.Type {
	case domain.EventStarted:
		fmt.Fprintf(c.out, "[%s] %s started\n", stamp(event.Timestamp), event.Strategy)
	case domain.EventStopped:
		fmt.Fprintf(c.out, "[%s] %s stopped\n", stamp(event.Timestamp), event.Strategy)
	case domain.EventOpportunityFound:
		if c.verbose {
			c.printOpportunity(event)
		}
	case domain.EventTradeExecuted:
		c.printTrade(event)
	case domain.EventError:
		fmt.Fprintf(c.out, "[%s] !! %s error: %v\n", stamp(event.Timestamp), event.Strategy, event.Payload)
	case domain.EventRiskAlert:
		c.printAlert(event)
	default:
		fmt.Fprintf(c.out, "[%s] %s %s: %v\n", stamp(event.Timestamp), event.Strategy, event.Type, event.Payload)
	}
}

func (c *Console) printOpportunity(event domain.Event) {
	opp, ok := event.Payload.(*domain.Opportunity)
	if !ok {
		fmt.Fprintf(c.out, "[%s] %s opportunity: %v\n", stamp(event.Timestamp), event.Strategy, event.Payload)
		return
	}
	fmt.Fprintf(c.out, "[%s] %s found %s %s profit $%.4f (%.2f%%) conf %.2f legs %d\n",
		stamp(event.Timestamp), event.Strategy, opp.Type, shortID(opp.ID),
		opp.ExpectedProfit, opp.ExpectedProfitPercent, opp.Confidence, len(opp.Legs))
}

func (c *Console) printTrade(event domain.Event) {
	trade, ok := event.Payload.(domain.TradeResult)
	if !ok {
		fmt.Fprintf(c.out, "[%s] %s trade: %v\n", stamp(event.Timestamp), event.Strategy, event.Payload)
		return
	}
	fmt.Fprintf(c.out, "[%s] %s EXECUTED %s  %.0f shares @ %.4f  pnl $%.4f\n",
		stamp(event.Timestamp), event.Strategy, shortID(trade.OpportunityID),
		trade.FilledSize, trade.AvgPrice, trade.PnL)
}

func (c *Console) printAlert(event domain.Event) {
	alert, ok := event.Payload.(domain.RiskAlert)
	if !ok {
		fmt.Fprintf(c.out, "[%s] risk alert: %v\n", stamp(event.Timestamp), event.Payload)
		return
	}
	mark := ">>"
	if alert.Level == domain.AlertCritical {
		mark = "!!"
	}
	pos := ""
	if alert.PositionID != "" {
		pos = " pos " + shortID(alert.PositionID)
	}
	fmt.Fprintf(c.out, "[%s] %s [%s] %s%s (value %.4f limit %.4f)\n",
		stamp(event.Timestamp), mark, alert.Level, alert.Message, pos, alert.Value, alert.Limit)
}

// PrintCycle prints a compact one-line status for a scan cycle.
func (c *Console) PrintCycle(result domain.CycleResult) {
	now := stamp(result.StartedAt)
	if result.Halted {
		fmt.Fprintf(c.out, "[%s] cycle HALTED: %s\n", now, result.HaltReason)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d strategies | %d found | %d executed | %dms",
		now, len(result.Summaries), result.Found(), result.Executed(),
		result.Duration.Milliseconds())

	for _, row := range result.Summaries {
		if row.Err == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n  !! %s: %s", row.Strategy, row.Err)
	}

	fmt.Fprintln(c.out, sb.String())
}

// PrintRunReport prints the per-strategy table for a synchronous run.
func (c *Console) PrintRunReport(rows []domain.RunSummary) {
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "  No strategies registered.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Strategy", "Found", "Executed", "Error")

	for _, row := range rows {
		errLabel := "-"
		if row.Err != "" {
			errLabel = truncate(row.Err, 40)
		}
		table.Append(
			row.Strategy,
			fmt.Sprintf("%d", row.Opportunities),
			fmt.Sprintf("%d", row.Executed),
			errLabel,
		)
	}

	table.Render()
}

// PrintPositions prints the open-position table from the persisted
// snapshot.
func (c *Console) PrintPositions(positions []domain.Position) {
	if len(positions) == 0 {
		fmt.Fprintln(c.out, "  No open positions.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Token", "Side", "Size", "Avg", "Mark", "PnL")

	for _, p := range positions {
		table.Append(
			shortID(p.MarketID),
			shortID(p.TokenID),
			string(p.Side),
			fmt.Sprintf("%.0f", p.Size),
			fmt.Sprintf("%.4f", p.AvgEntryPrice),
			fmt.Sprintf("%.4f", p.CurrentPrice),
			fmt.Sprintf("$%.4f", p.UnrealizedPnL()),
		)
	}

	table.Render()
}

// PrintMetrics prints the current risk snapshot.
func (c *Console) PrintMetrics(m domain.RiskMetrics) {
	fmt.Fprintf(c.out, "\n  --- RISK ---\n")
	fmt.Fprintf(c.out, "  Exposure:     $%.2f across %d positions (max single $%.2f)\n",
		m.TotalExposure, m.PositionCount, m.MaxPositionSize)
	fmt.Fprintf(c.out, "  PnL:          $%.4f unrealized, $%.4f realized\n",
		m.UnrealizedPnL, m.RealizedPnL)
	fmt.Fprintf(c.out, "  Drawdown:     $%.2f (%.2f%%), worst $%.2f\n",
		m.CurrentDrawdown, m.DrawdownPercent, m.MaxDrawdown)
	fmt.Fprintf(c.out, "  Risk score:   %.0f/100\n", m.RiskScore)
}

// PrintSummary prints the shutdown report from the persisted trade journal.
func (c *Console) PrintSummary(s domain.LedgerSummary) {
	if s.TotalTrades == 0 {
		fmt.Fprintln(c.out, "\n  No trades recorded this session.")
		return
	}

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  SESSION REPORT\n")
	fmt.Fprintf(c.out, "  %s to %s\n",
		s.FirstTrade.Format("2006-01-02 15:04"),
		s.LastTrade.Format("2006-01-02 15:04"))
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(s.ByStrategy) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Strategy", "Trades", "Wins", "Win%", "PnL")

		for _, row := range s.ByStrategy {
			winPct := 0.0
			if row.Trades > 0 {
				winPct = float64(row.Wins) / float64(row.Trades) * 100
			}
			table.Append(
				row.Strategy,
				fmt.Sprintf("%d", row.Trades),
				fmt.Sprintf("%d", row.Wins),
				fmt.Sprintf("%.1f%%", winPct),
				fmt.Sprintf("$%.4f", row.PnL),
			)
		}
		table.Render()
	}

	fmt.Fprintf(c.out, "\n  Total trades:  %d\n", s.TotalTrades)
	fmt.Fprintf(c.out, "  Win rate:      %.1f%%\n", s.WinRate()*100)
	fmt.Fprintf(c.out, "  Net PnL:       $%.4f\n", s.TotalPnL)

	if s.TotalPnL > 0 {
		fmt.Fprintf(c.out, "\n  VERDICT: net positive this session.\n\n")
	} else {
		fmt.Fprintf(c.out, "\n  VERDICT: net negative. Review strategy settings before sizing up.\n\n")
	}
}

// --- helpers ---

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
