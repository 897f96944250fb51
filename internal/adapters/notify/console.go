package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/liquidator/internal/metrics"
	"github.com/alejandrodnm/liquidator/internal/ports"
)

// Console implements ports.Reporter.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

var _ ports.Reporter = (*Console)(nil)

// NewConsole writes to stdout. table=false prints a single line per epoch.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter writes to w, for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// Report prints the running totals after an epoch.
func (c *Console) Report(_ context.Context, epoch int, snap metrics.Snapshot) error {
	if !c.table {
		c.printCompact(epoch, snap)
		return nil
	}
	return c.printFull(epoch, snap)
}

func (c *Console) printCompact(epoch int, s metrics.Snapshot) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] epoch %d: scanned %d, unhealthy %d, liquidations %d/%d, failures %d",
		c.now().Format("15:04:05"), epoch,
		s.ObligationsScanned, s.ObligationsUnhealthy, s.Successes, s.Attempts, s.Failures)
	for _, p := range s.Profit {
		fmt.Fprintf(&sb, " | %s %+d", p.Symbol, p.BaseUnits)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printFull(epoch int, s metrics.Snapshot) error {
	fmt.Fprintf(c.out, "\n[%s] epoch %d (%d completed)\n", c.now().Format("15:04:05"), epoch, s.Epochs)

	table := tablewriter.NewWriter(c.out)
	table.Header("Obligations", "Unhealthy", "Indeterminate", "Attempts", "Landed", "Failed", "Success %", "Conversions", "Market errs", "Cooldowns")
	table.Append(
		fmt.Sprintf("%d", s.ObligationsScanned),
		fmt.Sprintf("%d", s.ObligationsUnhealthy),
		fmt.Sprintf("%d", s.Indeterminate),
		fmt.Sprintf("%d", s.Attempts),
		fmt.Sprintf("%d", s.Successes),
		fmt.Sprintf("%d", s.Failures),
		successRate(s),
		fmt.Sprintf("%d", s.Conversions),
		fmt.Sprintf("%d", s.MarketErrors),
		fmt.Sprintf("%d", s.Cooldowns),
	)
	if err := table.Render(); err != nil {
		return fmt.Errorf("notify.Report: render totals: %w", err)
	}

	if len(s.Profit) == 0 {
		fmt.Fprintln(c.out, "  no realized profit yet")
		return nil
	}
	profit := tablewriter.NewWriter(c.out)
	profit.Header("Token", "Profit (base units)")
	for _, p := range s.Profit {
		profit.Append(p.Symbol, fmt.Sprintf("%+d", p.BaseUnits))
	}
	if err := profit.Render(); err != nil {
		return fmt.Errorf("notify.Report: render profit: %w", err)
	}
	return nil
}

func successRate(s metrics.Snapshot) string {
	if s.Attempts == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", float64(s.Successes)/float64(s.Attempts)*100)
}
