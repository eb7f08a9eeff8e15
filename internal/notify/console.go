// Package notify implements ports.EventSink: best-effort fan-out of
// engine events to whatever observers are configured. Nothing here is
// ever on the critical path for correctness — state is journaled
// through ports.Storage first; a notify failure never blocks or rolls
// back a state transition.
package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/halvorsen-quant/autotrader/internal/domain"
)

// Console prints one line per event to stdout (or w, for tests), with an
// occasional boxed table for events that carry enough structure to
// warrant one.
type Console struct {
	out io.Writer
}

func NewConsole() *Console { return &Console{out: os.Stdout} }

func NewConsoleWriter(w io.Writer) *Console { return &Console{out: w} }

func (c *Console) Notify(e domain.Event) {
	switch e.Kind {
	case domain.EventTradeExecuted:
		c.printTrade(e)
	case domain.EventRiskHalt, domain.EventRiskResumed:
		c.printRiskTransition(e)
	default:
		c.printLine(e)
	}
}

func (c *Console) printLine(e domain.Event) {
	ts := e.TS.Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s", ts, e.Kind)
	for k, v := range e.Fields {
		fmt.Fprintf(c.out, " %s=%v", k, v)
	}
	fmt.Fprintln(c.out)
}

func (c *Console) printTrade(e domain.Event) {
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("time", "symbol", "side", "qty", "price", "fee", "pnl")
	tbl.Append(
		e.TS.Format("15:04:05"),
		fmt.Sprintf("%v", e.Fields["symbol"]),
		fmt.Sprintf("%v", e.Fields["side"]),
		fmt.Sprintf("%v", e.Fields["qty"]),
		fmt.Sprintf("%v", e.Fields["price"]),
		fmt.Sprintf("%v", e.Fields["fee"]),
		fmt.Sprintf("%v", e.Fields["pnl"]),
	)
	tbl.Render()
}

func (c *Console) printRiskTransition(e domain.Event) {
	fmt.Fprintf(c.out, "\n*** %s at %s ", e.Kind, e.TS.Format(time.RFC3339))
	for k, v := range e.Fields {
		fmt.Fprintf(c.out, "%s=%v ", k, v)
	}
	fmt.Fprintln(c.out, "***")
}
