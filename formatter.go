package isorun

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-isorun/runner"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// ResultFormatter is responsible for formatting and displaying run results.
type ResultFormatter interface {
	FormatResults(summary *runner.Summary) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults renders one row per file, in launch order.
func (f *ConsoleResultFormatter) FormatResults(summary *runner.Summary) error {
	f.logger.Debug("Printing results table", "run_id", summary.RunID)
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Isolated Test Results (%s, p50 %s, p95 %s)",
		formatDuration(summary.Duration), formatDuration(summary.P50), formatDuration(summary.P95)))

	t.AppendHeader(table.Row{
		"#", "File", "Duration", "Exit", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "File", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for i, o := range summary.Outcomes {
		t.AppendRow(table.Row{
			i + 1,
			o.File.String(),
			formatDuration(o.Duration),
			o.ExitCode,
			getResultString(o.Status()),
			firstLine(o.Err),
		})
	}

	if summary.Status() == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d passed, %d failed", summary.Passed(), len(summary.FailingFiles)),
		formatDuration(summary.Duration),
		summary.ExitCode,
		getResultString(summary.Status()),
		"",
	})

	t.Render()
	return nil
}
