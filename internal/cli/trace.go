package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mercury/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Notebook string // optional - restrict to one notebook path
}

// DocumentTrace is the stored trace of one notebook.
type DocumentTrace struct {
	Path     string             `json:"path"`
	Executed bool               `json:"executed"`
	Trace    []store.TraceEntry `json:"trace"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Documents []DocumentTrace `json:"documents"`
}

// Text renders one block per notebook, one line per trace row.
func (r TraceResult) Text() string {
	if len(r.Documents) == 0 {
		return "No traces recorded.\n"
	}
	var b strings.Builder
	for i, d := range r.Documents {
		if i > 0 {
			b.WriteString("\n")
		}
		state := "not executed"
		if d.Executed {
			state = "executed"
		}
		fmt.Fprintf(&b, "%s (%s, %d rows)\n", d.Path, state, len(d.Trace))
		for _, e := range d.Trace {
			fmt.Fprintf(&b, "  %6d  %-13s  %-12s  %s\n", e.Seq, e.Kind, e.CellID, traceDetail(e))
		}
	}
	return b.String()
}

func traceDetail(e store.TraceEntry) string {
	if e.Kind == store.TraceWidgetUpdate {
		rerun := "-"
		if len(e.Rerun) > 0 {
			rerun = strings.Join(e.Rerun, ",")
		}
		return fmt.Sprintf("model=%s rerun=%s", e.ModelID, rerun)
	}
	if e.ExecutionCount != nil {
		return fmt.Sprintf("%s [%d]", e.Phase, *e.ExecutionCount)
	}
	return string(e.Phase)
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the recorded execution trace",
		Long: `Print the execution trace recorded by "mercury serve --db".

Each row is stamped with the logical clock of the event that produced it:
cell executions (scheduled, executed, rejected) and control updates with
the cells they re-ran.

Examples:
  mercury trace --db ./mercury.db
  mercury trace --db ./mercury.db --notebook ./sales.ipynb
  mercury trace --db ./mercury.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Notebook, "notebook", "", "only show this notebook path")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(CodeStore, "database not found", map[string]string{"path": opts.Database})
		return WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(CodeStore, "cannot open database", map[string]string{"path": opts.Database})
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := collectTraces(ctx, st, opts.Notebook)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read trace", err)
	}
	formatter.VerboseLog("read %d notebook trace(s) from %s", len(result.Documents), opts.Database)
	return formatter.Success(result)
}

func collectTraces(ctx context.Context, st *store.Store, only string) (TraceResult, error) {
	paths, err := st.Documents(ctx)
	if err != nil {
		return TraceResult{}, err
	}

	result := TraceResult{Documents: []DocumentTrace{}}
	for _, path := range paths {
		if only != "" && path != only {
			continue
		}
		executed, _, err := st.Executed(ctx, path)
		if err != nil {
			return TraceResult{}, err
		}
		trace, err := st.Trace(ctx, path)
		if err != nil {
			return TraceResult{}, err
		}
		if trace == nil {
			trace = []store.TraceEntry{}
		}
		result.Documents = append(result.Documents, DocumentTrace{Path: path, Executed: executed, Trace: trace})
	}
	return result, nil
}
