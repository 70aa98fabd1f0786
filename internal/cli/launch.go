package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/mercury/internal/portal"
)

// LaunchOptions holds flags for the launch command.
type LaunchOptions struct {
	*RootOptions
	Portal string
}

type launchResult struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

func (r launchResult) Text() string { return r.URL + "\n" }

// NewLaunchCommand creates the launch command.
func NewLaunchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LaunchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "launch <notebook-id>",
		Short: "Start a dashboard through the portal",
		Long: `Ask the portal to start the dashboard of a registered notebook, or
return its URL when it already runs. A busy portal (423), server errors and
network failures are retried with exponential backoff.

Exit codes:
  0 - Dashboard is up, URL printed
  1 - Launch failed after retries or was refused
  2 - Command error (bad id, bad portal URL)

Examples:
  mercury launch 3 --portal http://localhost:8000/api/v1
  mercury launch 3 --portal http://localhost:8000/api/v1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Portal, "portal", "", "portal API base URL (required)")
	_ = cmd.MarkFlagRequired("portal")

	return cmd
}

func runLaunch(opts *LaunchOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 {
		return NewExitError(ExitCommandError, "notebook id must be a non-negative integer: "+arg)
	}

	client, err := portal.NewClient(opts.Portal,
		portal.WithClientLogger(newLogger(opts.Verbose, formatter.GetErrWriter())))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid portal URL", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter.VerboseLog("launching notebook %d via %s", id, opts.Portal)
	launch, err := client.Launch(ctx, id)
	if err != nil {
		_ = formatter.Error(CodePortal, err.Error(), map[string]int{"id": id})
		return WrapExitError(ExitFailure, "launch failed", err)
	}
	return formatter.Success(launchResult{ID: id, URL: launch.URL})
}
