package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/notebook"
	"github.com/roach88/mercury/internal/view"
)

// LayoutOptions holds flags for the layout command.
type LayoutOptions struct {
	*RootOptions
	Width    int
	ShowCode bool
}

// layoutResult is the static layout of a notebook.
type layoutResult struct {
	Path     string          `json:"path"`
	Title    string          `json:"title,omitempty"`
	ShowCode bool            `json:"show_code"`
	Layout   layout.Snapshot `json:"layout"`

	width int
}

func (r layoutResult) Text() string {
	out := view.Render(r.Layout, r.width) + "\n"
	if r.Title != "" {
		out = r.Title + "\n" + out
	}
	return out
}

// NewLayoutCommand creates the layout command.
func NewLayoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LayoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "layout <notebook.ipynb>",
		Short: "Render a notebook's dashboard layout",
		Long: `Classify every cell of a notebook from its saved outputs and render
the resulting sidebar, main and bottom regions. No kernel is started.

Examples:
  mercury layout ./sales.ipynb
  mercury layout ./sales.ipynb --width 120 --show-code
  mercury layout ./sales.ipynb --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Width, "width", view.DefaultWidth, "render width in columns")
	cmd.Flags().BoolVar(&opts.ShowCode, "show-code", false, "show code inputs regardless of notebook metadata")

	return cmd
}

func runLayout(opts *LayoutOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	doc, err := notebook.Load(path)
	if err != nil {
		_ = formatter.Error(CodeNotebook, "cannot read notebook", map[string]string{"path": path})
		return WrapExitError(ExitCommandError, "failed to load notebook", err)
	}
	defer doc.Close()

	meta := doc.Metadata()
	showCode := meta.ShowCode || opts.ShowCode
	m := layout.New(doc.Cells, layout.WithShowCode(showCode))
	defer m.Close()

	formatter.VerboseLog("classified %d cells", doc.Cells.Len())
	return formatter.Success(layoutResult{
		Path:     path,
		Title:    meta.Title,
		ShowCode: showCode,
		Layout:   m.Snapshot(),
		width:    opts.Width,
	})
}
