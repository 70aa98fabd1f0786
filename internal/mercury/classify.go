package mercury

import (
	"fmt"

	"github.com/roach88/mercury/internal/notebook"
)

// Classification is the rendering decision for one cell.
type Classification struct {
	Kind notebook.Kind

	// Region receives the cell's visible body: the output area for a code
	// cell that carries a control, the whole cell otherwise.
	Region Region

	// HasControl is true when a code cell emits the reserved MIME type.
	HasControl bool

	// ShowInput is set in show-code mode; the input is then always placed
	// in the main region (InputRegion) with the output chrome suppressed.
	ShowInput   bool
	InputRegion Region

	// Rendered markdown, uneditable raw and prompt/collapser chrome
	// stripping apply to non-code cells.
	Rendered    bool
	Editable    bool
	StripChrome bool
}

// SplitsInput reports whether the input and the output of the cell live in
// different regions.
func (c Classification) SplitsInput() bool {
	return c.ShowInput && c.Region != c.InputRegion
}

// Classify decides how a cell is rendered and where it goes. It only reads
// the cell and may be called any number of times.
func Classify(cell *notebook.Cell, showCode bool) (Classification, error) {
	if cell == nil {
		return Classification{}, fmt.Errorf("classify: nil cell")
	}

	switch cell.Kind {
	case notebook.KindCode:
		region, hasControl := PositionOf(cell)
		c := Classification{
			Kind:       notebook.KindCode,
			Region:     region,
			HasControl: hasControl,
		}
		if showCode {
			c.ShowInput = true
			c.InputRegion = RegionMain
		}
		return c, nil

	case notebook.KindMarkdown:
		return Classification{
			Kind:        notebook.KindMarkdown,
			Region:      RegionMain,
			Rendered:    true,
			StripChrome: true,
		}, nil

	case notebook.KindRaw:
		return Classification{
			Kind:        notebook.KindRaw,
			Region:      RegionMain,
			StripChrome: true,
		}, nil

	default:
		return Classification{}, fmt.Errorf("classify cell %s: unknown kind %q", cell.ID, cell.Kind)
	}
}
