package mercury

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/mercury/internal/notebook"
)

// MIMEType is the reserved output MIME type for dashboard controls.
const MIMEType = "application/mercury+json"

// Region is one of the three layout containers.
type Region string

const (
	RegionMain    Region = "main"
	RegionSidebar Region = "sidebar"
	RegionBottom  Region = "bottom"
)

// Regions lists every region in render order.
var Regions = []Region{RegionSidebar, RegionMain, RegionBottom}

// Valid reports whether r names a known region.
func (r Region) Valid() bool {
	switch r {
	case RegionMain, RegionSidebar, RegionBottom:
		return true
	}
	return false
}

// Payload is the decoded reserved output.
type Payload struct {
	ModelID  string `json:"model_id,omitempty"`
	Position string `json:"position,omitempty"`
	Widget   string `json:"widget,omitempty"`
}

// Region maps the payload's position to a layout region.
func (p Payload) Region() Region {
	return RegionForPosition(p.Position)
}

// RegionForPosition maps a position string: "sidebar" and "bottom" name
// their regions, anything else is inline (main).
func RegionForPosition(position string) Region {
	switch position {
	case string(RegionSidebar):
		return RegionSidebar
	case string(RegionBottom):
		return RegionBottom
	default:
		return RegionMain
	}
}

// ParseError reports a reserved payload that is not a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed %s payload %q: %v", MIMEType, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is (or wraps) a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

var errNotObject = errors.New("payload is not a JSON object")

// ParsePayload decodes a reserved payload. The payload is normally a JSON
// object; a JSON string containing an object is accepted too. Failures
// carry ErrCodeParse and wrap a *ParseError.
func ParsePayload(raw json.RawMessage) (Payload, error) {
	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return Payload{}, NewParseError(&ParseError{Raw: string(raw), Err: err})
		}
		body = bytes.TrimSpace([]byte(inner))
	}
	if len(body) == 0 || body[0] != '{' {
		return Payload{}, NewParseError(&ParseError{Raw: string(raw), Err: errNotObject})
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, NewParseError(&ParseError{Raw: string(raw), Err: err})
	}
	return p, nil
}

// PayloadOf decodes the reserved payload of a single output. ok is false
// when the output does not carry the reserved MIME type.
func PayloadOf(o notebook.Output) (p Payload, ok bool, err error) {
	raw, found := o.Data[MIMEType]
	if !found {
		return Payload{}, false, nil
	}
	p, err = ParsePayload(raw)
	return p, true, err
}

// Control is one reserved payload found in an output list.
type Control struct {
	Index   int
	Payload Payload
	Err     error
}

// ControlsIn returns every output in outputs that carries the reserved
// MIME type, in output order.
func ControlsIn(outputs []notebook.Output) []Control {
	var out []Control
	for i, o := range outputs {
		p, ok, err := PayloadOf(o)
		if !ok {
			continue
		}
		out = append(out, Control{Index: i, Payload: p, Err: err})
	}
	return out
}

// PositionOf resolves the region of a code cell's output area. hasControl
// is false when no output carries the reserved MIME type (the region is
// then main). A malformed payload resolves to the sidebar.
func PositionOf(cell *notebook.Cell) (region Region, hasControl bool) {
	if !cell.IsCode() {
		return RegionMain, false
	}
	controls := ControlsIn(cell.Outputs.Items())
	if len(controls) == 0 {
		return RegionMain, false
	}
	first := controls[0]
	if first.Err != nil {
		return RegionSidebar, true
	}
	return first.Payload.Region(), true
}
