// Package mercury defines the reserved output payload and the cell
// classifier.
//
// A code cell that displays a dashboard control also emits an output with
// MIME type application/mercury+json. Its payload names the control
// instance (model_id) and where the control should live (position). The
// classifier reads that payload to decide which layout region a cell's
// output belongs to.
//
// Parsing follows an explicit default-on-error policy: ParsePayload
// reports an ErrCodeParse error wrapping a *ParseError, and PositionOf maps any parse failure to the
// sidebar. Nothing in this package panics or logs on malformed metadata.
package mercury
