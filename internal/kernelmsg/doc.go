// Package kernelmsg models the Jupyter kernel messages the dashboard
// consumes and correlates control update round trips.
//
// Kernels give no synchronous "this control finished updating" signal.
// The Interpreter watches every message on the kernel connection in both
// directions, remembers each outbound comm update by comm id, and reports
// WidgetUpdated once the kernel acknowledges it. Acknowledgment is either
// an iopub echo_update for the same comm, or, for kernels without echo
// support, the idle status that closes the update request. Both paths are
// double-checked against the parent header of the inbound message.
package kernelmsg
