// Package kernel talks to a Jupyter server: the REST API for sessions and
// kernels, and the kernel channels websocket.
//
// A Connection owns one websocket with a read pump and a write pump. Every
// frame it sends or receives is reported on AnyMessage, so observers such
// as the control-update interpreter see both directions. Inbound frames
// are handed to a post function, normally the event loop's Post, so all
// handlers run on one goroutine.
//
// A Session owns the current Connection and swaps it on restart. The
// CellExecutor sends execute requests over the session's connection and
// writes the resulting iopub outputs into the cell's output list.
package kernel
