// Package engine implements the dashboard's single-writer event loop.
//
// ARCHITECTURE:
//
// Every asynchronous input (kernel frames from the websocket read pump,
// connection losses, reachability probe results, notebook file reloads,
// API requests that read or mutate state) is posted to a FIFO queue as a
// named function. Engine.Run dequeues and runs them one at a time on a
// single goroutine, so the document, the index, the layout and the
// scheduler never see concurrent mutation.
//
// Event Processing Flow:
// 1. Producers call Post(name, fn) from any goroutine
// 2. Run dequeues events in FIFO order
// 3. Each event is stamped with the next logical clock seq and executed
// 4. A panicking event is logged with its name and seq; the loop continues
//
// CRITICAL PATTERNS:
//
// Logical Clock
// Events are stamped with a monotonic seq from Clock.Next(). The execution
// trace in the store orders rows by seq, never by wall-clock time.
//
// Cooperative Suspension
// Handlers must not block waiting for another event. Long waits (bulk-run
// completion, kernel replies) are expressed as callbacks that a later
// event triggers.
package engine
