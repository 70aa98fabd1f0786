// Package event provides typed signals with scoped subscriptions.
//
// Every observable in mercury (cell lists, output lists, kernel messages,
// connection status) is a Signal[T]. Connect returns a Subscription that the
// subscriber owns; components collect their subscriptions in a Scope and
// close it on disposal, so a disposed component can never receive another
// callback and a handler is never connected twice by accident.
//
// Signals dispatch synchronously on the emitting goroutine. Mercury routes
// all emissions through the single-writer loop in internal/engine, so
// handlers observe a serialized event stream.
package event
