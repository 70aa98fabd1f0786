// Package app composes the dashboard for one notebook.
//
// Core wires the kernel-independent pieces: the document, the
// output-to-cell index, the kernel message interpreter, the layout manager,
// the execution scheduler and the trace recorder. App adds a live Jupyter
// session, the connection watchdog, metadata hot-reload and routes every
// asynchronous input through the single-writer event loop.
//
// Signal flow:
//
//	index.WidgetAdded   → layout.PlaceCell(cell, position)
//	index.Unbound       → interpreter.Forget(model) + layout.PlaceCell(cell, "")
//	interpreter.Updated → scheduler.Rerun(cell) → trace widget_updates
//	document.Metadata   → layout.SetShowCode
//	document.Executed   → store documents.executed
//	session.KernelChanged → interpreter.Attach(new connection)
package app
