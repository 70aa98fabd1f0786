// Package scheduler decides which cells to execute and when.
//
// There are two triggers. The bulk run executes every code cell once per
// document, as soon as the kernel connection is up and the kernel is
// idle. The downstream re-run reacts to a control update by re-executing
// every code cell below the control's cell.
//
// Cells are executed through an Executor, which returns as soon as a
// request is queued. Kernel-side completion is reported later through the
// request's OnExecuted callback; the bulk run counts those callbacks in a
// Barrier that resolves when every submitted cell has finished.
package scheduler
