// Package notebook is the in-memory document model mercury drives.
//
// It plays the part of the host notebook environment: an ordered,
// observable list of cells, each code cell owning an observable list of
// outputs, plus the document metadata stored under the "mercury" key and
// the shared collaborative state (the executed flag).
//
// Cell identity is owned by this package. The dashboard core only reacts to
// membership changes reported through ListChange values; it never creates
// or destroys cells itself.
package notebook
