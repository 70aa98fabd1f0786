// Package layout places notebook cells into the three dashboard regions.
//
// The Manager mirrors the notebook's cell list as a list of items. Each
// item contributes one or two pieces: a single piece for the whole cell,
// or, when show-code mode splits a control cell, an input piece in the
// main region and an output piece in the control's region.
//
// Within a region, pieces are always kept in notebook order. Placement is
// an order-preserving insertion: a piece goes before the first piece whose
// cell comes later in the notebook, and after every piece of equal rank
// already there. Structural cell-list changes are applied incrementally;
// any change descriptor that does not match the live list falls back to a
// full rebuild.
package layout
