// Package id provides typed, backend-tagged resource identifiers and the
// generational registry that issues them.
//
// An [ID] is parameterized by a zero-size kind marker ([Buffer], [Texture],
// [Device], ...) so a buffer ID cannot be passed where a texture ID is
// expected. Each ID carries a slot index, the slot generation it was issued
// for, and the [Backend] the resource lives on.
//
// A [Registry] maps IDs back to their values in O(1). Releasing an entry is
// two-phase: [Registry.Unregister] makes the ID stale immediately, and
// [Registry.Recycle] returns the slot to the free list once the backend has
// actually destroyed the resource. Reused slots get a new generation, so a
// stale ID keeps failing with [StaleIDError] forever.
package id
