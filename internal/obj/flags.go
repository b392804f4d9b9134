// Package obj holds the architecture-neutral linking data model: resolved
// symbols, input/output sections, and the range-extension thunk bookkeeping
// that the AArch64 back end (internal/arch/arm64) reads and mutates.
//
// Everything in this package is populated by collaborators that sit outside
// this module's scope (symbol resolution, input object parsing, generic
// output-section layout) and is consumed by the architecture-specific
// scanner, thunk planner and relocation applier.
package obj

// SymFlags is a per-symbol capability bitset, OR'd in atomically by the
// relocation scanner and read by the generic GOT/PLT/dynamic-relocation
// builders that live outside this module.
type SymFlags uint32

const (
	NeedsGOT SymFlags = 1 << iota
	NeedsPLT
	NeedsGOTTP
	NeedsTLSGD
	NeedsTLSDESC
	NeedsThunk
	NeedsCopyRel
)

func (f SymFlags) Has(bit SymFlags) bool {
	return f&bit != 0
}
