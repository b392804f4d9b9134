package obj

// Fragment is a merged-string fragment a relocation can point into
// instead of a whole symbol (e.g. a deduplicated string-literal piece).
// Merging/deduplication itself is owned by the section-merging layer,
// out of scope here; this is just the lookup result shape.
type Fragment struct {
	Addr uint64
}

// FragmentRef pairs a relocation index with the fragment/addend it
// resolves through, mirroring SectionFragmentRef<E>.
type FragmentRef struct {
	Idx    int
	Frag   *Fragment
	Addend int64
}

// NoThunk is the "unassigned" sentinel for RangeExtensionRef fields.
const NoThunk = -1

// RangeExtensionRef is attached per-relocation in an input section: which
// thunk (if any) a CALL26/JUMP26 that can't reach directly is redirected
// through, and the symbol's position in that thunk's symbol list as
// CreateThunks assigned it, before compaction (the thunk's SymbolMap
// translates it to the final entry index).
type RangeExtensionRef struct {
	ThunkIdx int32
	SymIdx   int32
}

// InputSection is a slice of an input object's contents destined for an
// output section.
type InputSection struct {
	File   *ObjectFile
	Relocs []Reloc

	outputSection *OutputSection
	Offset        uint64 // mutated by layout passes
	Size          uint64
	Align         uint64

	NeedsDynrel  []bool
	NeedsBaserel []bool
	RelFragments []FragmentRef
	RangeExtn    []RangeExtensionRef

	ReldynOffset uint64
}

func NewInputSection(file *ObjectFile, relocs []Reloc, size, align uint64) *InputSection {
	return &InputSection{
		File:         file,
		Relocs:       relocs,
		Size:         size,
		Align:        align,
		NeedsDynrel:  make([]bool, len(relocs)),
		NeedsBaserel: make([]bool, len(relocs)),
		RangeExtn:    make([]RangeExtensionRef, len(relocs)),
	}
}

func (s *InputSection) GetRels() []Reloc { return s.Relocs }

func (s *InputSection) OutputSec() *OutputSection { return s.outputSection }

func (s *InputSection) SetOutputSec(o *OutputSection) { s.outputSection = o }

// GetAddr returns the section's final virtual address, valid once the
// output section's Addr and this section's Offset are both settled.
func (s *InputSection) GetAddr() uint64 {
	return s.outputSection.Addr + s.Offset
}

// GetFragment resolves a relocation to the merged-string fragment it
// points into, if any. Real fragment resolution lives in the
// section-merging layer; this is the lookup shape the applier expects.
func (s *InputSection) GetFragment(relIdx int) (*Fragment, int64, bool) {
	for _, fr := range s.RelFragments {
		if fr.Idx == relIdx {
			return fr.Frag, fr.Addend, true
		}
	}
	return nil, 0, false
}

// OutputSection is an ordered list of input-section members and the
// range-extension thunks interleaved among them.
type OutputSection struct {
	Name string

	Members []*InputSection
	Thunks  []*RangeExtensionThunk

	Addr       uint64
	Size       uint64
	Flags      uint64
	FileOffset uint64
}

// ELF section-flag bits this package cares about (SHF_ALLOC,
// SHF_EXECINSTR), reused directly since they're generic ELF vocabulary
// rather than anything language- or architecture-specific.
const (
	SHF_ALLOC     uint64 = 0x2
	SHF_EXECINSTR uint64 = 0x4
)

func (o *OutputSection) IsExec() bool {
	return o.Flags&SHF_EXECINSTR != 0
}
