package obj

import "debug/elf"

// Reloc is a (type, offset, symbol, addend) tuple against an input
// section, mirroring ElfRel<E> from the surrounding linker.
type Reloc struct {
	Type   elf.R_AARCH64
	Offset uint64
	SymIdx uint32
	Addend int64
}

// RelocationAction is the outcome the dispatch table picks for a
// relocation that admits multiple handlings depending on output mode
// and symbol class.
type RelocationAction int

const (
	ActionNone RelocationAction = iota
	ActionError
	ActionCopyRel
	ActionPLT
	ActionDynRel
	ActionBaseRel
)

// SymClass buckets a resolved symbol for the 3x4 dispatch tables: whether
// it's absolute, locally defined, or imported data/code.
type SymClass int

const (
	ClassAbsolute SymClass = iota
	ClassLocal
	ClassImportedData
	ClassImportedCode
	numSymClasses
)

// OutputMode is the link mode the dispatch tables are indexed by.
type OutputMode int

const (
	ModeDSO OutputMode = iota
	ModePIE
	ModePDE
	numOutputModes
)

// DispatchTable is a [mode][class]Action table, as used for ABS64 and
// ADR_PREL_PG_HI21 classification.
type DispatchTable [numOutputModes][numSymClasses]RelocationAction

// ClassifySymbol buckets sym per the scanner's dispatch convention.
func ClassifySymbol(sym *Symbol, isCode bool) SymClass {
	switch {
	case sym.IsAbsolute():
		return ClassAbsolute
	case !sym.IsImported():
		return ClassLocal
	case isCode:
		return ClassImportedCode
	default:
		return ClassImportedData
	}
}
