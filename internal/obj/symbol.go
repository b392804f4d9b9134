package obj

import "sync/atomic"

// STT_GNU_IFUNC, mirrored from the ELF symbol-type vocabulary (the same
// value debug/elf would use if it exposed GNU extensions).
const STT_GNU_IFUNC = 10

// ObjectFile is the minimal identity a resolved Symbol needs from the
// input-object-parsing layer: an ordering key and a human-readable name
// for diagnostics. Real field population (sections, full symbol table,
// relocation spans) is owned by the input-file parser, out of scope here.
type ObjectFile struct {
	ID   int
	Path string
}

// Symbol is a resolved program symbol, addressed from one or more
// synthesized tables once the scanner and thunk planner have run.
//
// Lifetime: created by the resolver; mutated by the scanner (flag OR), by
// the thunk planner (ThunkIdx/ThunkSymIdx), and by the emit stage (final
// addresses); never destroyed before link end.
type Symbol struct {
	Name string

	// File is the defining object, or nil for an undefined symbol.
	File    *ObjectFile
	SymIdx  int // index into File's symbol table, for the total order
	IsWeak  bool
	absolute bool
	imported bool
	symType  uint8

	// Address resolution, filled in by the generic GOT/PLT/dynsym/TLS
	// builders once layout is final.
	Addr        uint64
	GotAddr     uint64
	PltAddr     uint64
	GotPltAddr  uint64
	GotTPAddr   uint64
	TLSGDAddr   uint64
	TLSDESCAddr uint64

	DynsymIdx int
	GotPltIdx int
	PltIdx    int
	PltGotIdx int

	// Range-extension-thunk bookkeeping, -1 when unassigned.
	ThunkIdx    int32
	ThunkSymIdx int32

	flags atomic.Uint32
}

// NewUndefinedSymbol returns a Symbol with no defining file (File == nil),
// the shape used for imported and weak-undefined references. The scanner
// and appliers process such a Symbol normally; they report an undefined
// symbol and skip the relocation only when their resolve callback returns
// nil.
func NewUndefinedSymbol(name string) *Symbol {
	return &Symbol{Name: name, ThunkIdx: -1, ThunkSymIdx: -1}
}

// NewSymbol returns a resolved, defined Symbol.
func NewSymbol(name string, file *ObjectFile, symIdx int) *Symbol {
	return &Symbol{Name: name, File: file, SymIdx: symIdx, ThunkIdx: -1, ThunkSymIdx: -1}
}

func (s *Symbol) GetAddr() uint64        { return s.Addr }
func (s *Symbol) GetGotAddr() uint64     { return s.GotAddr }
func (s *Symbol) GetPltAddr() uint64     { return s.PltAddr }
func (s *Symbol) GetGotPltAddr() uint64  { return s.GotPltAddr }
func (s *Symbol) GetGotPltIdx() int      { return s.GotPltIdx }
func (s *Symbol) GetPltIdx() int         { return s.PltIdx }
func (s *Symbol) GetPltGotIdx() int      { return s.PltGotIdx }
func (s *Symbol) GetDynsymIdx() int      { return s.DynsymIdx }
func (s *Symbol) GetGottpAddr() uint64   { return s.GotTPAddr }
func (s *Symbol) GetTlsgdAddr() uint64   { return s.TLSGDAddr }
func (s *Symbol) GetTlsdescAddr() uint64 { return s.TLSDESCAddr }

func (s *Symbol) GetType() uint8 { return s.symType }
func (s *Symbol) SetType(t uint8) { s.symType = t }

// IsUndefWeak reports whether this is a weak reference with no definition,
// the one case CALL26/JUMP26 must not treat as an error.
func (s *Symbol) IsUndefWeak() bool { return s.File == nil && s.IsWeak }

func (s *Symbol) IsAbsolute() bool   { return s.absolute }
func (s *Symbol) SetAbsolute(v bool) { s.absolute = v }

func (s *Symbol) IsImported() bool   { return s.imported }
func (s *Symbol) SetImported(v bool) { s.imported = v }

// Flags returns the current flag set.
func (s *Symbol) Flags() SymFlags { return SymFlags(s.flags.Load()) }

// OrFlags atomically ORs bit into the flag set.
func (s *Symbol) OrFlags(bit SymFlags) { s.flags.Or(uint32(bit)) }

// TestAndSetThunk atomically sets NeedsThunk and reports whether it was
// already set beforehand — the one place a symbol's "ownership" by a
// thunk is decided: whichever caller observes the 0-to-1 transition
// owns creating the thunk entry.
func (s *Symbol) TestAndSetThunk() (wasSet bool) {
	for {
		old := s.flags.Load()
		if old&uint32(NeedsThunk) != 0 {
			return true
		}
		if s.flags.CompareAndSwap(old, old|uint32(NeedsThunk)) {
			return false
		}
	}
}

// ClearThunk resets thunk bookkeeping: called when a pessimistically
// created thunk turns out to be unnecessary and is reset.
func (s *Symbol) ClearThunk() {
	s.ThunkIdx = -1
	s.ThunkSymIdx = -1
	for {
		old := s.flags.Load()
		if s.flags.CompareAndSwap(old, old&^uint32(NeedsThunk)) {
			return
		}
	}
}

// Less defines the total, input-only order the thunk planner sorts on so
// that thunk layout is deterministic across runs.
func (s *Symbol) Less(other *Symbol) bool {
	af, bf := -1, -1
	if s.File != nil {
		af = s.File.ID
	}
	if other.File != nil {
		bf = other.File.ID
	}
	if af != bf {
		return af < bf
	}
	if s.SymIdx != other.SymIdx {
		return s.SymIdx < other.SymIdx
	}
	return s.Name < other.Name
}
