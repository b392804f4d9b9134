package obj

import "sync"

// RangeExtensionThunk is a synthesized range-extension trampoline: a
// sequence of ENTRY_SIZE-byte entries, one per symbol it can branch to,
// placed inside an executable output section so that every out-of-range
// CALL26/JUMP26 in its reach window has an in-range landing pad.
//
// Symbols are appended under Mu during the planner's parallel scan; Used
// is read and written by independent goroutines during the mark pass,
// after which planning and compaction are separated by a barrier so no
// reader ever races a writer.
type RangeExtensionThunk struct {
	Owner     *OutputSection
	ThunkIdx  int
	Offset    uint64
	EntrySize uint64

	Symbols   []*Symbol
	SymbolMap []int32

	Used []boolFlag

	Mu sync.Mutex
}

// boolFlag is a plain bool guarded by the barrier described above; it is
// not declared atomic.Bool because every write happens during a single
// parallel fan-out and every read happens strictly after that fan-out's
// errgroup.Wait returns.
type boolFlag = bool

func NewRangeExtensionThunk(owner *OutputSection, idx int, entrySize uint64) *RangeExtensionThunk {
	return &RangeExtensionThunk{Owner: owner, ThunkIdx: idx, EntrySize: entrySize}
}

// Size is the thunk's footprint in the output section.
func (t *RangeExtensionThunk) Size() uint64 {
	return uint64(len(t.Symbols)) * t.EntrySize
}

// EntryAddr is the final VA of the symIdx'th entry in this thunk.
func (t *RangeExtensionThunk) EntryAddr(symIdx int) uint64 {
	return t.Owner.Addr + t.Offset + uint64(symIdx)*t.EntrySize
}

// AddSymbol appends sym to the thunk's symbol list under Mu. Call only
// after the symbol has won TestAndSetThunk, exactly once per symbol.
func (t *RangeExtensionThunk) AddSymbol(sym *Symbol) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Symbols = append(t.Symbols, sym)
}

// Reset clears every symbol's thunk bookkeeping, returning this thunk to
// the pool of work the planner can redo. Called when a pessimistically
// created thunk falls outside the reachable window as the cursor
// advances.
func (t *RangeExtensionThunk) Reset() {
	for _, sym := range t.Symbols {
		sym.ClearThunk()
	}
	t.Symbols = nil
	t.SymbolMap = nil
	t.Used = nil
}
