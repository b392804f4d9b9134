package arm64

import (
	"debug/elf"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xyproto/aarch64ld/internal/config"
	"github.com/xyproto/aarch64ld/internal/obj"
)

// CALL26/JUMP26 encode a 27-bit signed word displacement (26 bits
// shifted left by 2), so a direct branch reaches ±128 MiB.
const branchLo = -(1 << 27)
const branchHi = 1 << 27

// isReachable reports whether a CALL26/JUMP26 at rel, inside isec, can
// reach sym directly without a thunk. An absolute symbol is always
// treated as unreachable: ShrinkSection can only ever move input
// sections closer together, never further apart, so a thunk decided
// against this pass could fall out of range later if the symbol's
// address is allowed to move independently of layout.
func isReachable(sym *obj.Symbol, isec *obj.InputSection, rel obj.Reloc) bool {
	if sym.IsAbsolute() {
		return false
	}
	s := int64(sym.GetAddr())
	a := rel.Addend
	p := int64(isec.GetAddr()) + int64(rel.Offset)
	val := s + a - p
	return branchLo <= val && val < branchHi
}

func resetThunk(thunk *obj.RangeExtensionThunk) {
	thunk.Reset()
}

// Planner lays out range-extension thunks for one architecture's
// executable output sections, interleaving them with input sections so
// every out-of-range CALL26/JUMP26 lands on an in-range thunk entry.
type Planner struct {
	Cfg *config.Config
}

// CreateThunks runs the pessimistic-layout pass over a single
// executable output section: it walks members left to right with four
// monotonically advancing cursors (a<=b<=c<=d), creating one thunk per
// GroupSize-sized window and resetting any earlier thunk that's fallen
// out of MaxDistance reach of the window it would serve.
//
// resolve looks a relocation's symbol up by (input section, SymIdx).
func (p *Planner) CreateThunks(osec *obj.OutputSection, resolve func(isec *obj.InputSection, symIdx uint32) *obj.Symbol) {
	members := osec.Members
	if len(members) == 0 {
		return
	}
	members[0].Offset = 0
	for i := 1; i < len(members); i++ {
		members[i].Offset = 1 << 31
	}

	a, b, c, d := 0, 0, 0, 0
	var offset uint64

	for b < len(members) {
		for d < len(members) && offset-members[b].Offset < uint64(p.Cfg.MaxDistance) {
			offset = alignTo(offset, members[d].Align)
			members[d].Offset = offset
			offset += members[d].Size
			d++
		}

		for c < len(members) && members[c].Offset-members[b].Offset < uint64(p.Cfg.GroupSize) {
			c++
		}

		if c > 0 {
			cEnd := int64(members[c-1].Offset + members[c-1].Size)
			for a < len(osec.Thunks) && int64(osec.Thunks[a].Offset) < cEnd-p.Cfg.MaxDistance {
				resetThunk(osec.Thunks[a])
				a++
			}
		}

		thunk := obj.NewRangeExtensionThunk(osec, len(osec.Thunks), EntrySize)
		thunk.Offset = offset
		osec.Thunks = append(osec.Thunks, thunk)

		var grp errgroup.Group
		for _, isec := range members[b:c] {
			isec := isec
			grp.Go(func() error {
				rels := isec.GetRels()
				isec.RangeExtn = make([]obj.RangeExtensionRef, len(rels))
				for i := range isec.RangeExtn {
					isec.RangeExtn[i] = obj.RangeExtensionRef{ThunkIdx: obj.NoThunk, SymIdx: obj.NoThunk}
				}

				for i, rel := range rels {
					if !isCallOrJump(rel) {
						continue
					}
					sym := resolve(isec, rel.SymIdx)
					if isReachable(sym, isec, rel) {
						continue
					}

					if sym.ThunkIdx != -1 {
						isec.RangeExtn[i] = obj.RangeExtensionRef{ThunkIdx: sym.ThunkIdx, SymIdx: sym.ThunkSymIdx}
						continue
					}

					isec.RangeExtn[i] = obj.RangeExtensionRef{ThunkIdx: int32(thunk.ThunkIdx), SymIdx: obj.NoThunk}

					if !sym.TestAndSetThunk() {
						thunk.AddSymbol(sym)
					}
				}
				return nil
			})
		}
		_ = grp.Wait()

		offset += thunk.Size()

		sort.Slice(thunk.Symbols, func(i, j int) bool { return thunk.Symbols[i].Less(thunk.Symbols[j]) })
		for i, sym := range thunk.Symbols {
			sym.ThunkIdx = int32(thunk.ThunkIdx)
			sym.ThunkSymIdx = int32(i)
		}

		var fixGrp errgroup.Group
		for _, isec := range members[b:c] {
			isec := isec
			fixGrp.Go(func() error {
				rels := isec.GetRels()
				for i := range rels {
					ref := &isec.RangeExtn[i]
					if int(ref.ThunkIdx) == thunk.ThunkIdx {
						sym := resolve(isec, rels[i].SymIdx)
						ref.SymIdx = sym.ThunkSymIdx
					}
				}
				return nil
			})
		}
		_ = fixGrp.Wait()

		b = c
	}

	for a < len(osec.Thunks) {
		resetThunk(osec.Thunks[a])
		a++
	}

	osec.Size = offset
}

// MarkThunkSymbols re-scans an output section after the generic layout
// pass has settled real addresses, marking which thunk entries are
// actually used now that real distances (not the pessimistic ones
// CreateThunks assumed) are known, then compacting each thunk's symbol
// list down to just those entries.
func (p *Planner) MarkThunkSymbols(osec *obj.OutputSection, resolve func(isec *obj.InputSection, symIdx uint32) *obj.Symbol) {
	for _, thunk := range osec.Thunks {
		n := len(thunk.Symbols)
		thunk.SymbolMap = make([]int32, n)
		thunk.Used = make([]bool, n)
	}

	var mu sync.Mutex
	var grp errgroup.Group
	for _, isec := range osec.Members {
		isec := isec
		grp.Go(func() error {
			rels := isec.GetRels()
			for i, rel := range rels {
				ref := isec.RangeExtn[i]
				if ref.ThunkIdx == obj.NoThunk {
					continue
				}
				sym := resolve(isec, rel.SymIdx)
				if !isReachable(sym, isec, rel) {
					mu.Lock()
					osec.Thunks[ref.ThunkIdx].Used[ref.SymIdx] = true
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = grp.Wait()

	var compactGrp errgroup.Group
	for _, thunk := range osec.Thunks {
		thunk := thunk
		compactGrp.Go(func() error {
			i := 0
			for j := range thunk.Symbols {
				if thunk.Used[j] {
					thunk.SymbolMap[j] = int32(i)
					thunk.Symbols[i] = thunk.Symbols[j]
					i++
				}
			}
			thunk.Symbols = thunk.Symbols[:i]
			return nil
		})
	}
	_ = compactGrp.Wait()
}

// ShrinkSection recomputes final offsets for a section's thunks and
// members now that thunk sizes may have shrunk, merging the two
// monotonically-ordered sequences (thunks sorted by their pessimistic
// offset, members in input order) back into one packed layout. The
// result never exceeds the pessimistic size osec.Size already holds,
// so every relocation reachable under the pessimistic layout stays
// reachable here.
func ShrinkSection(osec *obj.OutputSection) {
	thunks := osec.Thunks
	members := osec.Members

	var offset uint64

	for len(thunks) > 0 && len(members) > 0 {
		if thunks[0].Offset < members[0].Offset {
			thunks[0].Offset = offset
			offset += thunks[0].Size()
			thunks = thunks[1:]
		} else {
			offset = alignTo(offset, members[0].Align)
			members[0].Offset = offset
			offset += members[0].Size
			members = members[1:]
		}
	}
	for len(thunks) > 0 {
		thunks[0].Offset = offset
		offset += thunks[0].Size()
		thunks = thunks[1:]
	}
	for len(members) > 0 {
		offset = alignTo(offset, members[0].Align)
		members[0].Offset = offset
		offset += members[0].Size
		members = members[1:]
	}

	osec.Size = offset
}

// CreateRangeExtensionThunks runs the full three-pass scheme over every
// executable output section with at least one member: a pessimistic
// layout pass (every synthesized chunk in ctx.Chunks is first spread
// 2 GiB apart; output-section addresses are not changed by this step),
// in which CreateThunks gives a thunk entry to each CALL26/JUMP26 it
// finds out of direct reach, a mark pass that
// drops thunk entries the real layout proved unnecessary, and a final
// shrink pass that repacks the now-smaller thunks against their
// sections. setOsecOffsets is called twice: once to produce the
// addresses MarkThunkSymbols reasons about, once more to produce the
// final layout this function returns.
func (p *Planner) CreateRangeExtensionThunks(ctx *obj.Context, resolve func(isec *obj.InputSection, symIdx uint32) *obj.Symbol) uint64 {
	for i, chunk := range ctx.Chunks {
		chunk.Addr = uint64(i) << 31
	}

	var sections []*obj.OutputSection
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) > 0 && osec.IsExec() {
			sections = append(sections, osec)
		}
	}

	for _, osec := range sections {
		p.CreateThunks(osec, resolve)
	}

	ctx.SetOsecOffsets(ctx)

	var grp errgroup.Group
	for _, osec := range sections {
		osec := osec
		grp.Go(func() error {
			p.MarkThunkSymbols(osec, resolve)
			return nil
		})
	}
	_ = grp.Wait()

	for _, osec := range sections {
		ShrinkSection(osec)
	}

	return ctx.SetOsecOffsets(ctx)
}

// WriteThunks patches every thunk's entries: each is a three-
// instruction (adrp; add; br) sequence computing its symbol's full
// address in x16 and branching to it.
func WriteThunks(ctx *obj.Context, bufFor func(osec *obj.OutputSection) []byte) {
	var grp errgroup.Group
	for _, osec := range ctx.OutputSections {
		osec := osec
		grp.Go(func() error {
			buf := bufFor(osec)
			var inner errgroup.Group
			for _, thunk := range osec.Thunks {
				thunk := thunk
				inner.Go(func() error {
					writeThunkBuf(thunk, buf)
					return nil
				})
			}
			return inner.Wait()
		})
	}
	_ = grp.Wait()
}

var thunkInsnTemplate = [EntrySize]byte{
	0x10, 0x00, 0x00, 0x90, // adrp x16, 0       R_AARCH64_ADR_PREL_PG_HI21
	0x10, 0x02, 0x00, 0x91, // add  x16, x16, #0 R_AARCH64_ADD_ABS_LO12_NC
	0x00, 0x02, 0x1f, 0xd6, // br   x16
}

func writeThunkBuf(thunk *obj.RangeExtensionThunk, sectionBuf []byte) {
	buf := sectionBuf[thunk.Offset:]
	for i, sym := range thunk.Symbols {
		s := sym.GetAddr()
		pAddr := thunk.Owner.Addr + thunk.Offset + uint64(i)*EntrySize

		loc := buf[uint64(i)*EntrySize:]
		copy(loc, thunkInsnTemplate[:])
		writeADR(loc, 0, bits(page(s)-page(pAddr), 32, 12))
		orWord(loc, 4, uint32(bits(s, 11, 0)<<10))
	}
}

func isCallOrJump(rel obj.Reloc) bool {
	return rel.Type == elf.R_AARCH64_CALL26 || rel.Type == elf.R_AARCH64_JUMP26
}

// alignTo rounds off up to the next multiple of align (align must be a
// power of two, or 0 meaning "no alignment constraint").
func alignTo(off, align uint64) uint64 {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}
