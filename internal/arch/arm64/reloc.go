package arm64

import (
	"debug/elf"

	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/obj"
)

// tlsdescRelaxMovzBase / tlsdescRelaxMovkBase / nopWord are the fixed
// encodings TLSDESC relaxation rewrites an
// adrp/ldr/add/blr sequence into, once a TLSDESC access is known to
// resolve to a local-exec symbol and relaxation is enabled:
//
//	adrp x0, 0   -> movz x0, #tls_offset_hi, lsl #16
//	ldr  x2, [x0]-> movk x0, #tls_offset_lo
//	add  x0, x0, #0 -> nop
//	blr  x2      -> nop
const (
	tlsdescRelaxMovzBase = 0xd2a00000
	tlsdescRelaxMovkBase = 0xf2800000
	nopWord              = 0xd503201f
)

// Applier patches relocation sites against fully resolved addresses.
// One Applier instance is shared across every section an architecture
// back end processes in a single link.
type Applier struct {
	Ctx  *obj.Context
	Sink *diag.Sink
}

func (ap *Applier) overflowCheck(secName, symName string, val, lo, hi int64) {
	if val < lo || hi <= val {
		ap.Sink.Report(diag.OutOfRange, secName, symName, "relocation value out of range")
	}
}

// symAddr resolves S (the symbol or fragment address) and A (the
// effective addend) for one relocation, following a merged-string
// fragment when isec carries one for this relocation index.
func symAddr(isec *obj.InputSection, i int, rel obj.Reloc, sym *obj.Symbol) (s uint64, a int64) {
	if frag, fragAddend, ok := isec.GetFragment(i); ok {
		return frag.Addr, fragAddend
	}
	return sym.GetAddr(), rel.Addend
}

// ApplyRelocAlloc patches every relocation in isec against base, the
// section's mapped output buffer, also emitting one dynamic relocation
// through emitDynrel per slot flagged NeedsDynrel, and per slot flagged
// NeedsBaserel unless isRelr reports it folded into RELR. emitDynrel is
// only called for flagged slots, so it may be nil when none are.
func (ap *Applier) ApplyRelocAlloc(isec *obj.InputSection, secName string, base []byte, resolve func(symIdx uint32) *obj.Symbol, emitDynrel func(obj.Reloc), isRelr func(obj.Reloc) bool) {
	rels := isec.GetRels()

	for i, rel := range rels {
		if rel.Type == elf.R_AARCH64_NONE {
			continue
		}

		sym := resolve(rel.SymIdx)
		if sym == nil {
			ap.Sink.Report(diag.UndefinedSymbol, secName, "", "undefined symbol referenced")
			continue
		}
		loc := base[rel.Offset:]
		s, a := symAddr(isec, i, rel, sym)
		p := isec.OutputSec().Addr + isec.Offset + rel.Offset
		got := ap.Ctx.Got.Addr
		g := sym.GetGotAddr() - got

		if len(isec.NeedsDynrel) > i && isec.NeedsDynrel[i] {
			emitDynrel(obj.Reloc{Type: elf.R_AARCH64_ABS64, Offset: p, SymIdx: uint32(sym.GetDynsymIdx()), Addend: a})
			writeWord64(loc, uint64(a))
			continue
		}

		if len(isec.NeedsBaserel) > i && isec.NeedsBaserel[i] {
			if isRelr == nil || !isRelr(rel) {
				emitDynrel(obj.Reloc{Type: elf.R_AARCH64_RELATIVE, Offset: p, SymIdx: 0, Addend: int64(s) + a})
			}
			writeWord64(loc, s+uint64(a))
			continue
		}

		switch rel.Type {
		case elf.R_AARCH64_ABS64:
			writeWord64(loc, s+uint64(a))

		case elf.R_AARCH64_LDST8_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 0)<<10))
		case elf.R_AARCH64_LDST16_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 1)<<10))
		case elf.R_AARCH64_LDST32_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 2)<<10))
		case elf.R_AARCH64_LDST64_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 3)<<10))
		case elf.R_AARCH64_LDST128_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 4)<<10))
		case elf.R_AARCH64_ADD_ABS_LO12_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 11, 0)<<10))

		case elf.R_AARCH64_MOVW_UABS_G0_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 15, 0)<<5))
		case elf.R_AARCH64_MOVW_UABS_G1_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 31, 16)<<5))
		case elf.R_AARCH64_MOVW_UABS_G2_NC:
			orWord(loc, 0, uint32(bits(s+uint64(a), 47, 32)<<5))
		case elf.R_AARCH64_MOVW_UABS_G3:
			orWord(loc, 0, uint32(bits(s+uint64(a), 63, 48)<<5))

		case elf.R_AARCH64_ADR_GOT_PAGE:
			val := int64(page(g+got+uint64(a))) - int64(page(p))
			ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
			writeADR(loc, 0, bits(uint64(val), 32, 12))

		case elf.R_AARCH64_ADR_PREL_PG_HI21:
			val := int64(page(s+uint64(a))) - int64(page(p))
			ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
			writeADR(loc, 0, bits(uint64(val), 32, 12))

		case elf.R_AARCH64_ADR_PREL_LO21:
			val := int64(s) + a - int64(p)
			ap.overflowCheck(secName, sym.Name, val, -(1 << 20), 1<<20)
			writeADR(loc, 0, uint64(val))

		case elf.R_AARCH64_CALL26, elf.R_AARCH64_JUMP26:
			if sym.IsUndefWeak() {
				// A weak undefined branch target falls through to the
				// next instruction.
				orWord(loc, 0, 1)
				continue
			}
			val := int64(s) + a - int64(p)
			if val < branchLo || val >= branchHi {
				ref := isec.RangeExtn[i]
				thunk := isec.OutputSec().Thunks[ref.ThunkIdx]
				// ref.SymIdx indexes the thunk's pre-compaction symbol
				// list assigned by CreateThunks; MarkThunkSymbols later
				// drops now-reachable entries and records where each
				// surviving one landed in SymbolMap, so the entry's
				// final address must go through that translation.
				val = int64(thunk.EntryAddr(int(thunk.SymbolMap[ref.SymIdx]))) + a - int64(p)
			}
			orWord(loc, 0, uint32(val>>2)&0x3ffffff)

		case elf.R_AARCH64_CONDBR19:
			val := int64(s) + a - int64(p)
			ap.overflowCheck(secName, sym.Name, val, -(1 << 20), 1<<20)
			orWord(loc, 0, uint32(bits(uint64(val), 20, 2)<<5))

		case elf.R_AARCH64_PREL16:
			val := int64(s) + a - int64(p)
			ap.overflowCheck(secName, sym.Name, val, -(1 << 15), 1<<15)
			writeHalf(loc, uint16(val))

		case elf.R_AARCH64_PREL32:
			val := int64(s) + a - int64(p)
			// The accepted range [-2^31, 2^32) is deliberately asymmetric,
			// as in the source linker: values in [2^31, 2^32) pass the
			// check and are truncated by the 32-bit store.
			ap.overflowCheck(secName, sym.Name, val, -(1 << 31), 1<<32)
			writeWord(loc, 0, uint32(val))

		case elf.R_AARCH64_PREL64:
			val := int64(s) + a - int64(p)
			writeWord64(loc, uint64(val))

		case elf.R_AARCH64_LD64_GOT_LO12_NC:
			orWord(loc, 0, uint32(bits(g+got+uint64(a), 11, 3)<<10))

		case elf.R_AARCH64_LD64_GOTPAGE_LO15:
			val := int64(g+got+uint64(a)) - int64(page(got))
			ap.overflowCheck(secName, sym.Name, val, 0, 1<<15)
			orWord(loc, 0, uint32(bits(uint64(val), 14, 3)<<10))

		case elf.R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21:
			val := int64(page(sym.GetGottpAddr()+uint64(a))) - int64(page(p))
			ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
			writeADR(loc, 0, bits(uint64(val), 32, 12))

		case elf.R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC:
			orWord(loc, 0, uint32(bits(sym.GetGottpAddr()+uint64(a), 11, 3)<<10))

		case elf.R_AARCH64_TLSLE_ADD_TPREL_HI12:
			val := int64(s) + a - int64(ap.Ctx.TLSBegin) + 16
			ap.overflowCheck(secName, sym.Name, val, 0, 1<<24)
			orWord(loc, 0, uint32(bits(uint64(val), 23, 12)<<10))

		case elf.R_AARCH64_TLSLE_ADD_TPREL_LO12_NC:
			val := uint64(int64(s) + a - int64(ap.Ctx.TLSBegin) + 16)
			orWord(loc, 0, uint32(bits(val, 11, 0)<<10))

		case elf.R_AARCH64_TLSGD_ADR_PAGE21:
			val := int64(page(sym.GetTlsgdAddr()+uint64(a))) - int64(page(p))
			ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
			writeADR(loc, 0, bits(uint64(val), 32, 12))

		case elf.R_AARCH64_TLSGD_ADD_LO12_NC:
			orWord(loc, 0, uint32(bits(sym.GetTlsgdAddr()+uint64(a), 11, 0)<<10))

		case elf.R_AARCH64_TLSDESC_ADR_PAGE21:
			if ap.Ctx.RelaxTLSDESC && !sym.IsImported() {
				val := int64(s) + a - int64(ap.Ctx.TLSBegin) + 16
				ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
				writeWord(loc, 0, tlsdescRelaxMovzBase|uint32(bits(uint64(val), 32, 16)<<5))
			} else {
				val := int64(page(sym.GetTlsdescAddr()+uint64(a))) - int64(page(p))
				ap.overflowCheck(secName, sym.Name, val, -(1 << 32), 1<<32)
				writeADR(loc, 0, bits(uint64(val), 32, 12))
			}

		case elf.R_AARCH64_TLSDESC_LD64_LO12:
			if ap.Ctx.RelaxTLSDESC && !sym.IsImported() {
				offLo := uint32(int64(s)+a-int64(ap.Ctx.TLSBegin)+16) & 0xffff
				writeWord(loc, 0, tlsdescRelaxMovkBase|(offLo<<5))
			} else {
				orWord(loc, 0, uint32(bits(sym.GetTlsdescAddr()+uint64(a), 11, 3)<<10))
			}

		case elf.R_AARCH64_TLSDESC_ADD_LO12:
			if ap.Ctx.RelaxTLSDESC && !sym.IsImported() {
				writeWord(loc, 0, nopWord)
			} else {
				orWord(loc, 0, uint32(bits(sym.GetTlsdescAddr()+uint64(a), 11, 0)<<10))
			}

		case elf.R_AARCH64_TLSDESC_CALL:
			if ap.Ctx.RelaxTLSDESC && !sym.IsImported() {
				writeWord(loc, 0, nopWord)
			}

		default:
			ap.Sink.Report(diag.UnknownRelocType, secName, sym.Name, "relocation type not handled by the allocated-section applier")
		}
	}
}

// ApplyRelocNonAlloc patches a non-allocated section (e.g. debug info):
// only ABS64 and ABS32 are legal here, since a non-allocated section
// never gets a GOT/PLT/TLS fixup.
func (ap *Applier) ApplyRelocNonAlloc(isec *obj.InputSection, secName string, base []byte, resolve func(symIdx uint32) *obj.Symbol) error {
	rels := isec.GetRels()

	for i, rel := range rels {
		if rel.Type == elf.R_AARCH64_NONE {
			continue
		}

		sym := resolve(rel.SymIdx)
		if sym == nil {
			ap.Sink.Report(diag.UndefinedSymbol, secName, "", "undefined symbol referenced")
			continue
		}

		loc := base[rel.Offset:]
		s, a := symAddr(isec, i, rel, sym)

		switch rel.Type {
		case elf.R_AARCH64_ABS64:
			writeWord64(loc, s+uint64(a))
		case elf.R_AARCH64_ABS32:
			writeWord(loc, 0, uint32(s)+uint32(a))
		default:
			return ap.Sink.Fatal(diag.InvalidForNonAlloc, secName, sym.Name, "invalid relocation for a non-allocated section")
		}
	}
	return nil
}

// ApplyRelocEhFrame patches .eh_frame, which only ever carries
// absolute and PC-relative pointer relocations — never a GOT/PLT/TLS
// fixup, since CFI data describes the binary's own layout.
func (ap *Applier) ApplyRelocEhFrame(secAddr uint64, base []byte, rel obj.Reloc, loc uint64, val uint64) error {
	buf := base[loc:]
	switch rel.Type {
	case elf.R_AARCH64_ABS64:
		writeWord64(buf, val)
		return nil
	case elf.R_AARCH64_PREL32:
		writeWord(buf, 0, uint32(val-secAddr-loc))
		return nil
	case elf.R_AARCH64_PREL64:
		writeWord64(buf, val-secAddr-loc)
		return nil
	default:
		return ap.Sink.Fatal(diag.InvalidForNonAlloc, ".eh_frame", "", "unsupported relocation in .eh_frame")
	}
}

func writeHalf(buf []byte, v uint16) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
}

func writeWord64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
