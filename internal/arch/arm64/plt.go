package arm64

import (
	"encoding/binary"

	"github.com/xyproto/aarch64ld/internal/obj"
)

// pltHeaderTemplate is the fixed PLT[0] instruction sequence,
// byte-identical to original_source/elf/arch-arm64.cc's plt0:
//
//	stp    x16, x30, [sp,#-16]!
//	adrp   x16, .got.plt[2]
//	ldr    x17, [x16, .got.plt[2]]
//	add    x16, x16, .got.plt[2]
//	br     x17
//	nop
//	nop
//	nop
var pltHeaderTemplate = [PltHdrSize]byte{
	0xf0, 0x7b, 0xbf, 0xa9,
	0x10, 0x00, 0x00, 0x90,
	0x11, 0x02, 0x40, 0xf9,
	0x10, 0x02, 0x00, 0x91,
	0x20, 0x02, 0x1f, 0xd6,
	0x1f, 0x20, 0x03, 0xd5,
	0x1f, 0x20, 0x03, 0xd5,
	0x1f, 0x20, 0x03, 0xd5,
}

// pltEntryTemplate is the per-symbol PLT entry template:
//
//	adrp x16, .got.plt[n]
//	ldr  x17, [x16, .got.plt[n]]
//	add  x16, x16, .got.plt[n]
//	br   x17
var pltEntryTemplate = [PltEntrySize]byte{
	0x10, 0x00, 0x00, 0x90,
	0x11, 0x02, 0x40, 0xf9,
	0x10, 0x02, 0x00, 0x91,
	0x20, 0x02, 0x1f, 0xd6,
}

// pltGotEntryTemplate is used when a symbol already has a GOT slot:
//
//	adrp x16, GOT[n]
//	ldr  x17, [x16, GOT[n]]
//	br   x17
//	nop
var pltGotEntryTemplate = [EntrySize + 4]byte{
	0x10, 0x00, 0x00, 0x90,
	0x11, 0x02, 0x40, 0xf9,
	0x20, 0x02, 0x1f, 0xd6,
	0x1f, 0x20, 0x03, 0xd5,
}

// WriteGotPlt initializes .got.plt contents in buf: slot 0 is
// _DYNAMIC's address (or 0), slots 1 and 2 are reserved for the dynamic
// linker, and every symbol with a PLT slot gets its .got.plt word
// pointed at the PLT header so the first call falls through into the
// lazy resolver.
func WriteGotPlt(ctx *obj.Context, buf []byte, pltSymbols []*obj.Symbol) {
	var dynAddr uint64
	if ctx.Dynamic != nil {
		dynAddr = ctx.Dynamic.Addr
	}
	binary.LittleEndian.PutUint64(buf[0:8], dynAddr)
	binary.LittleEndian.PutUint64(buf[8:16], 0)
	binary.LittleEndian.PutUint64(buf[16:24], 0)

	for _, sym := range pltSymbols {
		off := sym.GetGotPltIdx() * 8
		binary.LittleEndian.PutUint64(buf[off:off+8], ctx.Plt.Addr)
	}
}

// WritePltHeader patches the PLT header's ADRP displacement and its two
// #off fields against the final addresses of .plt and .got.plt. The
// ADRP's own PC is plt+4 (one word into the header).
func WritePltHeader(ctx *obj.Context, buf []byte) {
	copy(buf, pltHeaderTemplate[:])

	gotplt := ctx.GotPlt.Addr + 16
	plt := ctx.Plt.Addr

	writeADR(buf, 4, bits(page(gotplt)-page(plt+4), 32, 12))
	orWord(buf, 8, uint32(bits(gotplt, 11, 3)<<10))
	orWord(buf, 12, uint32((gotplt&0xfff)<<10))
}

// WritePltEntry patches one per-symbol PLT entry at
// buf[PltHdrSize + sym.GetPltIdx()*PltEntrySize:].
func WritePltEntry(ctx *obj.Context, buf []byte, sym *obj.Symbol) {
	ent := buf[PltHdrSize+sym.GetPltIdx()*PltEntrySize:]
	copy(ent, pltEntryTemplate[:])

	gotplt := sym.GetGotPltAddr()
	plt := sym.GetPltAddr()

	writeADR(ent, 0, bits(page(gotplt)-page(plt), 32, 12))
	orWord(ent, 4, uint32(bits(gotplt, 11, 3)<<10))
	orWord(ent, 8, uint32((gotplt&0xfff)<<10))
}

// WritePltGotEntry patches one PLTGOT entry — used for symbols that
// already have an ordinary GOT slot, so the call can skip .got.plt
// entirely.
func WritePltGotEntry(buf []byte, sym *obj.Symbol) {
	ent := buf[sym.GetPltGotIdx()*(EntrySize+4):]
	copy(ent, pltGotEntryTemplate[:])

	got := sym.GetGotAddr()
	plt := sym.GetPltAddr()

	writeADR(ent, 0, bits(page(got)-page(plt), 32, 12))
	orWord(ent, 4, uint32(bits(got, 11, 3)<<10))
}

// WritePlt writes the full .plt contents: header followed by one entry
// per symbol in pltSymbols, in order.
func WritePlt(ctx *obj.Context, buf []byte, pltSymbols []*obj.Symbol) {
	WritePltHeader(ctx, buf)
	for _, sym := range pltSymbols {
		WritePltEntry(ctx, buf, sym)
	}
}

// WritePltGot writes the full .plt.got contents, one entry per symbol.
func WritePltGot(buf []byte, pltGotSymbols []*obj.Symbol) {
	for _, sym := range pltGotSymbols {
		WritePltGotEntry(buf, sym)
	}
}
