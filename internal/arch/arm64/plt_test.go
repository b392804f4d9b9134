package arm64

import (
	"testing"

	"github.com/xyproto/aarch64ld/internal/obj"
)

func TestWritePltHeaderLayout(t *testing.T) {
	ctx := &obj.Context{
		Plt:    &obj.Chunk{Addr: 0x1000},
		GotPlt: &obj.Chunk{Addr: 0x4000},
	}
	buf := make([]byte, PltHdrSize)
	WritePltHeader(ctx, buf)

	// First word is the fixed stp instruction, untouched by patching.
	if readWord(buf, 0) != 0xa9bf7bf0 {
		t.Errorf("unexpected stp encoding: %#x", readWord(buf, 0))
	}
	// Last three words are nops.
	for _, off := range []int{20, 24, 28} {
		if readWord(buf, off) != 0xd503201f {
			t.Errorf("word at %d = %#x, want nop", off, readWord(buf, off))
		}
	}
}

func TestWritePltEntryIndexesCorrectSlot(t *testing.T) {
	ctx := &obj.Context{Plt: &obj.Chunk{Addr: 0x1000}}
	buf := make([]byte, PltHdrSize+2*PltEntrySize)

	sym := obj.NewUndefinedSymbol("foo")
	sym.PltIdx = 1
	sym.PltAddr = 0x1000 + PltHdrSize + PltEntrySize
	sym.GotPltAddr = 0x4018

	WritePltEntry(ctx, buf, sym)

	entry := buf[PltHdrSize+PltEntrySize:]
	if readWord(entry, 12) != 0xd61f0220 {
		t.Errorf("br x17 missing at end of entry: %#x", readWord(entry, 12))
	}
	// The untouched first entry slot must remain all zero.
	for i := 0; i < PltEntrySize; i++ {
		if buf[PltHdrSize+i] != 0 {
			t.Fatalf("entry 0 was written unexpectedly at byte %d", i)
		}
	}
}

func TestWriteGotPltReservesFirstThreeSlots(t *testing.T) {
	ctx := &obj.Context{
		Dynamic: &obj.Chunk{Addr: 0x9000},
		Plt:     &obj.Chunk{Addr: 0x1000},
	}
	buf := make([]byte, 24+8)

	sym := obj.NewUndefinedSymbol("bar")
	sym.GotPltIdx = 3

	WriteGotPlt(ctx, buf, []*obj.Symbol{sym})

	if got := readWord64(buf, 0); got != 0x9000 {
		t.Errorf("slot 0 = %#x, want _DYNAMIC addr", got)
	}
	if got := readWord64(buf, 24); got != 0x1000 {
		t.Errorf("symbol's got.plt slot = %#x, want PLT header addr", got)
	}
}

func readWord64(buf []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[off+i]) << (8 * i)
	}
	return v
}
