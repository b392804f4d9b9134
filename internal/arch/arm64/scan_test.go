package arm64

import (
	"debug/elf"
	"testing"

	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/obj"
)

func scanOne(t *testing.T, mode obj.OutputMode, rel obj.Reloc, sym *obj.Symbol, isCode bool) *obj.Symbol {
	t.Helper()
	_, sym = scanOneSec(t, mode, rel, sym, isCode)
	return sym
}

func scanOneSec(t *testing.T, mode obj.OutputMode, rel obj.Reloc, sym *obj.Symbol, isCode bool) (*obj.InputSection, *obj.Symbol) {
	t.Helper()
	s := &Scanner{Mode: mode, Sink: diag.NewNop()}
	isec := obj.NewInputSection(nil, []obj.Reloc{rel}, 0, 0)
	s.Scan(isec, "test", isCode, func(uint32) *obj.Symbol { return sym })
	return isec, sym
}

func TestScanAbs64PDEImportedCodeNeedsPLT(t *testing.T) {
	sym := obj.NewUndefinedSymbol("f")
	sym.SetImported(true)
	scanOne(t, obj.ModePDE, obj.Reloc{Type: elf.R_AARCH64_ABS64}, sym, true)
	if !sym.Flags().Has(obj.NeedsPLT) {
		t.Error("expected NeedsPLT after ABS64 against imported code in PDE mode")
	}
	if !sym.Flags().Has(obj.NeedsGOT) {
		t.Error("expected NeedsGOT alongside NeedsPLT")
	}
}

func TestScanAbs64DSOLocalNeedsBaseRel(t *testing.T) {
	sym := obj.NewSymbol("localvar", &obj.ObjectFile{ID: 1}, 0)
	isec, _ := scanOneSec(t, obj.ModeDSO, obj.Reloc{Type: elf.R_AARCH64_ABS64}, sym, false)
	// ActionBaseRel is per-relocation-site bookkeeping the scanner owns
	// directly on the input section, not a symbol flag, so the symbol
	// itself should come out untouched...
	if sym.Flags() != 0 {
		t.Errorf("expected no symbol flags set for a local BASEREL case, got %v", sym.Flags())
	}
	// ...while the relocation's own slot is marked for a base relocation.
	if !isec.NeedsBaserel[0] {
		t.Error("expected NeedsBaserel[0] set for a local ABS64 in DSO mode")
	}
	if isec.ReldynOffset != 1 {
		t.Errorf("expected ReldynOffset reserved for the one base relocation, got %d", isec.ReldynOffset)
	}
}

func TestScanAbs64DSOImportedDataNeedsDynrel(t *testing.T) {
	sym := obj.NewUndefinedSymbol("extern_var")
	sym.SetImported(true)
	isec, _ := scanOneSec(t, obj.ModeDSO, obj.Reloc{Type: elf.R_AARCH64_ABS64}, sym, false)
	if !isec.NeedsDynrel[0] {
		t.Error("expected NeedsDynrel[0] set for an imported data ABS64 in DSO mode")
	}
	if isec.ReldynOffset != 1 {
		t.Errorf("expected ReldynOffset reserved for the one dynamic relocation, got %d", isec.ReldynOffset)
	}
}

func TestScanCallNeedsPLTOnlyWhenImported(t *testing.T) {
	sym := obj.NewSymbol("g", &obj.ObjectFile{ID: 1}, 0)
	scanOne(t, obj.ModePDE, obj.Reloc{Type: elf.R_AARCH64_CALL26}, sym, true)
	if sym.Flags().Has(obj.NeedsPLT) {
		t.Error("non-imported CALL26 target should not need a PLT entry")
	}

	sym2 := obj.NewUndefinedSymbol("h")
	sym2.SetImported(true)
	scanOne(t, obj.ModePDE, obj.Reloc{Type: elf.R_AARCH64_CALL26}, sym2, true)
	if !sym2.Flags().Has(obj.NeedsPLT) {
		t.Error("imported CALL26 target should need a PLT entry")
	}
}

func TestScanGotRelocsSetNeedsGOT(t *testing.T) {
	for _, typ := range []elf.R_AARCH64{
		elf.R_AARCH64_ADR_GOT_PAGE,
		elf.R_AARCH64_LD64_GOT_LO12_NC,
		elf.R_AARCH64_LD64_GOTPAGE_LO15,
	} {
		sym := obj.NewUndefinedSymbol("x")
		scanOne(t, obj.ModePDE, obj.Reloc{Type: typ}, sym, false)
		if !sym.Flags().Has(obj.NeedsGOT) {
			t.Errorf("relocation type %v should set NeedsGOT", typ)
		}
	}
}

func TestScanTLSDescSkippedWhenRelaxedAndLocal(t *testing.T) {
	s := &Scanner{Mode: obj.ModePDE, RelaxTLSDesc: true, Sink: diag.NewNop()}
	sym := obj.NewSymbol("tvar", &obj.ObjectFile{ID: 1}, 0)
	isec := obj.NewInputSection(nil, []obj.Reloc{{Type: elf.R_AARCH64_TLSDESC_ADR_PAGE21}}, 0, 0)
	s.Scan(isec, "test", false, func(uint32) *obj.Symbol { return sym })
	if sym.Flags().Has(obj.NeedsTLSDESC) {
		t.Error("relaxed local TLSDESC access should not need a synthesized TLSDESC entry")
	}
}

func TestScanTLSDescNeededWhenImported(t *testing.T) {
	s := &Scanner{Mode: obj.ModePDE, RelaxTLSDesc: true, Sink: diag.NewNop()}
	sym := obj.NewUndefinedSymbol("tvar")
	sym.SetImported(true)
	isec := obj.NewInputSection(nil, []obj.Reloc{{Type: elf.R_AARCH64_TLSDESC_ADR_PAGE21}}, 0, 0)
	s.Scan(isec, "test", false, func(uint32) *obj.Symbol { return sym })
	if !sym.Flags().Has(obj.NeedsTLSDESC) {
		t.Error("imported TLSDESC access always needs a synthesized entry, relaxation or not")
	}
}

func TestScanUndefinedSymbolReportsDiagnostic(t *testing.T) {
	sink := diag.NewNop()
	s := &Scanner{Mode: obj.ModePDE, Sink: sink}
	isec := obj.NewInputSection(nil, []obj.Reloc{{Type: elf.R_AARCH64_ABS64}}, 0, 0)
	s.Scan(isec, "test", false, func(uint32) *obj.Symbol { return nil })
	if sink.Err() == nil {
		t.Error("expected a diagnostic for an undefined symbol")
	}
}
