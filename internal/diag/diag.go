// Package diag is the diagnostic sink the surrounding driver owns: a
// place to accumulate non-fatal link diagnostics so a whole scan or
// apply pass can finish and report everything at once, plus a fatal
// path for errors that must abort the link immediately.
//
// Styled after zboralski/galago's internal/log package: a thin wrapper
// around *zap.Logger that logs each report with plain zap.String fields
// (this package defines no field-helper functions), here additionally
// accumulating errors with go.uber.org/multierr instead of just logging
// them, since this sink's callers need to ask "did anything go wrong?"
// at the end of a pass.
package diag

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Kind identifies which diagnostic category a report belongs to.
type Kind int

const (
	UndefinedSymbol Kind = iota
	OutOfRange
	UnknownRelocType
	InvalidForNonAlloc
	DispatchError
)

func (k Kind) String() string {
	switch k {
	case UndefinedSymbol:
		return "undefined symbol"
	case OutOfRange:
		return "relocation out of range"
	case UnknownRelocType:
		return "unknown relocation type"
	case InvalidForNonAlloc:
		return "invalid relocation for non-allocated section"
	case DispatchError:
		return "relocation requires a PIC-incompatible fixup"
	default:
		return "diagnostic"
	}
}

// FatalError is returned by Sink.Fatal; callers test for it with
// errors.As when they need to tell a fatal diagnostic apart from an
// ordinary error.
type FatalError struct {
	Kind    Kind
	Message string
}

func (e *FatalError) Error() string { return e.Message }

// Sink accumulates diagnostics across a scan or apply pass. The zero
// value is not usable; construct with New.
type Sink struct {
	log *zap.Logger
	err error
}

// New builds a Sink backed by a development (verbose) or production
// (warn-and-above) zap configuration, exactly as galago's log.New does.
func New(verbose bool) *Sink {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &Sink{log: logger}
}

// NewNop returns a Sink that logs nowhere, for tests.
func NewNop() *Sink {
	return &Sink{log: zap.NewNop()}
}

// Report records a non-fatal diagnostic: the link continues, but Err
// will be non-nil at the end of the pass.
func (s *Sink) Report(kind Kind, section, symbol string, detail string) {
	msg := fmt.Sprintf("%s: %s: %s (symbol %q)", section, kind, detail, symbol)
	s.log.Warn(msg,
		zap.String("kind", kind.String()),
		zap.String("section", section),
		zap.String("symbol", symbol),
	)
	s.err = multierr.Append(s.err, fmt.Errorf("%s", msg))
}

// Fatal records and returns an error that must abort the link
// immediately — e.g. an invalid relocation for a non-allocated section.
func (s *Sink) Fatal(kind Kind, section, symbol string, detail string) error {
	msg := fmt.Sprintf("%s: %s: %s (symbol %q)", section, kind, detail, symbol)
	s.log.Error(msg, zap.String("kind", kind.String()))
	return &FatalError{Kind: kind, Message: msg}
}

// Err returns the accumulated non-fatal diagnostics, or nil if the pass
// was clean. The link fails at completion iff Err is non-nil.
func (s *Sink) Err() error {
	return s.err
}

// Logger exposes the underlying zap logger for callers (e.g. the thunk
// planner) that want structured progress logging alongside diagnostics.
func (s *Sink) Logger() *zap.Logger {
	return s.log
}
