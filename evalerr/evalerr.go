// Package evalerr carries the engine-fault channel (spec §7, channel 2):
// conditions that mean the inputs or the implementation are broken, as
// opposed to a user formula producing an in-band #VALUE!/#REF! result.
//
// Grounded on the teacher's cell.go SpreadsheetError: a small typed error
// with an enumerated code and a code-derived default message.
package evalerr

import "fmt"

// FaultKind enumerates the engine faults from spec §7.
type FaultKind uint8

const (
	FaultMalformedFormula FaultKind = iota
	FaultForeignSheet
	FaultOutOfBounds
	FaultUnsupported
	FaultNotImplemented
	FaultMissingExternalWorkbook
)

var faultText = map[FaultKind]string{
	FaultMalformedFormula:        "malformed formula",
	FaultForeignSheet:            "sheet belongs to a different workbook",
	FaultOutOfBounds:             "reference shift exceeds format limits",
	FaultUnsupported:             "unsupported token",
	FaultNotImplemented:          "function not implemented",
	FaultMissingExternalWorkbook: "external workbook not loaded",
}

func (k FaultKind) String() string {
	if s, ok := faultText[k]; ok {
		return s
	}
	return "engine fault"
}

// CellRef is an address annotation, used by FaultNotImplemented to report
// which cell triggered the missing function.
type CellRef struct {
	WorkbookIx uint32
	SheetIx    int32
	Row, Col   uint32
}

// Fault is the single error type used for the whole engine-fault channel.
type Fault struct {
	Kind    FaultKind
	Message string
	Cell    *CellRef
}

func (f *Fault) Error() string {
	msg := f.Message
	if msg == "" {
		msg = f.Kind.String()
	}
	if f.Cell != nil {
		return fmt.Sprintf("%s (at wb%d sheet%d R%dC%d)", msg, f.Cell.WorkbookIx, f.Cell.SheetIx, f.Cell.Row, f.Cell.Col)
	}
	return msg
}

// New constructs a Fault with a kind-derived default message.
func New(kind FaultKind) *Fault { return &Fault{Kind: kind} }

// Newf constructs a Fault with a formatted message.
func Newf(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCell annotates a fault with the triggering cell (spec: "NotImplemented
// ... annotated with the triggering cell address").
func (f *Fault) WithCell(c CellRef) *Fault {
	f.Cell = &c
	return f
}

// Is reports whether err is a *Fault of the given kind, for callers that
// need to branch on fault kind (e.g. recovering MissingExternalWorkbook
// when ignore_missing_workbooks is set).
func Is(err error, kind FaultKind) bool {
	f, ok := err.(*Fault)
	return ok && f.Kind == kind
}
