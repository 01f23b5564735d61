package parser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDocumentEmpty      = errors.New("no transactions found")
	ErrFormatUnsupported  = errors.New("unsupported file format")
	ErrDocumentUnreadable = errors.New("document could not be read")
)

// maxDiagnosticSample caps how many diagnostics a failure message lists.
const maxDiagnosticSample = 5

// ParseFailure is a fatal parse outcome. Kind is one of the sentinel errors
// above and is matched by errors.Is.
type ParseFailure struct {
	Kind        error
	Format      Format
	Extension   string
	Diagnostics []Diagnostic
	SuggestAI   bool
	Cause       error
}

func (f *ParseFailure) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.Error())

	switch {
	case errors.Is(f.Kind, ErrFormatUnsupported):
		fmt.Fprintf(&b, ": %q", f.Extension)
	case errors.Is(f.Kind, ErrDocumentUnreadable):
		if f.Format != "" {
			fmt.Fprintf(&b, " as %s", f.Format)
		}
		if f.Cause != nil {
			fmt.Fprintf(&b, ": %v", f.Cause)
		}
	case errors.Is(f.Kind, ErrDocumentEmpty):
		if f.Format != "" {
			fmt.Fprintf(&b, " in %s file", f.Format)
		}
		if len(f.Diagnostics) == 0 {
			b.WriteString("; check that the file matches the expected format")
		} else {
			b.WriteString(": ")
			b.WriteString(SampleDiagnostics(f.Diagnostics, maxDiagnosticSample))
		}
	}

	if f.SuggestAI {
		b.WriteString("; try AI extraction for scanned or image-only documents")
	}
	return b.String()
}

func (f *ParseFailure) Unwrap() []error {
	errs := []error{f.Kind}
	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}
	return errs
}

// SampleDiagnostics joins the first max diagnostics and appends "+N more".
func SampleDiagnostics(diags []Diagnostic, max int) string {
	n := len(diags)
	if n > max {
		n = max
	}
	parts := make([]string, 0, n+1)
	for _, d := range diags[:n] {
		parts = append(parts, d.String())
	}
	s := strings.Join(parts, "; ")
	if extra := len(diags) - n; extra > 0 {
		s += fmt.Sprintf(" (+%d more)", extra)
	}
	return s
}

// AsFailure unwraps err into a *ParseFailure when it is one.
func AsFailure(err error) (*ParseFailure, bool) {
	var f *ParseFailure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
