// Package parser turns raw bank statement documents into candidate
// transactions awaiting human review. Every parser isolates failures per
// row: a bad line becomes a Diagnostic, never an aborted import.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

// Format identifies which parser produced a report.
type Format string

const (
	FormatCSV         Format = "csv"
	FormatText        Format = "txt"
	FormatOFX         Format = "ofx"
	FormatPDF         Format = "pdf"
	FormatSpreadsheet Format = "spreadsheet"
	FormatAI          Format = "ai"
)

// Confidence is an informational hint shown during review.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Defaults applied when a source carries no usable value.
const (
	DefaultDescription    = "Imported transaction"
	DefaultOFXDescription = "OFX transaction"
	DefaultCategory       = "General"
)

// Candidate is a parsed transaction awaiting review. Amount is always a
// non-negative magnitude; Direction carries the sign.
type Candidate struct {
	Description string               `json:"description"`
	Amount      decimal.Decimal      `json:"amount"`
	Date        string               `json:"date"`
	Category    string               `json:"category"`
	Direction   normalizer.Direction `json:"direction"`
	Confidence  Confidence           `json:"confidence"`
	SourceType  string               `json:"source_type,omitempty"`
	Line        int                  `json:"line,omitempty"`
}

// IsIncome reports whether the candidate is money in.
func (c Candidate) IsIncome() bool { return c.Direction == normalizer.Income }

// Diagnostic explains why one row, line or block was skipped.
type Diagnostic struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Reason)
	}
	return d.Reason
}

// Report is the outcome of one parse: candidates in source order plus the
// diagnostics for everything that was skipped.
type Report struct {
	Format      Format       `json:"format"`
	Candidates  []Candidate  `json:"candidates"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// rowResult is the per-row outcome: exactly one of its fields is set.
type rowResult struct {
	candidate *Candidate
	skip      *Diagnostic
}

func accepted(c Candidate) rowResult { return rowResult{candidate: &c} }

func skipped(line int, raw, format string, args ...any) rowResult {
	return rowResult{skip: &Diagnostic{Line: line, Reason: fmt.Sprintf(format, args...), Raw: truncate(raw, 120)}}
}

func newReport(format Format) *Report {
	return &Report{Format: format, Candidates: []Candidate{}, Diagnostics: []Diagnostic{}}
}

func (r *Report) add(res rowResult) {
	switch {
	case res.candidate != nil:
		r.Candidates = append(r.Candidates, *res.candidate)
	case res.skip != nil:
		r.Diagnostics = append(r.Diagnostics, *res.skip)
	}
}

// finish escalates an empty report into a DocumentEmpty failure.
func (r *Report) finish() (*Report, error) {
	if len(r.Candidates) == 0 {
		return nil, &ParseFailure{Kind: ErrDocumentEmpty, Format: r.Format, Diagnostics: r.Diagnostics}
	}
	return r, nil
}

// Parser converts one document into a report. Parsing is pure and
// in-memory; I/O happens before Parse is called.
type Parser interface {
	Format() Format
	Parse(data []byte) (*Report, error)
}

// Source is a raw statement plus its file name, used for format dispatch.
type Source struct {
	FileName string
	Data     []byte
}

// Extension returns the lowercased file extension including the dot.
func (s Source) Extension() string {
	return strings.ToLower(filepath.Ext(s.FileName))
}

// magnitude splits a signed amount into its absolute value and sign-based
// direction.
func magnitude(signed decimal.Decimal) (decimal.Decimal, normalizer.Direction) {
	return signed.Abs(), normalizer.DirectionFromSign(signed)
}

func descriptionOr(raw, fallback string) string {
	if d := normalizer.CleanDescription(raw); d != "" {
		return d
	}
	return fallback
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
