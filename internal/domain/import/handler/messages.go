package handler

import (
	"time"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
)

// PreviewStatementRequest uploads one statement. Content is base64 in JSON.
type PreviewStatementRequest struct {
	FileName  string `json:"file_name"`
	Content   []byte `json:"content"`
	AccountID string `json:"account_id,omitempty"`
	Locale    string `json:"locale,omitempty"`
	UseAI     bool   `json:"use_ai,omitempty"`
}

// ExtractWithAIRequest uploads a statement or receipt for AI extraction.
type ExtractWithAIRequest struct {
	FileName  string `json:"file_name"`
	Content   []byte `json:"content"`
	AccountID string `json:"account_id,omitempty"`
}

// PreviewStatementResponse is a staged import.
type PreviewStatementResponse struct {
	JobID       string         `json:"job_id"`
	Format      string         `json:"format"`
	Candidates  []Candidate    `json:"candidates"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
	Summary     PreviewSummary `json:"summary"`
}

// PreviewSummary totals the staged candidates.
type PreviewSummary struct {
	Count        int    `json:"count"`
	IncomeTotal  string `json:"income_total"`
	ExpenseTotal string `json:"expense_total"`
}

// Candidate is one staged transaction.
type Candidate struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      string  `json:"amount"`
	Income      bool    `json:"income"`
	Category    string  `json:"category"`
	Confidence  string  `json:"confidence"`
	SourceType  *string `json:"source_type,omitempty"`
	CardID      *string `json:"card_id,omitempty"`
}

// Diagnostic explains a skipped row.
type Diagnostic struct {
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason"`
}

type ListCandidatesRequest struct {
	JobID string `json:"job_id"`
}

type ListCandidatesResponse struct {
	JobID        string      `json:"job_id"`
	Status       string      `json:"status"`
	Format       string      `json:"format"`
	RowsImported int         `json:"rows_imported"`
	FinishedAt   string      `json:"finished_at,omitempty"`
	Candidates   []Candidate `json:"candidates"`
}

// UpdateCandidateRequest edits one candidate. Absent fields are unchanged.
type UpdateCandidateRequest struct {
	JobID       string  `json:"job_id"`
	CandidateID string  `json:"candidate_id"`
	Toggle      bool    `json:"toggle,omitempty"`
	Income      *bool   `json:"income,omitempty"`
	Category    *string `json:"category,omitempty"`
	CardID      *string `json:"card_id,omitempty"` // "" unlinks the card
	Delete      bool    `json:"delete,omitempty"`
}

type UpdateCandidateResponse struct {
	Candidate *Candidate `json:"candidate,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

type SetAllDirectionsRequest struct {
	JobID  string `json:"job_id"`
	Income bool   `json:"income"`
}

type SetAllDirectionsResponse struct {
	UpdatedCount int `json:"updated_count"`
}

type CommitImportRequest struct {
	JobID string `json:"job_id"`
}

type CommitImportResponse struct {
	JobID         string `json:"job_id"`
	ImportedCount int    `json:"imported_count"`
}

func toCandidate(c *repository.StagedCandidate) Candidate {
	out := Candidate{
		ID:          c.ID.String(),
		Date:        c.PostedOn.Format(normalizer.CanonicalDateLayout),
		Description: c.Description,
		Amount:      normalizer.FromMinorUnits(c.AmountMinor).StringFixed(2),
		Income:      c.Direction == string(normalizer.Income),
		Category:    c.Category,
		Confidence:  c.Confidence,
		SourceType:  c.SourceType,
	}
	if c.CardID != nil {
		id := c.CardID.String()
		out.CardID = &id
	}
	return out
}

func toCandidates(staged []*repository.StagedCandidate) []Candidate {
	out := make([]Candidate, 0, len(staged))
	for _, c := range staged {
		out = append(out, toCandidate(c))
	}
	return out
}

func toDiagnostics(diags []parser.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, Diagnostic{Line: d.Line, Reason: d.Reason})
	}
	return out
}

func summarize(staged []*repository.StagedCandidate) PreviewSummary {
	var income, expense int64
	for _, c := range staged {
		if c.Direction == string(normalizer.Income) {
			income += c.AmountMinor
		} else {
			expense += c.AmountMinor
		}
	}
	return PreviewSummary{
		Count:        len(staged),
		IncomeTotal:  normalizer.FromMinorUnits(income).StringFixed(2),
		ExpenseTotal: normalizer.FromMinorUnits(expense).StringFixed(2),
	}
}

func jobTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
