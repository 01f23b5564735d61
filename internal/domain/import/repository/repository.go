// Package repository provides data access for import-related entities.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Import job statuses.
const (
	StatusReview    = "review"
	StatusCommitted = "committed"
	StatusFailed    = "failed"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrCandidateNotFound = errors.New("import candidate not found")
)

// ImportJob tracks one statement from preview to commit
type ImportJob struct {
	ID                uuid.UUID  `db:"id"`
	UserID            uuid.UUID  `db:"user_id"`
	FileID            uuid.UUID  `db:"file_id"`
	Format            string     `db:"format"` // parser that produced the candidates
	Status            string     `db:"status"` // "review", "committed", "failed"
	AccountID         *uuid.UUID `db:"account_id"`
	LayoutFingerprint *string    `db:"layout_fingerprint"`
	ErrorMessage      *string    `db:"error_message"`
	RowsTotal         int        `db:"rows_total"`
	RowsImported      int        `db:"rows_imported"`
	RowsFailed        int        `db:"rows_failed"`
	DiagnosticsCount  int        `db:"diagnostics_count"`
	RequestedAt       time.Time  `db:"requested_at"`
	FinishedAt        *time.Time `db:"finished_at"`
}

// UserFile records an uploaded statement. The bytes themselves are not kept.
type UserFile struct {
	ID             uuid.UUID `db:"id"`
	UserID         uuid.UUID `db:"user_id"`
	Type           string    `db:"type"` // "csv", "txt", "ofx", "pdf", "xlsx", "image"
	MimeType       string    `db:"mime_type"`
	FileName       string    `db:"file_name"`
	SizeBytes      int64     `db:"size_bytes"`
	ChecksumSHA256 *string   `db:"checksum_sha256"`
	CreatedAt      time.Time `db:"created_at"`
}

// StagedCandidate is a parsed transaction held for review. AmountMinor is
// the non-negative magnitude in cents.
type StagedCandidate struct {
	ID          uuid.UUID  `db:"id"`
	JobID       uuid.UUID  `db:"job_id"`
	Position    int        `db:"position"`
	PostedOn    time.Time  `db:"posted_on"`
	Description string     `db:"description"`
	AmountMinor int64      `db:"amount_minor"`
	Direction   string     `db:"direction"` // "income", "expense"
	Category    string     `db:"category"`
	Confidence  string     `db:"confidence"`
	SourceType  *string    `db:"source_type"`
	CardID      *uuid.UUID `db:"card_id"`
}

// CommittedTransaction is a reviewed candidate ready to be stored
type CommittedTransaction struct {
	Date        time.Time
	Description string
	AmountMinor int64  // Signed: negative for expenses, positive for income
	Type        string // "credit" or "debit"
	Category    string
	CardID      *uuid.UUID
	Source      string
	ExternalID  string // For deduplication
}

// ImportRepository defines data access operations for imports
type ImportRepository interface {
	// User Files
	CreateUserFile(ctx context.Context, file *UserFile) error

	// Import Jobs
	CreateImportJob(ctx context.Context, job *ImportJob) error
	GetImportJobByID(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	UpdateImportJobProgress(ctx context.Context, id uuid.UUID, rowsImported, rowsFailed int) error
	FinishImportJob(ctx context.Context, id uuid.UUID, status string, rowsImported, rowsFailed int, errorMessage *string) error

	// Staged candidates
	SaveCandidates(ctx context.Context, candidates []*StagedCandidate) (int, error)
	ListCandidates(ctx context.Context, jobID uuid.UUID) ([]*StagedCandidate, error)
	UpdateCandidate(ctx context.Context, candidate *StagedCandidate) error
	SetAllDirections(ctx context.Context, jobID uuid.UUID, direction string) (int, error)
	DeleteCandidate(ctx context.Context, jobID, candidateID uuid.UUID) error

	// Transactions (bulk insert for committed candidates)
	BulkInsertTransactions(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, txs []*CommittedTransaction) (int, error)
}
