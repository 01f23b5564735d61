package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const (
	createUserFileQuery = `
		INSERT INTO user_files (id, user_id, type, mime_type, file_name, size_bytes, checksum_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	createImportJobQuery = `
		INSERT INTO import_jobs (id, user_id, file_id, format, status, account_id, layout_fingerprint, rows_total, diagnostics_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	getImportJobQuery = `
		SELECT id, user_id, file_id, format, status, account_id, layout_fingerprint,
		       error_message, rows_total, rows_imported, rows_failed, diagnostics_count,
		       requested_at, finished_at
		FROM import_jobs WHERE id = $1
	`
	updateImportJobProgressQuery = `UPDATE import_jobs SET rows_imported = $2, rows_failed = $3 WHERE id = $1`
	finishImportJobQuery         = `
		UPDATE import_jobs SET
			status = $2, rows_imported = $3, rows_failed = $4,
			error_message = $5, finished_at = NOW()
		WHERE id = $1
	`
	listCandidatesQuery = `
		SELECT id, job_id, position, posted_on, description, amount_minor, direction,
		       category, confidence, source_type, card_id
		FROM import_candidates WHERE job_id = $1
		ORDER BY position
	`
	updateCandidateQuery = `
		UPDATE import_candidates SET direction = $3, category = $4, card_id = $5
		WHERE job_id = $1 AND id = $2
	`
	setAllDirectionsQuery = `UPDATE import_candidates SET direction = $2 WHERE job_id = $1`
	deleteCandidateQuery  = `DELETE FROM import_candidates WHERE job_id = $1 AND id = $2`
)

var (
	candidateColumns = []string{
		"id", "job_id", "position", "posted_on", "description", "amount_minor",
		"direction", "category", "confidence", "source_type", "card_id",
	}
	transactionColumns = []string{
		"id", "user_id", "account_id", "card_id", "posted_at", "description", "original_description",
		"amount_minor", "type", "category", "currency_code", "source", "external_id",
	}
)

// PostgresImportRepository implements ImportRepository using PostgreSQL
type PostgresImportRepository struct {
	pool     PgxPool
	currency string
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository
func NewPostgresImportRepository(pool PgxPool, currency string) *PostgresImportRepository {
	if currency == "" {
		currency = "BRL"
	}
	return &PostgresImportRepository{pool: pool, currency: currency}
}

// CreateUserFile inserts a new user file record
func (r *PostgresImportRepository) CreateUserFile(ctx context.Context, file *UserFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, createUserFileQuery,
		file.ID, file.UserID, file.Type, file.MimeType, file.FileName,
		file.SizeBytes, file.ChecksumSHA256,
	)
	if err != nil {
		return fmt.Errorf("failed to create user file: %w", err)
	}
	return nil
}

// CreateImportJob creates a new import job
func (r *PostgresImportRepository) CreateImportJob(ctx context.Context, job *ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, createImportJobQuery,
		job.ID, job.UserID, job.FileID, job.Format, job.Status,
		job.AccountID, job.LayoutFingerprint, job.RowsTotal, job.DiagnosticsCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}
	return nil
}

// GetImportJobByID retrieves an import job by ID
func (r *PostgresImportRepository) GetImportJobByID(ctx context.Context, id uuid.UUID) (*ImportJob, error) {
	rows, err := r.pool.Query(ctx, getImportJobQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}

	job, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[ImportJob])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

// UpdateImportJobProgress updates the row counts for an import job
func (r *PostgresImportRepository) UpdateImportJobProgress(ctx context.Context, id uuid.UUID, rowsImported, rowsFailed int) error {
	_, err := r.pool.Exec(ctx, updateImportJobProgressQuery, id, rowsImported, rowsFailed)
	if err != nil {
		return fmt.Errorf("failed to update import job progress: %w", err)
	}
	return nil
}

// FinishImportJob marks an import job as complete
func (r *PostgresImportRepository) FinishImportJob(ctx context.Context, id uuid.UUID, status string, rowsImported, rowsFailed int, errorMessage *string) error {
	_, err := r.pool.Exec(ctx, finishImportJobQuery, id, status, rowsImported, rowsFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to finish import job: %w", err)
	}
	return nil
}

// SaveCandidates stages parsed candidates with COPY
func (r *PostgresImportRepository) SaveCandidates(ctx context.Context, candidates []*StagedCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"import_candidates"},
		candidateColumns,
		pgx.CopyFromSlice(len(candidates), func(i int) ([]any, error) {
			c := candidates[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			return []any{
				c.ID, c.JobID, c.Position, c.PostedOn, c.Description, c.AmountMinor,
				c.Direction, c.Category, c.Confidence, c.SourceType, c.CardID,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save candidates: %w", err)
	}
	return int(n), nil
}

// ListCandidates returns the staged candidates of a job in source order
func (r *PostgresImportRepository) ListCandidates(ctx context.Context, jobID uuid.UUID) ([]*StagedCandidate, error) {
	rows, err := r.pool.Query(ctx, listCandidatesQuery, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[StagedCandidate])
	if err != nil {
		return nil, fmt.Errorf("failed to scan candidate: %w", err)
	}
	return candidates, nil
}

// UpdateCandidate stores review edits: direction, category and card
func (r *PostgresImportRepository) UpdateCandidate(ctx context.Context, c *StagedCandidate) error {
	tag, err := r.pool.Exec(ctx, updateCandidateQuery, c.JobID, c.ID, c.Direction, c.Category, c.CardID)
	if err != nil {
		return fmt.Errorf("failed to update candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}
	return nil
}

// SetAllDirections sets the direction of every candidate in a job
func (r *PostgresImportRepository) SetAllDirections(ctx context.Context, jobID uuid.UUID, direction string) (int, error) {
	tag, err := r.pool.Exec(ctx, setAllDirectionsQuery, jobID, direction)
	if err != nil {
		return 0, fmt.Errorf("failed to set directions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteCandidate removes one candidate from review
func (r *PostgresImportRepository) DeleteCandidate(ctx context.Context, jobID, candidateID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteCandidateQuery, jobID, candidateID)
	if err != nil {
		return fmt.Errorf("failed to delete candidate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}
	return nil
}

// BulkInsertTransactions inserts multiple transactions efficiently
func (r *PostgresImportRepository) BulkInsertTransactions(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, txs []*CommittedTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	copyCount, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		transactionColumns,
		pgx.CopyFromSlice(len(txs), func(i int) ([]any, error) {
			tx := txs[i]
			externalID := tx.ExternalID
			if externalID == "" {
				externalID = GenerateExternalID(tx)
			}
			return []any{
				uuid.New(),     // id
				userID,         // user_id
				accountID,      // account_id
				tx.CardID,      // card_id
				tx.Date,        // posted_at
				tx.Description, // description
				tx.Description, // original_description
				tx.AmountMinor, // amount_minor
				tx.Type,        // type
				tx.Category,    // category
				r.currency,     // currency_code
				tx.Source,      // source
				externalID,     // external_id
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert transactions: %w", err)
	}

	return int(copyCount), nil
}

// GenerateExternalID creates a stable identifier for deduplication
func GenerateExternalID(tx *CommittedTransaction) string {
	data := fmt.Sprintf("%s|%s|%d|%s", tx.Date.Format("2006-01-02"), tx.Description, tx.AmountMinor, tx.Type)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16]) // First 16 bytes for reasonable length
}
