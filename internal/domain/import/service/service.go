// Package service provides the import orchestration logic.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/sniffer"
	"github.com/HenriqueDutra22/Mycash/pkg/observability"
)

const (
	importBatchSize     = 500
	defaultMaxFileBytes = 10 << 20
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrFileTooLarge     = errors.New("file exceeds the upload limit")
	ErrJobNotReviewable = errors.New("import is no longer in review")
	ErrNothingToCommit  = errors.New("import has no candidates to commit")
	ErrInvalidCandidate = errors.New("invalid candidate edit")
	ErrMissingStatement = errors.New("file name is required")
)

// PreviewRequest is one uploaded statement
type PreviewRequest struct {
	UserID    uuid.UUID
	AccountID *uuid.UUID
	FileName  string
	Data      []byte
	UseAI     bool
	Locale    string
}

// PreviewResult is a staged import awaiting review
type PreviewResult struct {
	Job         *repository.ImportJob
	Candidates  []*repository.StagedCandidate
	Diagnostics []parser.Diagnostic
}

// CandidateEdit describes one review change. Nil fields are left alone.
type CandidateEdit struct {
	Toggle    bool
	Income    *bool
	Category  *string
	CardID    *uuid.UUID
	ClearCard bool
	Delete    bool
}

// CommitResult contains the result of a commit
type CommitResult struct {
	JobID        uuid.UUID
	RowsTotal    int
	RowsImported int
}

// ImportService stages parsed statements for review and commits them
type ImportService struct {
	repo         repository.ImportRepository
	orchestrator *Orchestrator
	logger       *slog.Logger
	tracer       trace.Tracer
	maxFileBytes int64
}

// NewImportService creates a new import service
func NewImportService(repo repository.ImportRepository, orchestrator *Orchestrator, maxFileBytes int64, logger *slog.Logger) *ImportService {
	if maxFileBytes <= 0 {
		maxFileBytes = defaultMaxFileBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportService{
		repo:         repo,
		orchestrator: orchestrator,
		logger:       logger,
		tracer:       otel.Tracer("mycash/import"),
		maxFileBytes: maxFileBytes,
	}
}

// Preview parses a statement and stages its candidates under a new job
func (s *ImportService) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	l := s.logger.With(slog.String("method", "Preview"), slog.String("user_id", req.UserID.String()))
	l.Debug("Previewing statement", slog.String("file", req.FileName), slog.Int("bytes", len(req.Data)))

	if strings.TrimSpace(req.FileName) == "" {
		return nil, ErrMissingStatement
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(req.Data)) > s.maxFileBytes {
		return nil, ErrFileTooLarge
	}

	src := parser.Source{FileName: req.FileName, Data: req.Data}
	report, err := s.orchestrator.Extract(ctx, src, ExtractOptions{UseAI: req.UseAI, Locale: req.Locale})
	if err != nil {
		l.Warn("Statement could not be parsed", slog.Any("error", err))
		return nil, err
	}

	staged, diagnostics := stageCandidates(report)
	if len(staged) == 0 {
		return nil, &parser.ParseFailure{Kind: parser.ErrDocumentEmpty, Format: report.Format, Diagnostics: diagnostics}
	}

	checksum := sha256.Sum256(req.Data)
	checksumHex := hex.EncodeToString(checksum[:])
	file := &repository.UserFile{
		UserID:         req.UserID,
		Type:           fileType(src),
		MimeType:       mimeType(src),
		FileName:       req.FileName,
		SizeBytes:      int64(len(req.Data)),
		ChecksumSHA256: &checksumHex,
	}
	if err := s.repo.CreateUserFile(ctx, file); err != nil {
		l.Error("Failed to create file record", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	job := &repository.ImportJob{
		UserID:            req.UserID,
		FileID:            file.ID,
		Format:            string(report.Format),
		Status:            repository.StatusReview,
		AccountID:         req.AccountID,
		LayoutFingerprint: layoutFingerprint(report.Format, req.Data),
		RowsTotal:         len(staged),
		DiagnosticsCount:  len(diagnostics),
		RequestedAt:       time.Now(),
	}
	if err := s.repo.CreateImportJob(ctx, job); err != nil {
		l.Error("Failed to create import job", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}

	for _, c := range staged {
		c.JobID = job.ID
	}
	if _, err := s.repo.SaveCandidates(ctx, staged); err != nil {
		l.Error("Failed to stage candidates", slog.Any("error", err))
		msg := err.Error()
		if finishErr := s.repo.FinishImportJob(ctx, job.ID, repository.StatusFailed, 0, len(staged), &msg); finishErr != nil {
			l.Warn("Failed to mark import job failed", slog.Any("error", finishErr))
		}
		return nil, fmt.Errorf("failed to stage candidates: %w", err)
	}

	l.Info("Statement staged for review",
		slog.String("job_id", job.ID.String()),
		slog.String("format", job.Format),
		slog.Int("candidates", len(staged)),
		slog.Int("diagnostics", len(diagnostics)))

	return &PreviewResult{Job: job, Candidates: staged, Diagnostics: diagnostics}, nil
}

// ListCandidates returns a job and its staged candidates
func (s *ImportService) ListCandidates(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, []*repository.StagedCandidate, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, nil, err
	}
	candidates, err := s.repo.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return job, candidates, nil
}

// UpdateCandidate applies one review edit. A deleted candidate is returned
// as nil.
func (s *ImportService) UpdateCandidate(ctx context.Context, userID, jobID, candidateID uuid.UUID, edit CandidateEdit) (*repository.StagedCandidate, error) {
	l := s.logger.With(slog.String("method", "UpdateCandidate"), slog.String("job_id", jobID.String()))

	if _, err := s.reviewableJob(ctx, userID, jobID); err != nil {
		return nil, err
	}

	if edit.Delete {
		if err := s.repo.DeleteCandidate(ctx, jobID, candidateID); err != nil {
			return nil, err
		}
		l.Debug("Candidate deleted", slog.String("candidate_id", candidateID.String()))
		return nil, nil
	}

	candidates, err := s.repo.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	var target *repository.StagedCandidate
	for _, c := range candidates {
		if c.ID == candidateID {
			target = c
			break
		}
	}
	if target == nil {
		return nil, repository.ErrCandidateNotFound
	}

	direction := normalizer.Direction(target.Direction)
	switch {
	case edit.Income != nil && *edit.Income:
		direction = normalizer.Income
	case edit.Income != nil:
		direction = normalizer.Expense
	case edit.Toggle:
		direction = direction.Opposite()
	}
	target.Direction = string(direction)

	if edit.Category != nil {
		category := normalizer.CleanDescription(*edit.Category)
		if category == "" {
			return nil, fmt.Errorf("%w: category must not be blank", ErrInvalidCandidate)
		}
		target.Category = category
	}
	if edit.ClearCard {
		target.CardID = nil
	} else if edit.CardID != nil {
		target.CardID = edit.CardID
	}

	if err := s.repo.UpdateCandidate(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// SetAllDirections marks every candidate of a job as income or expense
func (s *ImportService) SetAllDirections(ctx context.Context, userID, jobID uuid.UUID, income bool) (int, error) {
	if _, err := s.reviewableJob(ctx, userID, jobID); err != nil {
		return 0, err
	}
	direction := normalizer.Expense
	if income {
		direction = normalizer.Income
	}
	n, err := s.repo.SetAllDirections(ctx, jobID, string(direction))
	if err != nil {
		return 0, err
	}
	s.logger.Debug("Directions set", slog.String("job_id", jobID.String()), slog.String("direction", string(direction)), slog.Int("rows", n))
	return n, nil
}

// Commit converts the reviewed candidates 1:1 into transactions
func (s *ImportService) Commit(ctx context.Context, userID, jobID uuid.UUID) (result *CommitResult, err error) {
	l := s.logger.With(slog.String("method", "Commit"), slog.String("job_id", jobID.String()))
	l.Debug("Committing import")

	ctx, span := s.tracer.Start(ctx, "import.Commit", trace.WithAttributes(attribute.String("import.job_id", jobID.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("import.rows_imported", result.RowsImported))
		}
		span.End()
	}()

	job, err := s.reviewableJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrNothingToCommit
	}

	rowsImported := 0
	for start := 0; start < len(candidates); start += importBatchSize {
		end := min(start+importBatchSize, len(candidates))
		batch := make([]*repository.CommittedTransaction, 0, end-start)
		for _, c := range candidates[start:end] {
			batch = append(batch, toTransaction(c, job.Format))
		}

		imported, err := s.repo.BulkInsertTransactions(ctx, userID, job.AccountID, batch)
		if err != nil {
			l.Error("Bulk insert failed", slog.Int("rows_imported", rowsImported), slog.Any("error", err))
			msg := err.Error()
			if finishErr := s.repo.FinishImportJob(ctx, jobID, repository.StatusFailed, rowsImported, len(candidates)-rowsImported, &msg); finishErr != nil {
				l.Warn("Failed to mark import job failed", slog.Any("error", finishErr))
			}
			return nil, fmt.Errorf("failed to insert transactions: %w", err)
		}
		rowsImported += imported

		if err := s.repo.UpdateImportJobProgress(ctx, jobID, rowsImported, 0); err != nil {
			l.Warn("Failed to update import job progress", slog.Any("error", err))
		}
	}

	if err := s.repo.FinishImportJob(ctx, jobID, repository.StatusCommitted, rowsImported, len(candidates)-rowsImported, nil); err != nil {
		l.Warn("Failed to finish import job", slog.Any("error", err))
	}
	observability.TransactionsCommitted.Add(float64(rowsImported))

	l.Info("Import committed", slog.Int("rows_imported", rowsImported))
	return &CommitResult{JobID: jobID, RowsTotal: len(candidates), RowsImported: rowsImported}, nil
}

// ownedJob loads a job and hides jobs of other users behind not-found
func (s *ImportService) ownedJob(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.repo.GetImportJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, repository.ErrJobNotFound
	}
	return job, nil
}

func (s *ImportService) reviewableJob(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, error) {
	job, err := s.ownedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != repository.StatusReview {
		return nil, ErrJobNotReviewable
	}
	return job, nil
}

// stageCandidates converts parser output into rows for review. Candidates
// that cannot be stored become diagnostics.
func stageCandidates(report *parser.Report) ([]*repository.StagedCandidate, []parser.Diagnostic) {
	diagnostics := append([]parser.Diagnostic(nil), report.Diagnostics...)
	staged := make([]*repository.StagedCandidate, 0, len(report.Candidates))

	for _, c := range report.Candidates {
		posted, err := normalizer.ParseCanonicalDate(c.Date, time.UTC)
		if err != nil {
			diagnostics = append(diagnostics, parser.Diagnostic{Line: c.Line, Reason: fmt.Sprintf("invalid date %q", c.Date)})
			continue
		}
		minor := normalizer.ToMinorUnits(c.Amount.Abs())
		if minor == 0 {
			diagnostics = append(diagnostics, parser.Diagnostic{Line: c.Line, Reason: fmt.Sprintf("amount %s rounds to zero", c.Amount)})
			continue
		}
		direction := c.Direction
		if !direction.Valid() {
			direction = normalizer.Expense
		}

		var sourceType *string
		if c.SourceType != "" {
			st := c.SourceType
			sourceType = &st
		}
		staged = append(staged, &repository.StagedCandidate{
			Position:    len(staged),
			PostedOn:    posted,
			Description: c.Description,
			AmountMinor: minor,
			Direction:   string(direction),
			Category:    c.Category,
			Confidence:  string(c.Confidence),
			SourceType:  sourceType,
		})
	}
	return staged, diagnostics
}

func toTransaction(c *repository.StagedCandidate, source string) *repository.CommittedTransaction {
	amount := c.AmountMinor
	txType := "credit"
	if normalizer.Direction(c.Direction) == normalizer.Expense {
		amount = -amount
		txType = "debit"
	}
	tx := &repository.CommittedTransaction{
		Date:        c.PostedOn,
		Description: c.Description,
		AmountMinor: amount,
		Type:        txType,
		Category:    c.Category,
		CardID:      c.CardID,
		Source:      source,
	}
	tx.ExternalID = repository.GenerateExternalID(tx)
	return tx
}

// layoutFingerprint identifies the header layout of delimited statements
func layoutFingerprint(format parser.Format, data []byte) *string {
	if format != parser.FormatCSV {
		return nil
	}
	cfg, err := sniffer.DetectConfig(strings.Split(parser.DecodeText(data), "\n"))
	if err != nil || cfg.Fingerprint == "" {
		return nil
	}
	return &cfg.Fingerprint
}

func fileType(src parser.Source) string {
	if parser.NeedsAI(src) {
		return "image"
	}
	ext := strings.TrimPrefix(src.Extension(), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

func mimeType(src parser.Source) string {
	switch src.Extension() {
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	case ".ofx":
		return "application/x-ofx"
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
