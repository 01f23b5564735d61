package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
)

const statement = "05/03/2024 PIX RECEBIDO JOHN 150,00 1200,00\n" +
	"06/03/2024 COMPRA MERCADO 45,90 1154,10\n" +
	"SALDO ANTERIOR 1000,00\n"

func newTestService(repo repository.ImportRepository, ai AIExtractor, autoFallback bool) *ImportService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(parser.Options{Locale: normalizer.Auto}, ai, autoFallback, logger)
	return NewImportService(repo, orch, 0, logger)
}

func TestPreview_StagesCandidates(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	userID := uuid.New()

	result, err := svc.Preview(context.Background(), PreviewRequest{UserID: userID, FileName: "extrato.TXT", Data: []byte(statement)})
	require.NoError(t, err)

	assert.Equal(t, "txt", result.Job.Format)
	assert.Equal(t, repository.StatusReview, result.Job.Status)
	assert.Equal(t, 2, result.Job.RowsTotal)
	assert.Equal(t, 1, result.Job.DiagnosticsCount)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, 3, result.Diagnostics[0].Line)

	require.Len(t, result.Candidates, 2)
	first, second := result.Candidates[0], result.Candidates[1]
	assert.Equal(t, int64(15000), first.AmountMinor)
	assert.Equal(t, "income", first.Direction)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), first.PostedOn)
	assert.Equal(t, int64(4590), second.AmountMinor)
	assert.Equal(t, "expense", second.Direction)
	assert.Equal(t, 1, second.Position)

	file := repo.files[result.Job.FileID]
	require.NotNil(t, file)
	assert.Equal(t, "txt", file.Type)
	assert.Equal(t, userID, file.UserID)
	require.NotNil(t, file.ChecksumSHA256)
	assert.Len(t, *file.ChecksumSHA256, 64)

	staged, err := repo.ListCandidates(context.Background(), result.Job.ID)
	require.NoError(t, err)
	assert.Len(t, staged, 2)
}

func TestPreview_CSVRecordsLayoutFingerprint(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)

	data := "date,description,credit,debit\n2024-03-05,Salary,5000.00,\n"
	result, err := svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "a.csv", Data: []byte(data)})
	require.NoError(t, err)

	require.NotNil(t, result.Job.LayoutFingerprint)
	assert.NotEmpty(t, *result.Job.LayoutFingerprint)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, int64(500000), result.Candidates[0].AmountMinor)
	assert.Equal(t, "income", result.Candidates[0].Direction)
}

func TestPreview_Failures(t *testing.T) {
	svc := newTestService(newFakeImportRepo(), nil, false)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.txt"})
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = svc.Preview(ctx, PreviewRequest{UserID: userID, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrMissingStatement)

	_, err = svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.exe", Data: []byte("MZ")})
	assert.ErrorIs(t, err, parser.ErrFormatUnsupported)

	_, err = svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "blank.txt", Data: []byte("\n\n  \n")})
	assert.ErrorIs(t, err, parser.ErrDocumentEmpty)
	assert.ErrorContains(t, err, "no transactions found")

	_, err = svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "recibo.jpg", Data: []byte{0xFF}})
	assert.ErrorIs(t, err, parser.ErrFormatUnsupported)
	failure, ok := parser.AsFailure(err)
	require.True(t, ok)
	assert.True(t, failure.SuggestAI)

	_, err = svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.pdf", Data: []byte("x"), UseAI: true})
	assert.ErrorIs(t, err, ErrAIUnavailable)
}

func TestPreview_Locale(t *testing.T) {
	svc := newTestService(newFakeImportRepo(), nil, false)
	data := "date,description,credit,debit\n2024-03-05,Rent,,1.234\n"

	result, err := svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "a.csv", Data: []byte(data), Locale: "br"})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, int64(123400), result.Candidates[0].AmountMinor)

	result, err = svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "a.csv", Data: []byte(data), Locale: "us"})
	require.NoError(t, err)
	assert.Equal(t, int64(123), result.Candidates[0].AmountMinor)

	_, err = svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "a.csv", Data: []byte(data), Locale: "fr"})
	assert.ErrorIs(t, err, normalizer.ErrUnknownLocale)
}

func TestPreview_FileTooLarge(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(parser.Options{}, nil, false, logger)
	svc := NewImportService(newFakeImportRepo(), orch, 4, logger)

	_, err := svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "a.txt", Data: []byte("12345")})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

type mockAIExtractor struct {
	mock.Mock
}

func (m *mockAIExtractor) Extract(ctx context.Context, src parser.Source) (*parser.Report, error) {
	args := m.Called(ctx, src)
	if report, ok := args.Get(0).(*parser.Report); ok {
		return report, args.Error(1)
	}
	return nil, args.Error(1)
}

func aiReport() *parser.Report {
	return &parser.Report{
		Format: parser.FormatAI,
		Candidates: []parser.Candidate{{
			Description: "Padaria",
			Amount:      decimal.RequireFromString("23.50"),
			Date:        "2024-03-05",
			Category:    "Alimentação",
			Direction:   normalizer.Expense,
			Confidence:  parser.ConfidenceHigh,
		}},
	}
}

func TestPreview_ImageUsesAI(t *testing.T) {
	ai := new(mockAIExtractor)
	ai.On("Extract", mock.Anything, mock.MatchedBy(func(src parser.Source) bool {
		return src.FileName == "recibo.png"
	})).Return(aiReport(), nil).Once()

	svc := newTestService(newFakeImportRepo(), ai, false)
	result, err := svc.Preview(context.Background(), PreviewRequest{UserID: uuid.New(), FileName: "recibo.png", Data: []byte{0x89, 'P'}})
	require.NoError(t, err)

	assert.Equal(t, "ai", result.Job.Format)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, int64(2350), result.Candidates[0].AmountMinor)
	assert.Equal(t, "Alimentação", result.Candidates[0].Category)
	ai.AssertExpectations(t)
}

func TestOrchestrator_AutoFallback(t *testing.T) {
	src := parser.Source{FileName: "scan.pdf", Data: []byte("not a pdf at all")}

	t.Run("enabled", func(t *testing.T) {
		ai := new(mockAIExtractor)
		ai.On("Extract", mock.Anything, src).Return(aiReport(), nil).Once()
		svc := newTestService(newFakeImportRepo(), ai, true)

		report, err := svc.orchestrator.Extract(context.Background(), src, ExtractOptions{})
		require.NoError(t, err)
		assert.Equal(t, parser.FormatAI, report.Format)
		ai.AssertExpectations(t)
	})

	t.Run("disabled", func(t *testing.T) {
		ai := new(mockAIExtractor)
		svc := newTestService(newFakeImportRepo(), ai, false)

		_, err := svc.orchestrator.Extract(context.Background(), src, ExtractOptions{})
		assert.ErrorIs(t, err, parser.ErrDocumentUnreadable)
		ai.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	})

	t.Run("fallback fails keeps local error", func(t *testing.T) {
		ai := new(mockAIExtractor)
		ai.On("Extract", mock.Anything, src).Return(nil, errors.New("quota")).Once()
		svc := newTestService(newFakeImportRepo(), ai, true)

		_, err := svc.orchestrator.Extract(context.Background(), src, ExtractOptions{})
		assert.ErrorIs(t, err, parser.ErrDocumentUnreadable)
		assert.ErrorContains(t, err, "try AI extraction")
		ai.AssertExpectations(t)
	})

	t.Run("text formats never fall back", func(t *testing.T) {
		ai := new(mockAIExtractor)
		svc := newTestService(newFakeImportRepo(), ai, true)

		_, err := svc.orchestrator.Extract(context.Background(), parser.Source{FileName: "a.txt", Data: []byte("nothing here")}, ExtractOptions{})
		assert.ErrorIs(t, err, parser.ErrDocumentEmpty)
		ai.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	})
}

func TestReviewOperations(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	ctx := context.Background()
	userID := uuid.New()

	result, err := svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.txt", Data: []byte(statement)})
	require.NoError(t, err)
	jobID := result.Job.ID
	first, second := result.Candidates[0], result.Candidates[1]

	updated, err := svc.UpdateCandidate(ctx, userID, jobID, first.ID, CandidateEdit{Toggle: true})
	require.NoError(t, err)
	assert.Equal(t, "expense", updated.Direction)

	category := "  Salário  "
	cardID := uuid.New()
	updated, err = svc.UpdateCandidate(ctx, userID, jobID, first.ID, CandidateEdit{Category: &category, CardID: &cardID})
	require.NoError(t, err)
	assert.Equal(t, "Salário", updated.Category)
	assert.Equal(t, &cardID, updated.CardID)
	assert.Equal(t, "expense", updated.Direction)

	blank := " "
	_, err = svc.UpdateCandidate(ctx, userID, jobID, first.ID, CandidateEdit{Category: &blank})
	assert.ErrorIs(t, err, ErrInvalidCandidate)

	_, err = svc.UpdateCandidate(ctx, userID, jobID, uuid.New(), CandidateEdit{Toggle: true})
	assert.ErrorIs(t, err, repository.ErrCandidateNotFound)

	n, err := svc.SetAllDirections(ctx, userID, jobID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, listed, err := svc.ListCandidates(ctx, userID, jobID)
	require.NoError(t, err)
	for _, c := range listed {
		assert.Equal(t, "income", c.Direction)
	}

	deleted, err := svc.UpdateCandidate(ctx, userID, jobID, second.ID, CandidateEdit{Delete: true})
	require.NoError(t, err)
	assert.Nil(t, deleted)

	_, listed, err = svc.ListCandidates(ctx, userID, jobID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, _, err = svc.ListCandidates(ctx, uuid.New(), jobID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestCommit_SignsAmountsAndLocksJob(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	ctx := context.Background()
	userID := uuid.New()

	result, err := svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.txt", Data: []byte(statement)})
	require.NoError(t, err)

	commit, err := svc.Commit(ctx, userID, result.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, commit.RowsImported)

	require.Len(t, repo.inserted, 2)
	assert.Equal(t, int64(15000), repo.inserted[0].AmountMinor)
	assert.Equal(t, "credit", repo.inserted[0].Type)
	assert.Equal(t, int64(-4590), repo.inserted[1].AmountMinor)
	assert.Equal(t, "debit", repo.inserted[1].Type)
	assert.Equal(t, "txt", repo.inserted[1].Source)
	assert.NotEmpty(t, repo.inserted[1].ExternalID)

	assert.Equal(t, repository.StatusCommitted, repo.jobs[result.Job.ID].Status)

	_, err = svc.Commit(ctx, userID, result.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotReviewable)
	_, err = svc.SetAllDirections(ctx, userID, result.Job.ID, false)
	assert.ErrorIs(t, err, ErrJobNotReviewable)
	_, err = svc.UpdateCandidate(ctx, userID, result.Job.ID, result.Candidates[0].ID, CandidateEdit{Toggle: true})
	assert.ErrorIs(t, err, ErrJobNotReviewable)
}

func TestCommit_BatchesAndProgress(t *testing.T) {
	rows := importBatchSize + 5
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	userID := uuid.New()

	job := &repository.ImportJob{ID: uuid.New(), UserID: userID, Format: "csv", Status: repository.StatusReview}
	repo.jobs[job.ID] = job
	for i := 0; i < rows; i++ {
		repo.candidates[job.ID] = append(repo.candidates[job.ID], &repository.StagedCandidate{
			ID:          uuid.New(),
			JobID:       job.ID,
			Position:    i,
			PostedOn:    time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC),
			Description: fmt.Sprintf("Merchant %d", i),
			AmountMinor: 100,
			Direction:   "expense",
			Category:    "Food",
		})
	}

	result, err := svc.Commit(context.Background(), userID, job.ID)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if result.RowsImported != rows {
		t.Fatalf("expected %d imported rows, got %d", rows, result.RowsImported)
	}

	bulkSizes := repo.bulkSizes()
	if len(bulkSizes) != 2 {
		t.Fatalf("expected 2 bulk inserts, got %d", len(bulkSizes))
	}
	if bulkSizes[0] != importBatchSize {
		t.Fatalf("expected first batch size %d, got %d", importBatchSize, bulkSizes[0])
	}
	if bulkSizes[1] != rows-importBatchSize {
		t.Fatalf("expected second batch size %d, got %d", rows-importBatchSize, bulkSizes[1])
	}

	progress := repo.progressCalls()
	if len(progress) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(progress))
	}
	if progress[0].rowsImported != importBatchSize || progress[1].rowsImported != rows {
		t.Fatalf("unexpected progress updates: %+v", progress)
	}
}

func TestCommit_InsertFailureMarksJobFailed(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	ctx := context.Background()
	userID := uuid.New()

	result, err := svc.Preview(ctx, PreviewRequest{UserID: userID, FileName: "a.txt", Data: []byte(statement)})
	require.NoError(t, err)

	repo.insertErr = errors.New("connection reset")
	_, err = svc.Commit(ctx, userID, result.Job.ID)
	assert.ErrorContains(t, err, "connection reset")

	job := repo.jobs[result.Job.ID]
	assert.Equal(t, repository.StatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "connection reset")
	assert.Equal(t, 2, job.RowsFailed)
}

func TestCommit_NothingToCommit(t *testing.T) {
	repo := newFakeImportRepo()
	svc := newTestService(repo, nil, false)
	userID := uuid.New()
	job := &repository.ImportJob{ID: uuid.New(), UserID: userID, Status: repository.StatusReview}
	repo.jobs[job.ID] = job

	_, err := svc.Commit(context.Background(), userID, job.ID)
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestStageCandidates_RejectsUnstorableRows(t *testing.T) {
	report := &parser.Report{
		Format: parser.FormatCSV,
		Candidates: []parser.Candidate{
			{Description: "ok", Amount: decimal.RequireFromString("1.00"), Date: "2024-03-05", Direction: normalizer.Income},
			{Description: "tiny", Amount: decimal.RequireFromString("0.001"), Date: "2024-03-05", Direction: normalizer.Income, Line: 4},
			{Description: "bad", Amount: decimal.RequireFromString("2.00"), Date: "2024-02-31", Direction: normalizer.Income, Line: 5},
		},
	}

	staged, diagnostics := stageCandidates(report)
	require.Len(t, staged, 1)
	assert.Equal(t, int64(100), staged[0].AmountMinor)
	require.Len(t, diagnostics, 2)
	assert.Equal(t, 4, diagnostics[0].Line)
	assert.Equal(t, 5, diagnostics[1].Line)
}

type progressSnapshot struct {
	rowsImported int
	rowsFailed   int
}

// fakeImportRepo is an in-memory ImportRepository
type fakeImportRepo struct {
	mu                sync.Mutex
	files             map[uuid.UUID]*repository.UserFile
	jobs              map[uuid.UUID]*repository.ImportJob
	candidates        map[uuid.UUID][]*repository.StagedCandidate
	inserted          []*repository.CommittedTransaction
	bulkInserts       []int
	progressSnapshots []progressSnapshot
	insertErr         error
}

func newFakeImportRepo() *fakeImportRepo {
	return &fakeImportRepo{
		files:      make(map[uuid.UUID]*repository.UserFile),
		jobs:       make(map[uuid.UUID]*repository.ImportJob),
		candidates: make(map[uuid.UUID][]*repository.StagedCandidate),
	}
}

func (f *fakeImportRepo) CreateUserFile(_ context.Context, file *repository.UserFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	f.files[file.ID] = file
	return nil
}

func (f *fakeImportRepo) CreateImportJob(_ context.Context, job *repository.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeImportRepo) GetImportJobByID(_ context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeImportRepo) UpdateImportJobProgress(_ context.Context, _ uuid.UUID, rowsImported, rowsFailed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressSnapshots = append(f.progressSnapshots, progressSnapshot{
		rowsImported: rowsImported,
		rowsFailed:   rowsFailed,
	})
	return nil
}

func (f *fakeImportRepo) FinishImportJob(_ context.Context, id uuid.UUID, status string, rowsImported, rowsFailed int, errorMessage *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	now := time.Now()
	job.Status = status
	job.RowsImported = rowsImported
	job.RowsFailed = rowsFailed
	job.ErrorMessage = errorMessage
	job.FinishedAt = &now
	return nil
}

func (f *fakeImportRepo) SaveCandidates(_ context.Context, candidates []*repository.StagedCandidate) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range candidates {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		copied := *c
		f.candidates[c.JobID] = append(f.candidates[c.JobID], &copied)
	}
	return len(candidates), nil
}

func (f *fakeImportRepo) ListCandidates(_ context.Context, jobID uuid.UUID) ([]*repository.StagedCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*repository.StagedCandidate, 0, len(f.candidates[jobID]))
	for _, c := range f.candidates[jobID] {
		copied := *c
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeImportRepo) UpdateCandidate(_ context.Context, candidate *repository.StagedCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.candidates[candidate.JobID] {
		if c.ID == candidate.ID {
			copied := *candidate
			f.candidates[candidate.JobID][i] = &copied
			return nil
		}
	}
	return repository.ErrCandidateNotFound
}

func (f *fakeImportRepo) SetAllDirections(_ context.Context, jobID uuid.UUID, direction string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.candidates[jobID] {
		c.Direction = direction
	}
	return len(f.candidates[jobID]), nil
}

func (f *fakeImportRepo) DeleteCandidate(_ context.Context, jobID, candidateID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.candidates[jobID]
	for i, c := range list {
		if c.ID == candidateID {
			f.candidates[jobID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return repository.ErrCandidateNotFound
}

func (f *fakeImportRepo) BulkInsertTransactions(_ context.Context, _ uuid.UUID, _ *uuid.UUID, txs []*repository.CommittedTransaction) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.bulkInserts = append(f.bulkInserts, len(txs))
	f.inserted = append(f.inserted, txs...)
	return len(txs), nil
}

func (f *fakeImportRepo) bulkSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.bulkInserts...)
}

func (f *fakeImportRepo) progressCalls() []progressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]progressSnapshot(nil), f.progressSnapshots...)
}
