package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
	importservice "github.com/HenriqueDutra22/Mycash/internal/domain/import/service"
	"github.com/HenriqueDutra22/Mycash/pkg/interceptors"
)

type mockImportService struct {
	mock.Mock
}

func (m *mockImportService) Preview(ctx context.Context, req importservice.PreviewRequest) (*importservice.PreviewResult, error) {
	args := m.Called(ctx, req)
	if res, ok := args.Get(0).(*importservice.PreviewResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockImportService) ListCandidates(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, []*repository.StagedCandidate, error) {
	args := m.Called(ctx, userID, jobID)
	job, _ := args.Get(0).(*repository.ImportJob)
	candidates, _ := args.Get(1).([]*repository.StagedCandidate)
	return job, candidates, args.Error(2)
}

func (m *mockImportService) UpdateCandidate(ctx context.Context, userID, jobID, candidateID uuid.UUID, edit importservice.CandidateEdit) (*repository.StagedCandidate, error) {
	args := m.Called(ctx, userID, jobID, candidateID, edit)
	c, _ := args.Get(0).(*repository.StagedCandidate)
	return c, args.Error(1)
}

func (m *mockImportService) SetAllDirections(ctx context.Context, userID, jobID uuid.UUID, income bool) (int, error) {
	args := m.Called(ctx, userID, jobID, income)
	return args.Int(0), args.Error(1)
}

func (m *mockImportService) Commit(ctx context.Context, userID, jobID uuid.UUID) (*importservice.CommitResult, error) {
	args := m.Called(ctx, userID, jobID)
	res, _ := args.Get(0).(*importservice.CommitResult)
	return res, args.Error(1)
}

var posted = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func stagedFixture(jobID uuid.UUID) []*repository.StagedCandidate {
	return []*repository.StagedCandidate{
		{ID: uuid.New(), JobID: jobID, PostedOn: posted, Description: "PIX RECEBIDO", AmountMinor: 15000, Direction: "income", Category: "General", Confidence: "high"},
		{ID: uuid.New(), JobID: jobID, Position: 1, PostedOn: posted, Description: "MERCADO", AmountMinor: 4590, Direction: "expense", Category: "General", Confidence: "medium"},
	}
}

func authedContext(userID uuid.UUID) context.Context {
	return interceptors.WithUserID(context.Background(), userID.String())
}

func TestImportHandler_PreviewStatement(t *testing.T) {
	svc := new(mockImportService)
	h := NewImportHandler(svc)
	userID, jobID := uuid.New(), uuid.New()

	svc.On("Preview", mock.Anything, mock.MatchedBy(func(req importservice.PreviewRequest) bool {
		return req.UserID == userID && req.FileName == "extrato.txt" && req.Locale == "br" && !req.UseAI
	})).Return(&importservice.PreviewResult{
		Job:         &repository.ImportJob{ID: jobID, Format: "txt"},
		Candidates:  stagedFixture(jobID),
		Diagnostics: []parser.Diagnostic{{Line: 3, Reason: "no date found"}},
	}, nil)

	resp, err := h.PreviewStatement(authedContext(userID), connect.NewRequest(&PreviewStatementRequest{
		FileName: "extrato.txt",
		Content:  []byte("05/03/2024 PIX RECEBIDO 150,00"),
		Locale:   "br",
	}))
	require.NoError(t, err)

	assert.Equal(t, jobID.String(), resp.Msg.JobID)
	assert.Equal(t, "txt", resp.Msg.Format)
	require.Len(t, resp.Msg.Candidates, 2)
	assert.Equal(t, "2024-03-05", resp.Msg.Candidates[0].Date)
	assert.Equal(t, "150.00", resp.Msg.Candidates[0].Amount)
	assert.True(t, resp.Msg.Candidates[0].Income)
	assert.False(t, resp.Msg.Candidates[1].Income)
	assert.Equal(t, []Diagnostic{{Line: 3, Reason: "no date found"}}, resp.Msg.Diagnostics)
	assert.Equal(t, PreviewSummary{Count: 2, IncomeTotal: "150.00", ExpenseTotal: "45.90"}, resp.Msg.Summary)
	svc.AssertExpectations(t)
}

func TestImportHandler_RequiresAuthentication(t *testing.T) {
	h := NewImportHandler(new(mockImportService))

	_, err := h.PreviewStatement(context.Background(), connect.NewRequest(&PreviewStatementRequest{FileName: "a.csv"}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = h.CommitImport(context.Background(), connect.NewRequest(&CommitImportRequest{JobID: uuid.NewString()}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestImportHandler_InvalidIdentifiers(t *testing.T) {
	h := NewImportHandler(new(mockImportService))
	ctx := authedContext(uuid.New())

	_, err := h.PreviewStatement(ctx, connect.NewRequest(&PreviewStatementRequest{FileName: "a.csv", AccountID: "nope"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = h.ListCandidates(ctx, connect.NewRequest(&ListCandidatesRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = h.UpdateCandidate(ctx, connect.NewRequest(&UpdateCandidateRequest{JobID: uuid.NewString(), CandidateID: "x"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestImportHandler_ExtractWithAIForcesAI(t *testing.T) {
	svc := new(mockImportService)
	h := NewImportHandler(svc)
	userID := uuid.New()

	svc.On("Preview", mock.Anything, mock.MatchedBy(func(req importservice.PreviewRequest) bool {
		return req.UseAI && req.FileName == "recibo.jpg"
	})).Return(nil, importservice.ErrAIUnavailable)

	_, err := h.ExtractWithAI(authedContext(userID), connect.NewRequest(&ExtractWithAIRequest{
		FileName: "recibo.jpg",
		Content:  []byte{0xFF, 0xD8},
	}))
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
	svc.AssertExpectations(t)
}

func TestImportHandler_UpdateCandidate(t *testing.T) {
	svc := new(mockImportService)
	h := NewImportHandler(svc)
	userID, jobID := uuid.New(), uuid.New()
	staged := stagedFixture(jobID)[1]
	cardID := uuid.New()

	t.Run("links card and sets category", func(t *testing.T) {
		category := "Groceries"
		updated := *staged
		updated.Category = category
		updated.CardID = &cardID

		svc.On("UpdateCandidate", mock.Anything, userID, jobID, staged.ID, importservice.CandidateEdit{
			Category: &category,
			CardID:   &cardID,
		}).Return(&updated, nil).Once()

		card := cardID.String()
		resp, err := h.UpdateCandidate(authedContext(userID), connect.NewRequest(&UpdateCandidateRequest{
			JobID:       jobID.String(),
			CandidateID: staged.ID.String(),
			Category:    &category,
			CardID:      &card,
		}))
		require.NoError(t, err)
		require.NotNil(t, resp.Msg.Candidate)
		assert.Equal(t, "Groceries", resp.Msg.Candidate.Category)
		assert.Equal(t, card, *resp.Msg.Candidate.CardID)
	})

	t.Run("empty card id unlinks", func(t *testing.T) {
		svc.On("UpdateCandidate", mock.Anything, userID, jobID, staged.ID, importservice.CandidateEdit{
			ClearCard: true,
		}).Return(staged, nil).Once()

		empty := ""
		resp, err := h.UpdateCandidate(authedContext(userID), connect.NewRequest(&UpdateCandidateRequest{
			JobID:       jobID.String(),
			CandidateID: staged.ID.String(),
			CardID:      &empty,
		}))
		require.NoError(t, err)
		assert.Nil(t, resp.Msg.Candidate.CardID)
	})

	t.Run("delete", func(t *testing.T) {
		svc.On("UpdateCandidate", mock.Anything, userID, jobID, staged.ID, importservice.CandidateEdit{
			Delete: true,
		}).Return(nil, nil).Once()

		resp, err := h.UpdateCandidate(authedContext(userID), connect.NewRequest(&UpdateCandidateRequest{
			JobID:       jobID.String(),
			CandidateID: staged.ID.String(),
			Delete:      true,
		}))
		require.NoError(t, err)
		assert.True(t, resp.Msg.Deleted)
		assert.Nil(t, resp.Msg.Candidate)
	})

	svc.AssertExpectations(t)
}

func TestImportHandler_SetAllDirectionsAndCommit(t *testing.T) {
	svc := new(mockImportService)
	h := NewImportHandler(svc)
	userID, jobID := uuid.New(), uuid.New()
	ctx := authedContext(userID)

	svc.On("SetAllDirections", mock.Anything, userID, jobID, false).Return(2, nil)
	svc.On("Commit", mock.Anything, userID, jobID).Return(&importservice.CommitResult{JobID: jobID, RowsTotal: 2, RowsImported: 2}, nil)

	setResp, err := h.SetAllDirections(ctx, connect.NewRequest(&SetAllDirectionsRequest{JobID: jobID.String()}))
	require.NoError(t, err)
	assert.Equal(t, 2, setResp.Msg.UpdatedCount)

	commitResp, err := h.CommitImport(ctx, connect.NewRequest(&CommitImportRequest{JobID: jobID.String()}))
	require.NoError(t, err)
	assert.Equal(t, jobID.String(), commitResp.Msg.JobID)
	assert.Equal(t, 2, commitResp.Msg.ImportedCount)
	svc.AssertExpectations(t)
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      connect.Code
		suggestAI bool
	}{
		{"empty file", importservice.ErrEmptyFile, connect.CodeInvalidArgument, false},
		{"too large", importservice.ErrFileTooLarge, connect.CodeResourceExhausted, false},
		{"unknown locale", normalizer.ErrUnknownLocale, connect.CodeInvalidArgument, false},
		{"unsupported", &parser.ParseFailure{Kind: parser.ErrFormatUnsupported, Extension: ".doc"}, connect.CodeInvalidArgument, false},
		{"unreadable pdf", &parser.ParseFailure{Kind: parser.ErrDocumentUnreadable, Format: parser.FormatPDF, SuggestAI: true}, connect.CodeInvalidArgument, true},
		{"empty document", &parser.ParseFailure{Kind: parser.ErrDocumentEmpty, Format: parser.FormatCSV}, connect.CodeFailedPrecondition, false},
		{"committed job", importservice.ErrJobNotReviewable, connect.CodeFailedPrecondition, false},
		{"nothing to commit", importservice.ErrNothingToCommit, connect.CodeFailedPrecondition, false},
		{"ai unavailable", importservice.ErrAIUnavailable, connect.CodeUnavailable, false},
		{"job not found", repository.ErrJobNotFound, connect.CodeNotFound, false},
		{"candidate not found", repository.ErrCandidateNotFound, connect.CodeNotFound, false},
		{"unexpected", errors.New("boom"), connect.CodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := toConnectError(tt.err)
			assert.Equal(t, tt.want, connect.CodeOf(err))

			var cerr *connect.Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.suggestAI, cerr.Meta().Get("X-Suggest-AI") == "true")
		})
	}
}

func TestNewImportServiceHandler_JSONRoundTrip(t *testing.T) {
	svc := new(mockImportService)
	userID, jobID := uuid.New(), uuid.New()

	svc.On("ListCandidates", mock.Anything, userID, jobID).Return(
		&repository.ImportJob{ID: jobID, Status: repository.StatusReview, Format: "csv"},
		stagedFixture(jobID),
		nil,
	)

	injectUser := connect.UnaryInterceptorFunc(func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			return next(interceptors.WithUserID(ctx, userID.String()), req)
		}
	})
	path, handler := NewImportServiceHandler(NewImportHandler(svc), connect.WithInterceptors(injectUser))
	assert.Equal(t, "/import.v1.ImportService/", path)

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	defer server.Close()

	client := connect.NewClient[ListCandidatesRequest, ListCandidatesResponse](
		server.Client(),
		server.URL+ListCandidatesProcedure,
		connect.WithCodec(JSONCodec{}),
	)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&ListCandidatesRequest{JobID: jobID.String()}))
	require.NoError(t, err)

	assert.Equal(t, "review", resp.Msg.Status)
	require.Len(t, resp.Msg.Candidates, 2)
	assert.Equal(t, "45.90", resp.Msg.Candidates[1].Amount)
	svc.AssertExpectations(t)

	_, err = client.CallUnary(context.Background(), connect.NewRequest(&ListCandidatesRequest{JobID: "bad"}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
