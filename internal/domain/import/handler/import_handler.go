// Package handler implements the ImportService Connect RPC handlers.
package handler

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
	importservice "github.com/HenriqueDutra22/Mycash/internal/domain/import/service"
	"github.com/HenriqueDutra22/Mycash/pkg/interceptors"
)

// ImportServiceName is the fully-qualified Connect service name.
const ImportServiceName = "import.v1.ImportService"

// Procedure paths.
const (
	PreviewStatementProcedure = "/" + ImportServiceName + "/PreviewStatement"
	ExtractWithAIProcedure    = "/" + ImportServiceName + "/ExtractWithAI"
	ListCandidatesProcedure   = "/" + ImportServiceName + "/ListCandidates"
	UpdateCandidateProcedure  = "/" + ImportServiceName + "/UpdateCandidate"
	SetAllDirectionsProcedure = "/" + ImportServiceName + "/SetAllDirections"
	CommitImportProcedure     = "/" + ImportServiceName + "/CommitImport"
)

// ImportService is the subset of the import service used by the handler.
type ImportService interface {
	Preview(ctx context.Context, req importservice.PreviewRequest) (*importservice.PreviewResult, error)
	ListCandidates(ctx context.Context, userID, jobID uuid.UUID) (*repository.ImportJob, []*repository.StagedCandidate, error)
	UpdateCandidate(ctx context.Context, userID, jobID, candidateID uuid.UUID, edit importservice.CandidateEdit) (*repository.StagedCandidate, error)
	SetAllDirections(ctx context.Context, userID, jobID uuid.UUID, income bool) (int, error)
	Commit(ctx context.Context, userID, jobID uuid.UUID) (*importservice.CommitResult, error)
}

var _ ImportService = (*importservice.ImportService)(nil)

// ImportHandler implements the ImportService Connect handlers.
type ImportHandler struct {
	service ImportService
}

// NewImportHandler constructs a new handler.
func NewImportHandler(svc ImportService) *ImportHandler {
	return &ImportHandler{service: svc}
}

// NewImportServiceHandler mounts every import procedure on one mux path.
// The JSON codec is always installed.
func NewImportServiceHandler(h *ImportHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PreviewStatementProcedure, connect.NewUnaryHandler(PreviewStatementProcedure, h.PreviewStatement, opts...))
	mux.Handle(ExtractWithAIProcedure, connect.NewUnaryHandler(ExtractWithAIProcedure, h.ExtractWithAI, opts...))
	mux.Handle(ListCandidatesProcedure, connect.NewUnaryHandler(ListCandidatesProcedure, h.ListCandidates, opts...))
	mux.Handle(UpdateCandidateProcedure, connect.NewUnaryHandler(UpdateCandidateProcedure, h.UpdateCandidate, opts...))
	mux.Handle(SetAllDirectionsProcedure, connect.NewUnaryHandler(SetAllDirectionsProcedure, h.SetAllDirections, opts...))
	mux.Handle(CommitImportProcedure, connect.NewUnaryHandler(CommitImportProcedure, h.CommitImport, opts...))
	return "/" + ImportServiceName + "/", mux
}

// PreviewStatement parses an uploaded statement and stages it for review.
func (h *ImportHandler) PreviewStatement(
	ctx context.Context,
	req *connect.Request[PreviewStatementRequest],
) (*connect.Response[PreviewStatementResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	accountID, err := optionalUUID(req.Msg.AccountID, "account_id")
	if err != nil {
		return nil, err
	}

	result, err := h.service.Preview(ctx, importservice.PreviewRequest{
		UserID:    userID,
		AccountID: accountID,
		FileName:  req.Msg.FileName,
		Data:      req.Msg.Content,
		UseAI:     req.Msg.UseAI,
		Locale:    req.Msg.Locale,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(toPreviewResponse(result)), nil
}

// ExtractWithAI stages a statement or receipt using the AI extractor only.
func (h *ImportHandler) ExtractWithAI(
	ctx context.Context,
	req *connect.Request[ExtractWithAIRequest],
) (*connect.Response[PreviewStatementResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	accountID, err := optionalUUID(req.Msg.AccountID, "account_id")
	if err != nil {
		return nil, err
	}

	result, err := h.service.Preview(ctx, importservice.PreviewRequest{
		UserID:    userID,
		AccountID: accountID,
		FileName:  req.Msg.FileName,
		Data:      req.Msg.Content,
		UseAI:     true,
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(toPreviewResponse(result)), nil
}

// ListCandidates returns a staged job and its candidates.
func (h *ImportHandler) ListCandidates(
	ctx context.Context,
	req *connect.Request[ListCandidatesRequest],
) (*connect.Response[ListCandidatesResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := requiredUUID(req.Msg.JobID, "job_id")
	if err != nil {
		return nil, err
	}

	job, candidates, err := h.service.ListCandidates(ctx, userID, jobID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&ListCandidatesResponse{
		JobID:        job.ID.String(),
		Status:       job.Status,
		Format:       job.Format,
		RowsImported: job.RowsImported,
		FinishedAt:   jobTimestamp(job.FinishedAt),
		Candidates:   toCandidates(candidates),
	}), nil
}

// UpdateCandidate applies one review edit.
func (h *ImportHandler) UpdateCandidate(
	ctx context.Context,
	req *connect.Request[UpdateCandidateRequest],
) (*connect.Response[UpdateCandidateResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := requiredUUID(req.Msg.JobID, "job_id")
	if err != nil {
		return nil, err
	}
	candidateID, err := requiredUUID(req.Msg.CandidateID, "candidate_id")
	if err != nil {
		return nil, err
	}

	edit := importservice.CandidateEdit{
		Toggle:   req.Msg.Toggle,
		Income:   req.Msg.Income,
		Category: req.Msg.Category,
		Delete:   req.Msg.Delete,
	}
	if req.Msg.CardID != nil {
		if *req.Msg.CardID == "" {
			edit.ClearCard = true
		} else {
			cardID, err := requiredUUID(*req.Msg.CardID, "card_id")
			if err != nil {
				return nil, err
			}
			edit.CardID = &cardID
		}
	}

	updated, err := h.service.UpdateCandidate(ctx, userID, jobID, candidateID, edit)
	if err != nil {
		return nil, toConnectError(err)
	}

	if updated == nil {
		return connect.NewResponse(&UpdateCandidateResponse{Deleted: true}), nil
	}
	c := toCandidate(updated)
	return connect.NewResponse(&UpdateCandidateResponse{Candidate: &c}), nil
}

// SetAllDirections marks every candidate of a job as income or expense.
func (h *ImportHandler) SetAllDirections(
	ctx context.Context,
	req *connect.Request[SetAllDirectionsRequest],
) (*connect.Response[SetAllDirectionsResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := requiredUUID(req.Msg.JobID, "job_id")
	if err != nil {
		return nil, err
	}

	n, err := h.service.SetAllDirections(ctx, userID, jobID, req.Msg.Income)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&SetAllDirectionsResponse{UpdatedCount: n}), nil
}

// CommitImport writes the reviewed candidates as transactions.
func (h *ImportHandler) CommitImport(
	ctx context.Context,
	req *connect.Request[CommitImportRequest],
) (*connect.Response[CommitImportResponse], error) {
	userID, err := userFromContext(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := requiredUUID(req.Msg.JobID, "job_id")
	if err != nil {
		return nil, err
	}

	result, err := h.service.Commit(ctx, userID, jobID)
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&CommitImportResponse{
		JobID:         result.JobID.String(),
		ImportedCount: result.RowsImported,
	}), nil
}

func toPreviewResponse(result *importservice.PreviewResult) *PreviewStatementResponse {
	return &PreviewStatementResponse{
		JobID:       result.Job.ID.String(),
		Format:      result.Job.Format,
		Candidates:  toCandidates(result.Candidates),
		Diagnostics: toDiagnostics(result.Diagnostics),
		Summary:     summarize(result.Candidates),
	}
}

func userFromContext(ctx context.Context) (uuid.UUID, error) {
	userIDStr, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok || userIDStr == "" {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInternal, errors.New("invalid user ID in context"))
	}
	return userID, nil
}

func requiredUUID(raw, field string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New(field+" is required"))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid "+field))
	}
	return id, nil
}

func optionalUUID(raw, field string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := requiredUUID(raw, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toConnectError(err error) error {
	var failure *parser.ParseFailure
	switch {
	case errors.Is(err, importservice.ErrEmptyFile),
		errors.Is(err, importservice.ErrMissingStatement),
		errors.Is(err, importservice.ErrInvalidCandidate),
		errors.Is(err, normalizer.ErrUnknownLocale),
		errors.Is(err, parser.ErrFormatUnsupported),
		errors.Is(err, parser.ErrDocumentUnreadable):
		return withSuggestAI(connect.NewError(connect.CodeInvalidArgument, err), err)
	case errors.Is(err, importservice.ErrFileTooLarge):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, parser.ErrDocumentEmpty),
		errors.Is(err, importservice.ErrJobNotReviewable),
		errors.Is(err, importservice.ErrNothingToCommit):
		return withSuggestAI(connect.NewError(connect.CodeFailedPrecondition, err), err)
	case errors.Is(err, importservice.ErrAIUnavailable):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, repository.ErrJobNotFound),
		errors.Is(err, repository.ErrCandidateNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.As(err, &failure):
		return withSuggestAI(connect.NewError(connect.CodeInvalidArgument, err), err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// withSuggestAI tells clients that re-sending through ExtractWithAI may work.
func withSuggestAI(cerr *connect.Error, err error) *connect.Error {
	if failure, ok := parser.AsFailure(err); ok && failure.SuggestAI {
		cerr.Meta().Set("X-Suggest-AI", "true")
	}
	return cerr
}
