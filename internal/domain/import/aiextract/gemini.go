// Package aiextract reads statements and receipts that have no extractable
// text (scans, photos) by asking a Gemini model for a strict JSON list of
// transactions.
package aiextract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

var (
	ErrNotConfigured = errors.New("AI extraction is not configured")
	ErrEmptyResponse = errors.New("empty response from model")
	ErrBadResponse   = errors.New("model response is not a transaction list")
)

const prompt = "You are a bank statement and receipt parser for a Brazilian personal finance app.\n\n" +
	"Task:\n" +
	"- Extract ALL transactions in the attached document.\n" +
	"- Output STRICT JSON only: a JSON array of objects, no extra text.\n\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"description\": string, the merchant or counterpart\n" +
	"- \"amount\": number, always positive\n" +
	"- \"is_income\": boolean\n" +
	"- \"category\": string, a short category name in Portuguese\n" +
	"- \"confidence\": \"high\" or \"low\"\n\n" +
	"Rules:\n" +
	"- CRÉDITO, RENDIMENTO, PIX RECEBIDO, DEPÓSITO mean is_income true.\n" +
	"- DÉBITO, PAGAMENTO, PIX ENVIADO, COMPRA, TARIFA mean is_income false.\n" +
	"- A receipt is a single expense.\n" +
	"- Ignore running balances and totals.\n" +
	"Return ONLY valid raw JSON. Do NOT use Markdown code fences.\n"

// generator is the slice of *genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor implements the AI extraction path.
type GeminiExtractor struct {
	models generator
	model  string
	logger *slog.Logger

	// Timeout bounds one model call. Zero means the caller's deadline only.
	Timeout time.Duration
}

// NewGeminiExtractor creates a Gemini API client for apiKey.
func NewGeminiExtractor(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newExtractor(client.Models, model, logger), nil
}

func newExtractor(models generator, model string, logger *slog.Logger) *GeminiExtractor {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiExtractor{models: models, model: model, logger: logger}
}

// aiTransaction is one element of the model's JSON array.
type aiTransaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	IsIncome    bool            `json:"is_income"`
	Category    string          `json:"category"`
	Confidence  string          `json:"confidence"`
}

// Extract sends the document to the model and converts its answer into a
// report. Items the model got wrong become diagnostics.
func (e *GeminiExtractor) Extract(ctx context.Context, src parser.Source) (*parser.Report, error) {
	l := e.logger.With(slog.String("method", "Extract"), slog.String("file", src.FileName))

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{MIMEType: MIMEType(src), Data: src.Data}},
			},
		},
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		l.Error("Model call failed", slog.Any("error", err))
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}

	var items []aiTransaction
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &items); err != nil {
		l.Warn("Unparseable model response", slog.Int("bytes", len(raw)))
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	report := &parser.Report{Format: parser.FormatAI, Candidates: []parser.Candidate{}, Diagnostics: []parser.Diagnostic{}}
	for i, item := range items {
		c, reason := toCandidate(item)
		if reason != "" {
			report.Diagnostics = append(report.Diagnostics, parser.Diagnostic{Reason: fmt.Sprintf("item %d: %s", i+1, reason)})
			continue
		}
		report.Candidates = append(report.Candidates, c)
	}

	if len(report.Candidates) == 0 {
		return nil, &parser.ParseFailure{Kind: parser.ErrDocumentEmpty, Format: parser.FormatAI, Diagnostics: report.Diagnostics}
	}
	l.Info("AI extraction finished", slog.Int("candidates", len(report.Candidates)), slog.Int("diagnostics", len(report.Diagnostics)))
	return report, nil
}

func toCandidate(item aiTransaction) (parser.Candidate, string) {
	amount, err := parseModelAmount(item.Amount)
	if err != nil {
		return parser.Candidate{}, fmt.Sprintf("invalid amount %s", string(item.Amount))
	}
	if amount.IsZero() {
		return parser.Candidate{}, "amount is zero"
	}
	date, err := normalizer.NormalizeDate(item.Date)
	if err != nil {
		return parser.Candidate{}, fmt.Sprintf("invalid date %q", item.Date)
	}

	direction := normalizer.Expense
	if item.IsIncome {
		direction = normalizer.Income
	}
	confidence := parser.ConfidenceLow
	if strings.EqualFold(item.Confidence, string(parser.ConfidenceHigh)) {
		confidence = parser.ConfidenceHigh
	}
	category := normalizer.CleanDescription(item.Category)
	if category == "" {
		category = parser.DefaultCategory
	}
	description := normalizer.CleanDescription(item.Description)
	if description == "" {
		description = parser.DefaultDescription
	}

	return parser.Candidate{
		Description: description,
		Amount:      amount.Abs(),
		Date:        date,
		Category:    category,
		Direction:   direction,
		Confidence:  confidence,
	}, ""
}

// parseModelAmount accepts a JSON number or a locale-formatted string.
func parseModelAmount(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, normalizer.ErrInvalidAmount
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return decimal.Zero, err
		}
		return normalizer.ParseAmount(s, normalizer.Auto)
	}
	return decimal.NewFromString(string(raw))
}

// MIMEType maps a file extension to the inline blob type.
func MIMEType(src parser.Source) string {
	switch src.Extension() {
	case ".pdf":
		return "application/pdf"
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
	case ".csv":
		return "text/csv"
	default:
		return "text/plain"
	}
}

// cleanModelJSON strips Markdown fences and any text around the array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
