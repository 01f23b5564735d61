// Package sniffer provides automatic detection of CSV/TSV file layouts.
// It identifies delimiters, header rows, column roles and generates
// fingerprints for bank recognition.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

// maxHeaderSearch bounds how many preamble lines a bank may put before the
// header row.
const maxHeaderSearch = 20

// Accepted header names per column role, probed in order. Comparison is on
// accent-folded lowercase text.
var (
	dateHeaders = []string{
		"date", "data", "data do lancamento", "data lancamento", "data mov.", "data mov",
		"data movimentacao", "data movimento", "fecha",
	}
	descHeaders = []string{
		"description", "descricao", "historico", "lancamento", "memo", "merchant", "nome", "name",
	}
	creditHeaders = []string{"credit", "credito", "credito (r$)", "entrada", "abono"}
	debitHeaders  = []string{"debit", "debito", "debito (r$)", "saida", "cargo"}
	amountHeaders = []string{"amount", "valor", "valor (r$)", "value", "importe", "montante"}
	categoryHeaders = []string{"category", "categoria", "tipo", "type"}
	balanceHeaders  = []string{"balance", "saldo"}
)

// StandardHeaders is the standardized export layout.
var StandardHeaders = []string{"date", "description", "credit", "debit"}

// FileConfig holds the detected configuration for a CSV/TSV file
type FileConfig struct {
	Delimiter   rune     // The field delimiter (';', ',', '\t', '|')
	SkipLines   int      // Number of metadata lines before headers
	Headers     []string // Detected header names
	Fingerprint string   // SHA256 hash of normalized headers
	Standard    bool     // Headers are exactly the standardized layout
}

// ColumnSuggestions provides auto-detected column indices
type ColumnSuggestions struct {
	DateCol       int  // Date column index (-1 if not found)
	DescCol       int  // Description column index
	AmountCol     int  // Single signed amount column
	DebitCol      int  // Debit column index
	CreditCol     int  // Credit column index
	CategoryCol   int  // Category column index (-1 if not found)
	BalanceCol    int  // Running balance, never an amount
	IsDoubleEntry bool // Amounts come from the debit/credit columns
}

var (
	ErrEmptyFile      = errors.New("file is empty")
	ErrNoHeadersFound = errors.New("could not find data headers")
)

// DetectConfig analyzes the decoded text of a CSV/TSV file and returns its
// configuration. lines must already have line endings stripped.
func DetectConfig(lines []string) (*FileConfig, error) {
	if len(lines) == 0 || strings.TrimSpace(strings.Join(lines, "")) == "" {
		return nil, ErrEmptyFile
	}

	for i, line := range lines {
		if i >= maxHeaderSearch {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		delimiter, ok := guessDelimiter(line)
		if !ok {
			continue
		}
		headers, err := SplitLine(line, delimiter)
		if err != nil {
			continue
		}
		if !looksLikeHeader(headers) {
			continue
		}
		for j, h := range headers {
			headers[j] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
		return &FileConfig{
			Delimiter:   delimiter,
			SkipLines:   i,
			Headers:     headers,
			Fingerprint: generateFingerprint(headers),
			Standard:    isStandard(headers),
		}, nil
	}

	return nil, ErrNoHeadersFound
}

// SplitLine reads one delimited record with lenient quoting.
func SplitLine(line string, delimiter rune) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader.Read()
}

// guessDelimiter picks the delimiter that splits the line into the most
// fields. Ties go to the earlier entry.
func guessDelimiter(line string) (rune, bool) {
	delimiters := []rune{';', '\t', ',', '|'}
	best, bestCount := rune(0), 0
	for _, d := range delimiters {
		if c := strings.Count(line, string(d)); c > bestCount {
			best, bestCount = d, c
		}
	}
	return best, bestCount > 0
}

// looksLikeHeader requires a date column plus at least one other known role
// so preamble lines such as "Data de início;01-01-2024" are skipped.
func looksLikeHeader(fields []string) bool {
	s := SuggestColumns(fields)
	if s.DateCol == -1 {
		return false
	}
	return s.DescCol != -1 || s.AmountCol != -1 || s.DebitCol != -1 || s.CreditCol != -1
}

func isStandard(headers []string) bool {
	if len(headers) != len(StandardHeaders) {
		return false
	}
	for i, h := range headers {
		if normalizer.FoldHeader(h) != StandardHeaders[i] {
			return false
		}
	}
	return true
}

// SuggestColumns matches columns by header name. Exact variants are probed
// in order first; substring rules catch the rest.
func SuggestColumns(headers []string) *ColumnSuggestions {
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = normalizer.FoldHeader(h)
	}

	suggestions := &ColumnSuggestions{
		DateCol:     probe(folded, dateHeaders),
		DescCol:     probe(folded, descHeaders),
		AmountCol:   probe(folded, amountHeaders),
		DebitCol:    probe(folded, debitHeaders),
		CreditCol:   probe(folded, creditHeaders),
		CategoryCol: probe(folded, categoryHeaders),
		BalanceCol:  probe(folded, balanceHeaders),
	}

	for i, h := range folded {
		if suggestions.DateCol == -1 && (strings.HasPrefix(h, "data mov") || strings.Contains(h, "date") ||
			strings.HasPrefix(h, "fecha") || strings.HasPrefix(h, "data do lanc")) {
			suggestions.DateCol = i
		}
		if suggestions.DescCol == -1 && (strings.Contains(h, "descri") || strings.Contains(h, "historico")) {
			suggestions.DescCol = i
		}
		if suggestions.DebitCol == -1 && strings.HasPrefix(h, "debit") && !isCardHeader(h) {
			suggestions.DebitCol = i
		}
		if suggestions.CreditCol == -1 && strings.HasPrefix(h, "credit") && !isCardHeader(h) {
			suggestions.CreditCol = i
		}
		if suggestions.BalanceCol == -1 && strings.HasPrefix(h, "saldo") {
			suggestions.BalanceCol = i
		}
		if suggestions.CategoryCol == -1 && strings.Contains(h, "categ") {
			suggestions.CategoryCol = i
		}
	}

	// A lone credit or debit column only carries amounts when there is no
	// signed amount column next to it.
	hasDebit, hasCredit := suggestions.DebitCol != -1, suggestions.CreditCol != -1
	suggestions.IsDoubleEntry = (hasDebit && hasCredit) ||
		((hasDebit || hasCredit) && suggestions.AmountCol == -1)
	return suggestions
}

// isCardHeader catches "Credit Card" or "Cartão de débito" style columns,
// which name a payment method rather than an amount.
func isCardHeader(h string) bool {
	return strings.Contains(h, "card") || strings.Contains(h, "cartao")
}

// probe returns the index of the first variant present in headers.
func probe(headers, variants []string) int {
	for _, v := range variants {
		for i, h := range headers {
			if h == v {
				return i
			}
		}
	}
	return -1
}

// generateFingerprint creates a unique hash from header names
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, normalizer.FoldAccents(h))
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	joined := strings.Join(normalized, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
