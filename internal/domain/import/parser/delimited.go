package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/sniffer"
)

var errZeroAmount = errors.New("amount is zero")

// standardRow is the standardized export layout.
type standardRow struct {
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Credit      string `csv:"credit"`
	Debit       string `csv:"debit"`
}

// DelimitedParser reads header-driven CSV/TSV exports. The standardized
// date,description,credit,debit layout is read with fixed semantics; any
// other header is resolved by probing known column-name variants.
type DelimitedParser struct {
	// Locale decides decimal separators; nil means per-token detection.
	Locale normalizer.Locale
}

func (p *DelimitedParser) Format() Format { return FormatCSV }

func (p *DelimitedParser) Parse(data []byte) (*Report, error) {
	report := newReport(FormatCSV)
	lines := splitLines(DecodeText(data))

	config, err := sniffer.DetectConfig(lines)
	switch {
	case errors.Is(err, sniffer.ErrEmptyFile):
		return report.finish()
	case errors.Is(err, sniffer.ErrNoHeadersFound):
		report.add(skipped(0, "", "no header row with date and amount columns found"))
		return report.finish()
	case err != nil:
		return nil, &ParseFailure{Kind: ErrDocumentUnreadable, Format: FormatCSV, Cause: err}
	}

	body, lineNumbers := dataLines(lines, config.SkipLines+1)
	if config.Standard {
		if err := p.parseStandard(report, config.Delimiter, body, lineNumbers); err != nil {
			return nil, &ParseFailure{Kind: ErrDocumentUnreadable, Format: FormatCSV, Cause: err}
		}
		return report.finish()
	}

	cols := sniffer.SuggestColumns(config.Headers)
	resolve, ok := p.amountScheme(cols)
	if !ok {
		report.add(skipped(config.SkipLines+1, lines[config.SkipLines], "no amount, credit or debit column in header"))
		return report.finish()
	}

	for i, raw := range body {
		fields, err := sniffer.SplitLine(raw, config.Delimiter)
		if err != nil {
			report.add(skipped(lineNumbers[i], raw, "malformed row: %v", err))
			continue
		}
		report.add(p.parseRow(lineNumbers[i], raw, fields, cols, resolve))
	}
	return report.finish()
}

// dataLines returns the non-blank lines from start on, with their 1-based
// source line numbers.
func dataLines(lines []string, start int) ([]string, []int) {
	var body []string
	var numbers []int
	for i := start; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		body = append(body, lines[i])
		numbers = append(numbers, i+1)
	}
	return body, numbers
}

func (p *DelimitedParser) parseStandard(report *Report, delimiter rune, body []string, lineNumbers []int) error {
	if len(body) == 0 {
		return nil
	}
	header := strings.Join(sniffer.StandardHeaders, string(delimiter))
	reader := csv.NewReader(strings.NewReader(header + "\n" + strings.Join(body, "\n")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows []standardRow
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return fmt.Errorf("read standardized rows: %w", err)
	}

	for i, row := range rows {
		line, raw := 0, ""
		if i < len(lineNumbers) {
			line, raw = lineNumbers[i], body[i]
		}
		resolve := func([]string) (decimal.Decimal, normalizer.Direction, Confidence, error) {
			return resolveCreditDebit(row.Credit, row.Debit, p.locale())
		}
		fields := []string{row.Date, row.Description}
		cols := &sniffer.ColumnSuggestions{DateCol: 0, DescCol: 1, CategoryCol: -1}
		report.add(p.parseRow(line, raw, fields, cols, resolve))
	}
	return nil
}

type amountResolver func(fields []string) (decimal.Decimal, normalizer.Direction, Confidence, error)

// amountScheme prefers separate credit/debit columns over a single signed
// column.
func (p *DelimitedParser) amountScheme(cols *sniffer.ColumnSuggestions) (amountResolver, bool) {
	locale := p.locale()
	switch {
	case cols.IsDoubleEntry:
		return func(fields []string) (decimal.Decimal, normalizer.Direction, Confidence, error) {
			return resolveCreditDebit(cell(fields, cols.CreditCol), cell(fields, cols.DebitCol), locale)
		}, true
	case cols.AmountCol != -1:
		return func(fields []string) (decimal.Decimal, normalizer.Direction, Confidence, error) {
			return resolveSigned(cell(fields, cols.AmountCol), locale)
		}, true
	}
	return nil, false
}

func (p *DelimitedParser) parseRow(line int, raw string, fields []string, cols *sniffer.ColumnSuggestions, resolve amountResolver) rowResult {
	rawDate := strings.TrimSpace(cell(fields, cols.DateCol))
	if rawDate == "" {
		return skipped(line, raw, "missing date")
	}
	date, err := normalizer.NormalizeDate(rawDate)
	if err != nil {
		return skipped(line, raw, "invalid date %q", rawDate)
	}

	amount, direction, confidence, err := resolve(fields)
	if err != nil {
		return skipped(line, raw, "%v", err)
	}

	description := descriptionOr(cell(fields, cols.DescCol), DefaultDescription)
	if description == DefaultDescription {
		confidence = ConfidenceLow
	}

	return accepted(Candidate{
		Description: description,
		Amount:      amount,
		Date:        date,
		Category:    descriptionOr(cell(fields, cols.CategoryCol), DefaultCategory),
		Direction:   direction,
		Confidence:  confidence,
		Line:        line,
	})
}

// resolveSigned reads one signed column: the sign gives the direction.
func resolveSigned(raw string, locale normalizer.Locale) (decimal.Decimal, normalizer.Direction, Confidence, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, "", "", errors.New("missing amount")
	}
	value, err := normalizer.ParseAmount(raw, locale)
	if err != nil {
		return decimal.Zero, "", "", err
	}
	if value.IsZero() {
		return decimal.Zero, "", "", errZeroAmount
	}
	mag, dir := magnitude(value)
	return mag, dir, ConfidenceHigh, nil
}

// resolveCreditDebit reads separate columns: the column gives the
// direction. When both are filled the larger magnitude wins; a tie counts
// as an expense.
func resolveCreditDebit(rawCredit, rawDebit string, locale normalizer.Locale) (decimal.Decimal, normalizer.Direction, Confidence, error) {
	credit, err := normalizer.ParseOptionalAmount(rawCredit, locale)
	if err != nil {
		return decimal.Zero, "", "", fmt.Errorf("credit: %w", err)
	}
	debit, err := normalizer.ParseOptionalAmount(rawDebit, locale)
	if err != nil {
		return decimal.Zero, "", "", fmt.Errorf("debit: %w", err)
	}
	credit, debit = credit.Abs(), debit.Abs()

	switch {
	case credit.IsZero() && debit.IsZero():
		return decimal.Zero, "", "", errZeroAmount
	case debit.IsZero():
		return credit, normalizer.Income, ConfidenceHigh, nil
	case credit.IsZero():
		return debit, normalizer.Expense, ConfidenceHigh, nil
	case credit.GreaterThan(debit):
		return credit, normalizer.Income, ConfidenceLow, nil
	default:
		return debit, normalizer.Expense, ConfidenceLow, nil
	}
}

func (p *DelimitedParser) locale() normalizer.Locale {
	if p.Locale == nil {
		return normalizer.Auto
	}
	return p.Locale
}

func cell(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[idx])
}
