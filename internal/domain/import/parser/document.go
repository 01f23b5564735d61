package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

// TextExtractor flattens a paginated document into text, pages in order.
type TextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// PDFExtractor reads text-bearing PDFs. Pages are extracted by up to
// Workers goroutines and joined in page order.
type PDFExtractor struct {
	Workers int
}

func (e *PDFExtractor) ExtractText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	pages := make([]string, reader.NumPage())
	g := new(errgroup.Group)
	g.SetLimit(max(e.Workers, 1))
	for i := range pages {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("page %d: %v", i+1, r)
				}
			}()
			page := reader.Page(i + 1)
			if page.V.IsNull() {
				return nil
			}
			content, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			pages[i] = strings.Join(strings.Fields(content), " ")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(pages, "\n")), nil
}

// RawMatch is one (date, description, amount) triple found in the text.
type RawMatch struct {
	Date        string
	Description string
	Amount      string
}

// Matcher recovers triples for one statement layout.
type Matcher struct {
	Name  string
	Match func(text string) []RawMatch
}

var (
	dateFirstLayout   = regexp.MustCompile(`(\d{2}/\d{2}(?:/\d{2,4})?)\s+([\p{Lu}0-9\s*.\-/]+?)\s+(-?[\d.]+,\d{2})`)
	amountFirstLayout = regexp.MustCompile(`(-?[\d.]+,\d{2})\s+(\d{2}/\d{2}(?:/\d{2,4})?)\s+([\p{Lu}0-9\s*.\-/]+)`)
)

// DateFirst matches "05/03 MERCADO CENTRAL 45,90".
var DateFirst = Matcher{Name: "date-first", Match: func(text string) []RawMatch {
	var out []RawMatch
	for _, m := range dateFirstLayout.FindAllStringSubmatch(text, -1) {
		out = append(out, RawMatch{Date: m[1], Description: m[2], Amount: m[3]})
	}
	return out
}}

// AmountFirst matches "45,90 05/03 MERCADO CENTRAL".
var AmountFirst = Matcher{Name: "amount-first", Match: func(text string) []RawMatch {
	var out []RawMatch
	for _, m := range amountFirstLayout.FindAllStringSubmatch(text, -1) {
		out = append(out, RawMatch{Date: m[2], Description: m[3], Amount: m[1]})
	}
	return out
}}

// DefaultMatchers is the layout probe order.
var DefaultMatchers = []Matcher{DateFirst, AmountFirst}

// DocumentParser extracts text from a paginated document and applies the
// first matcher that yields a transaction. Matchers are never merged.
type DocumentParser struct {
	Extractor  TextExtractor
	Matchers   []Matcher
	Locale     normalizer.Locale
	Classifier normalizer.DirectionClassifier
	// ReferenceYear completes DD/MM dates; zero means the current year.
	ReferenceYear int
}

func (p *DocumentParser) Format() Format { return FormatPDF }

func (p *DocumentParser) Parse(data []byte) (*Report, error) {
	extractor := p.Extractor
	if extractor == nil {
		extractor = &PDFExtractor{}
	}
	text, err := extractor.ExtractText(data)
	if err != nil {
		return nil, &ParseFailure{Kind: ErrDocumentUnreadable, Format: FormatPDF, Cause: err, SuggestAI: true}
	}
	return p.ParseText(text)
}

// ParseText applies the matchers to already-extracted text.
func (p *DocumentParser) ParseText(text string) (*Report, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseFailure{Kind: ErrDocumentEmpty, Format: FormatPDF, SuggestAI: true}
	}

	matchers := p.Matchers
	if len(matchers) == 0 {
		matchers = DefaultMatchers
	}

	// The first layout with an accepted candidate wins. When none has one,
	// the diagnostics of the first layout that matched anything are kept.
	var fallback *Report
	for _, m := range matchers {
		matches := m.Match(text)
		if len(matches) == 0 {
			continue
		}
		report := newReport(FormatPDF)
		for i, raw := range matches {
			report.add(p.parseMatch(i+1, raw))
		}
		if len(report.Candidates) > 0 {
			return report, nil
		}
		if fallback == nil {
			fallback = report
		}
	}

	var diags []Diagnostic
	if fallback != nil {
		diags = fallback.Diagnostics
	}
	return nil, &ParseFailure{Kind: ErrDocumentEmpty, Format: FormatPDF, Diagnostics: diags, SuggestAI: true}
}

// parseMatch numbers diagnostics by match index; extracted text has no
// reliable lines.
func (p *DocumentParser) parseMatch(n int, m RawMatch) rowResult {
	raw := strings.Join([]string{m.Date, m.Description, m.Amount}, " ")

	signed, err := normalizer.ParseAmount(m.Amount, p.locale())
	if err != nil {
		return skipped(0, raw, "match %d: invalid amount %q", n, m.Amount)
	}
	if signed.IsZero() {
		return skipped(0, raw, "match %d: amount is zero", n)
	}

	date, err := normalizer.NormalizeDateWithYear(m.Date, p.year())
	if err != nil {
		return skipped(0, raw, "match %d: invalid date %q", n, m.Date)
	}

	description := descriptionOr(m.Description, DefaultDescription)
	class := p.classifier().Classify(description, signed)
	confidence := ConfidenceLow
	if class.ByKeyword {
		confidence = ConfidenceHigh
	}

	return accepted(Candidate{
		Description: description,
		Amount:      signed.Abs(),
		Date:        date,
		Category:    DefaultCategory,
		Direction:   class.Direction,
		Confidence:  confidence,
	})
}

func (p *DocumentParser) locale() normalizer.Locale {
	if p.Locale == nil {
		return normalizer.Auto
	}
	return p.Locale
}

func (p *DocumentParser) classifier() normalizer.DirectionClassifier {
	if p.Classifier == nil {
		return normalizer.NewKeywordClassifier()
	}
	return p.Classifier
}

func (p *DocumentParser) year() int {
	if p.ReferenceYear > 0 {
		return p.ReferenceYear
	}
	return time.Now().Year()
}
