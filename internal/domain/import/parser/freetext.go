package parser

import (
	"regexp"
	"strings"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

var (
	dateToken  = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/(?:\d{4}|\d{2})|\d{4}-\d{2}-\d{2})\b`)
	// Amounts start a word, so "1.2345,67" never yields "2345,67".
	moneyToken = regexp.MustCompile(`(?:^|\s)([-+]?(?:\d{1,3}(?:\.\d{3})+|\d+),\d{2})\b`)
)

// FreeTextParser reads line-oriented statements without delimiters: each
// line holds a date, a description and one or more decimal-comma amounts,
// the last of which may be a running balance.
type FreeTextParser struct {
	// Locale decides decimal separators; nil means per-token detection.
	Locale normalizer.Locale
	// Classifier decides direction; nil means keywords override the sign.
	Classifier normalizer.DirectionClassifier
	// Source is the format recorded on the report.
	Source Format
}

func (p *FreeTextParser) Format() Format {
	if p.Source != "" {
		return p.Source
	}
	return FormatText
}

func (p *FreeTextParser) Parse(data []byte) (*Report, error) {
	return p.ParseText(DecodeText(data))
}

// ParseText parses already-decoded text.
func (p *FreeTextParser) ParseText(text string) (*Report, error) {
	report := newReport(p.Format())
	for i, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		report.add(p.parseLine(i+1, line))
	}
	return report.finish()
}

func (p *FreeTextParser) parseLine(n int, line string) rowResult {
	loc := dateToken.FindStringSubmatchIndex(line)
	if loc == nil {
		return skipped(n, line, "no date found")
	}
	rawDate := line[loc[2]:loc[3]]
	date, err := normalizer.NormalizeDate(rawDate)
	if err != nil {
		return skipped(n, line, "invalid date %q", rawDate)
	}

	dateEnd := loc[1]
	matches := moneyToken.FindAllStringSubmatchIndex(line[dateEnd:], -1)
	if len(matches) == 0 {
		return skipped(n, line, "no amount found")
	}
	// With two or more amounts the last one is the running balance.
	pick := matches[len(matches)-1]
	if len(matches) >= 2 {
		pick = matches[len(matches)-2]
	}
	start, end := dateEnd+pick[2], dateEnd+pick[3]
	token := line[start:end]

	signed, err := normalizer.ParseAmount(token, p.locale())
	if err != nil {
		return skipped(n, line, "invalid amount %q", token)
	}
	if signed.IsZero() {
		return skipped(n, line, "amount is zero")
	}

	description := descriptionOr(line[dateEnd:start], DefaultDescription)
	class := p.classifier().Classify(description, signed)

	confidence := ConfidenceHigh
	if description == DefaultDescription || len(matches) > 2 {
		confidence = ConfidenceLow
	}

	return accepted(Candidate{
		Description: description,
		Amount:      signed.Abs(),
		Date:        date,
		Category:    DefaultCategory,
		Direction:   class.Direction,
		Confidence:  confidence,
		Line:        n,
	})
}

func (p *FreeTextParser) locale() normalizer.Locale {
	if p.Locale == nil {
		return normalizer.Auto
	}
	return p.Locale
}

func (p *FreeTextParser) classifier() normalizer.DirectionClassifier {
	if p.Classifier == nil {
		return normalizer.NewKeywordClassifier()
	}
	return p.Classifier
}
