package parser

import (
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
)

var ofxBlock = regexp.MustCompile(`(?is)<STMTTRN>(.*?)</STMTTRN>`)

var ofxFields = map[string]*regexp.Regexp{}

func init() {
	for _, tag := range []string{"TRNTYPE", "DTPOSTED", "TRNAMT", "MEMO", "NAME", "FITID"} {
		ofxFields[tag] = regexp.MustCompile(`(?i)<` + tag + `>([^<\r\n]*)`)
	}
}

// OFXParser reads STMTTRN blocks from OFX 1.x SGML or 2.x XML files by tag
// lookup, so unclosed SGML elements and missing tags are tolerated.
type OFXParser struct{}

func (p *OFXParser) Format() Format { return FormatOFX }

func (p *OFXParser) Parse(data []byte) (*Report, error) {
	text := DecodeText(data)
	report := newReport(FormatOFX)

	for _, loc := range ofxBlock.FindAllStringSubmatchIndex(text, -1) {
		block := text[loc[2]:loc[3]]
		line := strings.Count(text[:loc[0]], "\n") + 1
		report.add(p.parseBlock(line, block))
	}

	if len(report.Candidates) == 0 {
		return nil, &ParseFailure{Kind: ErrDocumentEmpty, Format: FormatOFX, Diagnostics: report.Diagnostics}
	}
	return report, nil
}

func (p *OFXParser) parseBlock(line int, block string) rowResult {
	rawType := strings.ToUpper(ofxField(block, "TRNTYPE"))

	rawDate := ofxField(block, "DTPOSTED")
	if rawDate == "" {
		return skipped(line, block, "missing DTPOSTED")
	}
	date, err := normalizer.OFXDate(rawDate)
	if err != nil {
		return skipped(line, block, "invalid DTPOSTED %q", rawDate)
	}

	rawAmount := ofxField(block, "TRNAMT")
	if rawAmount == "" {
		return skipped(line, block, "missing TRNAMT")
	}
	signed, err := decimal.NewFromString(strings.ReplaceAll(rawAmount, ",", "."))
	if err != nil {
		return skipped(line, block, "invalid TRNAMT %q", rawAmount)
	}

	direction := normalizer.Expense
	if signed.IsPositive() || isCreditType(rawType) {
		direction = normalizer.Income
	}

	description := ofxField(block, "MEMO")
	if description == "" {
		description = ofxField(block, "NAME")
	}

	return accepted(Candidate{
		Description: descriptionOr(description, DefaultOFXDescription),
		Amount:      signed.Abs(),
		Date:        date,
		Category:    DefaultCategory,
		Direction:   direction,
		Confidence:  ConfidenceHigh,
		SourceType:  rawType,
		Line:        line,
	})
}

func ofxField(block, tag string) string {
	m := ofxFields[tag].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// isCreditType reports whether a TRNTYPE means money in regardless of sign.
func isCreditType(code string) bool {
	t, err := ofxgo.NewTrnType(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return false
	}
	switch t {
	case ofxgo.TrnTypeCredit, ofxgo.TrnTypeDep, ofxgo.TrnTypeDirectDep, ofxgo.TrnTypeInt, ofxgo.TrnTypeDiv:
		return true
	}
	return false
}
