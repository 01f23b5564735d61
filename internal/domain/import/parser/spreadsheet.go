package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var rawNumberCell = regexp.MustCompile(`^-?\d+\.\d+$`)

// maxXLSRows bounds legacy workbook reads.
const maxXLSRows = 100000

// SpreadsheetParser flattens a workbook into one line per row and hands
// the text to the free-text parser. Bytes that are not a workbook are
// parsed as plain text.
type SpreadsheetParser struct {
	Text   *FreeTextParser
	Legacy bool // .xls instead of .xlsx
}

func (p *SpreadsheetParser) Format() Format { return FormatSpreadsheet }

func (p *SpreadsheetParser) Parse(data []byte) (*Report, error) {
	flatten := flattenXLSX
	if p.Legacy {
		flatten = flattenXLS
	}
	text, err := flatten(data)
	if err != nil {
		text = DecodeText(data)
	}

	inner := FreeTextParser{Source: FormatSpreadsheet}
	if p.Text != nil {
		inner.Locale, inner.Classifier = p.Text.Locale, p.Text.Classifier
	}
	return inner.ParseText(text)
}

func flattenXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			writeRow(&b, row)
		}
	}
	return b.String(), nil
}

func flattenXLS(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("xls reader panic: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "cp1252")
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}
	var b strings.Builder
	for _, row := range wb.ReadAllCells(maxXLSRows) {
		writeRow(&b, row)
	}
	return b.String(), nil
}

func writeRow(b *strings.Builder, cells []string) {
	var parts []string
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, decimalComma(c))
		}
	}
	if len(parts) == 0 {
		return
	}
	b.WriteString(strings.Join(parts, " "))
	b.WriteByte('\n')
}

// decimalComma rewrites unformatted numeric cells such as "-150.5" into
// the "-150,50" shape the free-text parser recognizes.
func decimalComma(cell string) string {
	if !rawNumberCell.MatchString(cell) {
		return cell
	}
	d, err := decimal.NewFromString(cell)
	if err != nil {
		return cell
	}
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}
