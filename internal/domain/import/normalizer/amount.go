package normalizer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Locale decides which separator in a cleaned monetary token is the decimal
// point. Input to Canonical only contains digits, '.' and ','.
type Locale interface {
	Name() string
	Canonical(digits string) string
}

type brLocale struct{}

func (brLocale) Name() string { return "br" }

// Canonical turns 1.234,56 into 1234.56
func (brLocale) Canonical(s string) string {
	s = strings.ReplaceAll(s, ".", "")
	return strings.ReplaceAll(s, ",", ".")
}

type usLocale struct{}

func (usLocale) Name() string { return "us" }

// Canonical turns 1,234.56 into 1234.56
func (usLocale) Canonical(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

type autoLocale struct{}

func (autoLocale) Name() string { return "auto" }

// Canonical treats the right-most separator as the decimal point when both
// appear. A lone comma means decimal comma, lone dots mean decimal point.
func (autoLocale) Canonical(s string) string {
	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			return BR.Canonical(s)
		}
		return US.Canonical(s)
	case comma >= 0:
		return BR.Canonical(s)
	default:
		return US.Canonical(s)
	}
}

var (
	// BR is the Brazilian convention: '.' groups thousands, ',' is decimal.
	BR Locale = brLocale{}
	// US is the US convention: ',' groups thousands, '.' is decimal.
	US Locale = usLocale{}
	// Auto guesses per token.
	Auto Locale = autoLocale{}
)

// LocaleByName resolves "br", "us" or "auto" (empty means auto).
func LocaleByName(name string) (Locale, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return Auto, nil
	case "br", "pt-br", "pt_br":
		return BR, nil
	case "us", "en-us", "en_us":
		return US, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownLocale, name)
}

// ParseAmount converts a monetary token into a signed decimal. Currency
// symbols and spaces are ignored. A leading or trailing '-' and wrapping
// parentheses mark the value as negative. Tokens without digits or with
// separators the locale can't resolve yield ErrInvalidAmount.
func ParseAmount(raw string, locale Locale) (decimal.Decimal, error) {
	if locale == nil {
		locale = Auto
	}
	s := strings.TrimSpace(raw)
	first := strings.IndexFunc(s, unicode.IsDigit)
	if first < 0 {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	last := strings.LastIndexFunc(s, unicode.IsDigit)
	prefix, suffix := s[:first], s[last+1:]

	negative := strings.ContainsAny(prefix, "-−") ||
		strings.HasPrefix(strings.TrimSpace(suffix), "-") ||
		(strings.Contains(prefix, "(") && strings.Contains(suffix, ")"))

	var b strings.Builder
	for _, r := range s[first : last+1] {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case unicode.IsSpace(r):
		default:
			return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
		}
	}

	value, err := decimal.NewFromString(locale.Canonical(b.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if negative {
		value = value.Neg()
	}
	return value, nil
}

// ParseOptionalAmount is ParseAmount with blank input meaning zero.
func ParseOptionalAmount(raw string, locale Locale) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return ParseAmount(raw, locale)
}

// ToMinorUnits converts a decimal amount to cents.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts cents back to a decimal amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
