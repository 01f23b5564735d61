package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CanonicalDateLayout is the only date shape a candidate carries.
const CanonicalDateLayout = "2006-01-02"

var (
	dayFirstDate = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d+)$`)
	dayMonthDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	isoDate      = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ].*)?$`)
)

// NormalizeDate converts DD/MM/YYYY, DD/MM/YY, D/M/YYYY or YYYY-MM-DD into
// YYYY-MM-DD. Two-digit years are read as 20YY.
func NormalizeDate(raw string) (string, error) {
	return NormalizeDateWithYear(raw, 0)
}

// NormalizeDateWithYear also accepts year-less DD/MM tokens, completing them
// with year. A zero year rejects them.
func NormalizeDateWithYear(raw string, year int) (string, error) {
	s := strings.TrimSpace(raw)

	if m := isoDate.FindStringSubmatch(s); m != nil {
		return build(m[1], m[2], m[3], raw)
	}
	if m := dayFirstDate.FindStringSubmatch(s); m != nil {
		y := m[3]
		switch len(y) {
		case 2:
			y = "20" + y
		case 4:
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		return build(y, m[2], m[1], raw)
	}
	if m := dayMonthDate.FindStringSubmatch(s); m != nil && year > 0 {
		return build(strconv.Itoa(year), m[2], m[1], raw)
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// build checks ranges only: day 31 is accepted for every month, so 31/02
// survives here and is rejected when the candidate is staged.
func build(year, month, day, raw string) (string, error) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1 || m < 1 || m > 12 || d < 1 || d > 31 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d), nil
}

// ParseCanonicalDate reads a YYYY-MM-DD date in loc (UTC when nil).
func ParseCanonicalDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(CanonicalDateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// OFXDate reads the leading YYYYMMDD of an OFX timestamp such as
// 20240305120000[-3:BRT].
func OFXDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	for _, r := range s[:8] {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
	}
	return build(s[:4], s[4:6], s[6:8], raw)
}
