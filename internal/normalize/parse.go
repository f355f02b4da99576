package normalize

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a raw amount into a decimal. It accepts Go numbers,
// json.Number and strings carrying exponents, currency symbols, thousands
// separators, a leading or trailing minus, CR/DR markers or accounting
// parentheses. The second result is
// false when the value could not be parsed; the amount is then zero.
func ParseAmount(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case int32:
		return decimal.NewFromInt32(n), true
	case string:
		return parseAmountString(n)
	default:
		return decimal.Zero, false
	}
}

var currencySymbols = []string{"$", "€", "£", "¥", "₹"}

// parseAmountString accepts plain decimals, including exponent notation, and
// bookkeeping formats. Currency symbols, ISO codes, CR/DR markers and one sign
// may appear only at either end; anything else makes the amount unparseable.
func parseAmountString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, true
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	signed := false
	for {
		s = strings.TrimSpace(s)
		tok, rest := cutAffix(s)
		if tok == "" {
			break
		}
		switch tok {
		case "-", "+":
			if signed {
				return decimal.Zero, false
			}
			signed = true
			if tok == "-" {
				negative = !negative
			}
		case "DR":
			negative = !negative
		}
		s = rest
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'e', r == 'E':
			b.WriteRune(r)
		case r == '-' || r == '+':
			// only as an exponent sign
			if i == 0 || (s[i-1] != 'e' && s[i-1] != 'E') {
				return decimal.Zero, false
			}
			b.WriteRune(r)
		case r == ',', r == ' ', r == '\u00a0', r == '\'':
			// grouping separators
		default:
			return decimal.Zero, false
		}
	}

	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// cutAffix removes one sign, currency symbol, ISO code or CR/DR marker from
// the start or end of s. CR and DR come back upper-cased; tok is empty when
// neither end carries one.
func cutAffix(s string) (tok, rest string) {
	for _, sign := range []string{"-", "+"} {
		if r, ok := strings.CutPrefix(s, sign); ok {
			return sign, r
		}
		if r, ok := strings.CutSuffix(s, sign); ok {
			return sign, r
		}
	}
	for _, sym := range currencySymbols {
		if r, ok := strings.CutPrefix(s, sym); ok {
			return sym, r
		}
		if r, ok := strings.CutSuffix(s, sym); ok {
			return sym, r
		}
	}

	lead := letterRun(s)
	if word, ok := affixWord(s[:lead]); ok {
		return word, s[lead:]
	}
	trail := len(s) - letterRun(reverseASCII(s))
	if word, ok := affixWord(s[trail:]); ok {
		return word, s[:trail]
	}
	return "", s
}

// affixWord reports whether a run of letters is a CR/DR marker or an ISO
// currency code.
func affixWord(run string) (string, bool) {
	switch up := strings.ToUpper(run); {
	case up == "CR" || up == "DR":
		return up, true
	case len(run) == 3:
		return up, true
	default:
		return "", false
	}
}

// letterRun is the number of leading ASCII letters in s.
func letterRun(s string) int {
	n := 0
	for n < len(s) && (s[n] >= 'A' && s[n] <= 'Z' || s[n] >= 'a' && s[n] <= 'z') {
		n++
	}
	return n
}

// reverseASCII reverses s byte-wise. Only the letter run at its start is read,
// so multi-byte runes in the rest do not matter.
func reverseASCII(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTime converts a raw timestamp. Strings are tried against common layouts;
// numbers are Unix seconds, or milliseconds when large. The zero time and false
// are returned for anything else.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return fromEpoch(i), true
		}
		return time.Time{}, false
	case float64:
		return fromEpoch(int64(t)), true
	case int64:
		return fromEpoch(t), true
	case int:
		return fromEpoch(int64(t)), true
	default:
		return time.Time{}, false
	}
}

func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
