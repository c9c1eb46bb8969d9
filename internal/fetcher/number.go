package fetcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var numberNoise = strings.NewReplacer("TL", "", "$", "", "₺", "", "%", "", " ", "", " ", "", "\n", "", "\t", "")

// ParseLocaleNumber parses a human formatted number where decimalSep is the
// decimal separator and the other of '.' / ',' groups thousands.
// "2.950,12" with ',' yields 2950.12.
func ParseLocaleNumber(s string, decimalSep rune) (float64, error) {
	cleaned := numberNoise.Replace(strings.TrimSpace(s))
	switch decimalSep {
	case ',':
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	default:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}
	if cleaned == "" {
		return 0, fmt.Errorf("empty number %q", s)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
