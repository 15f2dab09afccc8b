package ttc

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var errNoPrice = errors.New("no parseable price")

// ParsePriceText extracts the unit price in gold from a trade-list
// price cell. Cells render as "1.000\nX\n5\n=\n5.000": the first line
// is the unit price, with a dot or comma thousands separator depending
// on the viewer's locale.
func ParsePriceText(text string) (int64, error) {
	var line string
	for _, candidate := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			line = trimmed
			break
		}
	}
	if line == "" {
		return 0, errNoPrice
	}

	var b strings.Builder
	for _, r := range line {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return 0, errNoPrice
	}

	dots := strings.Count(clean, ".")
	commas := strings.Count(clean, ",")
	switch {
	case dots > 0 && commas == 0:
		// one dot followed by exactly three digits is a thousands
		// separator; anything else is a decimal point
		if dots == 1 {
			parts := strings.SplitN(clean, ".", 2)
			if len(parts[1]) == 3 {
				clean = parts[0] + parts[1]
			}
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	case commas > 0 && dots == 0:
		clean = strings.ReplaceAll(clean, ",", "")
	case dots > 0 && commas > 0:
		// dot thousands, comma decimal
		clean = strings.ReplaceAll(clean, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	}

	value, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, errNoPrice
	}
	price := value.IntPart()
	if price <= 0 {
		return 0, errNoPrice
	}
	return price, nil
}
