package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal accepts user-formatted money strings:
//   - "4000", "4000.50", "-12.5"
//   - "R$ 1.234,56", "1.234.567,8" (pt-BR grouping)
//   - "1,234.56", "20,000" (en grouping)
//
// When both separators occur the last one is the decimal separator. A lone comma
// followed by exactly three digits is grouping, any other lone comma is decimal.
// A lone dot is always the decimal separator.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, "BRL", "")
	s = strings.TrimSpace(s)

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	// Strip everything except digits and separators.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	clean := normalizeSeparators(b.String())
	if clean == "" {
		return decimal.Zero, fmt.Errorf("invalid value %q", raw)
	}
	if neg {
		clean = "-" + clean
	}
	val, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	return val, nil
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 || len(s)-lastComma-1 == 3 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// FlexDecimal is a request-side amount that accepts JSON numbers or formatted strings.
type FlexDecimal struct {
	decimal.Decimal
}

func (d *FlexDecimal) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParseDecimal(s)
		if err != nil {
			return err
		}
		d.Decimal = v
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid value %s", string(data))
	}
	v, err := decimal.NewFromString(n.String())
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

// DecimalPtr unwraps an optional request amount.
func DecimalPtr(d *FlexDecimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := d.Decimal
	return &v
}
