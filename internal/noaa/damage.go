package noaa

import (
	"strings"

	"github.com/shopspring/decimal"
)

var damageMultipliers = map[byte]decimal.Decimal{
	'K': decimal.NewFromInt(1_000),
	'M': decimal.NewFromInt(1_000_000),
	'B': decimal.NewFromInt(1_000_000_000),
}

// ParseDamage converts a storm-record damage string such as "25.5K" or
// "1.2M" into dollars. A K, M or B suffix whose prefix is empty or does not
// parse counts as one unit of that suffix, so "K" and "?K" are both 1000.
// Empty values and unparseable values without a suffix are null.
func ParseDamage(raw string) decimal.NullDecimal {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return decimal.NullDecimal{}
	}
	mult, ok := damageMultipliers[s[len(s)-1]]
	if !ok {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(d)
	}
	d, err := decimal.NewFromString(s[:len(s)-1])
	if err != nil {
		return decimal.NewNullDecimal(mult)
	}
	return decimal.NewNullDecimal(d.Mul(mult))
}
