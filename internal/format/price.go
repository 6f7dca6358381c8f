package format

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const placeholder = "—"

var smallPricePattern = regexp.MustCompile(`^0\.(0*)([1-9]\d{0,3})`)

// FormatUSDPrice renders a USD price for display. Prices below one cent keep
// their leading zeros and at most four significant digits.
func FormatUSDPrice(price *float64) string {
	if price == nil || math.IsNaN(*price) {
		return placeholder
	}
	p := *price

	switch {
	case p == 0:
		return "$0.00"
	case p >= 1:
		return "$" + groupThousands(strconv.FormatFloat(p, 'f', 2, 64))
	case p >= 0.01:
		return "$" + strconv.FormatFloat(p, 'f', 4, 64)
	}

	fixed := strconv.FormatFloat(p, 'f', 10, 64)
	if match := smallPricePattern.FindStringSubmatch(fixed); match != nil {
		return "$0." + match[1] + match[2]
	}
	return "$" + strconv.FormatFloat(p, 'e', 3, 64)
}

// FormatMarketCap renders a market cap with B/M/K suffixes.
func FormatMarketCap(value *float64) string {
	if value == nil || math.IsNaN(*value) {
		return placeholder
	}
	v := *value

	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%.2fB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", v/1_000)
	}
	return fmt.Sprintf("$%.0f", v)
}

// groupThousands inserts comma separators into the integer part of a
// plain decimal string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	out := sign + b.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}
