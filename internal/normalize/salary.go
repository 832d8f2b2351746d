package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Salary is the result of parsing a free-text compensation string.
type Salary struct {
	Min      *float64
	Max      *float64
	Currency *string
	Text     *string
}

var (
	salaryNumberRe = regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*([kK]\b)?`)
	// "45.000" is 45 thousand in most of Europe and 45 elsewhere.
	dotThousandsRe = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	salaryRangeRe  = regexp.MustCompile(`\d\s*[kK]?\s*(?:-|–|—|\bto\b)\s*\D{0,4}\d`)
	isoCurrencyRe  = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD|NZD|INR|CHF|SGD|JPY|SEK|NOK|DKK|PLN)\b`)
)

// Prefixed dollar forms that name their country.
var dollarPrefixes = []struct {
	prefix   string
	currency string
}{
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"C$", "CAD"},
	{"AU$", "AUD"},
	{"A$", "AUD"},
	{"NZ$", "NZD"},
	{"S$", "SGD"},
}

var currencySymbols = map[string]string{
	"€": "EUR",
	"£": "GBP",
	"₹": "INR",
}

// ParseSalary keeps text verbatim and extracts numbers only when the text
// is unambiguous: a single amount, a two-amount range, "from X" or
// "up to X". Dot-grouped amounts such as "45.000" read differently by
// locale and leave only the text. A currency is reported only when the text
// names one; a bare "$" is left unresolved.
func ParseSalary(text string) Salary {
	text = cleanText(text)
	if text == "" {
		return Salary{}
	}

	s := Salary{Text: &text, Currency: parseCurrency(text)}

	matches := salaryNumberRe.FindAllStringSubmatch(text, -1)
	values := make([]float64, 0, len(matches))
	thousands := make([]bool, 0, len(matches))
	for _, m := range matches {
		if dotThousandsRe.MatchString(m[1]) {
			return s
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			return s
		}
		k := m[2] != ""
		if k {
			v *= 1000
		}
		values = append(values, v)
		thousands = append(thousands, k)
	}

	lower := strings.ToLower(text)
	switch len(values) {
	case 1:
		v := values[0]
		switch {
		case strings.Contains(lower, "up to"), strings.HasPrefix(lower, "max"):
			s.Max = &v
		case strings.Contains(lower, "from"), strings.Contains(lower, "starting at"), strings.HasPrefix(lower, "min"):
			s.Min = &v
		default:
			lo, hi := v, v
			s.Min, s.Max = &lo, &hi
		}
	case 2:
		if !salaryRangeRe.MatchString(text) {
			return s
		}
		lo, hi := values[0], values[1]
		// "$50-70K": the suffix on the upper bound applies to both.
		if thousands[1] && !thousands[0] && lo < 1000 {
			lo *= 1000
		}
		if lo > hi {
			return s
		}
		s.Min, s.Max = &lo, &hi
	}
	return s
}

func parseCurrency(text string) *string {
	for _, p := range dollarPrefixes {
		if strings.Contains(text, p.prefix) {
			c := p.currency
			return &c
		}
	}
	if m := isoCurrencyRe.FindString(text); m != "" {
		return &m
	}
	for sym, code := range currencySymbols {
		if strings.Contains(text, sym) {
			c := code
			return &c
		}
	}
	return nil
}
