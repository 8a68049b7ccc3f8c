package core

import (
	"strings"

	"github.com/Rhymond/go-money"
)

// Currency is an ISO-4217 code, three uppercase letters.
type Currency string

// BridgeCurrency is the intermediate used when a pair has neither a
// direct nor an inverse quote.
const BridgeCurrency Currency = "USD"

func (c Currency) String() string { return string(c) }

// Valid reports whether c is a known ISO-4217 code.
func (c Currency) Valid() bool {
	return money.GetCurrency(string(c)) != nil
}

// currencyAliases maps symbols, slang and native-language currency words
// to ISO codes. Keys are lowercase; Hebrew shekel forms appear in several
// spellings because users type them with different quote characters.
var currencyAliases = map[string]Currency{
	"₪":          "ILS",
	"שח":         "ILS",
	"ש\"ח":       "ILS",
	"ש״ח":        "ILS",
	"שקל":        "ILS",
	"שקלים":      "ILS",
	"שקל חדש":    "ILS",
	"nis":        "ILS",
	"n.i.s":      "ILS",
	"$":          "USD",
	"usd$":       "USD",
	"דולר":       "USD",
	"דולרים":     "USD",
	"דולר אמריקאי": "USD",
	"€":          "EUR",
	"יורו":       "EUR",
	"אירו":       "EUR",
	"£":          "GBP",
	"פאונד":      "GBP",
	"לירה":       "GBP",
	"לירה שטרלינג": "GBP",
	"לירה טורקית": "TRY",
	"₹":          "INR",
	"rs":         "INR",
	"rupees":     "INR",
	"רופי":       "INR",
	"רופי הודי":  "INR",
	"yen":        "JPY",
	"fr":         "CHF",
	"real":       "BRL",
	"ריאל":       "BRL",
	"peso":       "MXN",
	"פסו":        "MXN",
	"rand":       "ZAR",
	"руб":        "RUB",
	"rmb":        "CNY",
	"元":          "CNY",
	"יואן":       "CNY",
	"درهم":       "AED",
	"דירהם":      "AED",
	"ريال":       "SAR",
	"ריאל סעודי": "SAR",
}

// NormalizeCurrency canonicalizes a user-supplied token to an ISO code.
// It accepts ISO codes in any case, currency symbols and a fixed set of
// slang and Hebrew forms. The boolean is false when the token is not
// recognized. Pure lookup, safe for concurrent use.
func NormalizeCurrency(token string) (Currency, bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	if t == "" {
		return "", false
	}
	if c, ok := currencyAliases[t]; ok {
		return c, true
	}
	code := Currency(strings.ToUpper(t))
	if len(t) == 3 && code.Valid() {
		return code, true
	}
	return "", false
}
