// Package phone converts modem-reported caller identifiers into a canonical
// international form.
package phone

import "regexp"

// TONInternational is the type-of-number code the modem reports for numbers
// it has already classified under the international numbering plan.
const TONInternational = 161

// countryPrefix is the country calling code substituted for the trunk "0" of
// a national number.
const countryPrefix = "996"

// nationalPattern matches a trunk-prefixed national number: a leading zero,
// a 3-digit area/operator code and a 6-digit subscriber number.
var nationalPattern = regexp.MustCompile(`^0(\d{3})(\d{6})$`)

// Normalize returns the caller number in international form when the modem
// reports TON 161 and the number looks like a trunk-prefixed national number.
// Everything else (already-international numbers, short codes, malformed
// input) is returned unchanged; normalization is best-effort and never fails.
func Normalize(number string, ton int) string {
	if ton != TONInternational {
		return number
	}
	m := nationalPattern.FindStringSubmatch(number)
	if m == nil {
		return number
	}
	return countryPrefix + m[1] + m[2]
}
