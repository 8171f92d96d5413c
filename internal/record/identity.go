package record

import (
	"regexp"
	"strings"
)

// registry numbers look like GEO250000579 or SPA240001234: a 2-4 letter type
// prefix followed by at least nine digits.
var numberPattern = regexp.MustCompile(`([A-Z]{2,4}[0-9]{9,})`)

// ExtractFunc is one identity extraction strategy. It returns "" when the
// strategy cannot produce an identity for the record.
type ExtractFunc func(Record) string

// identityStrategies are tried in order; the first non-empty result wins.
// The detailed scraper populates Number directly, while bulk browse rows
// sometimes only carry the number inside the concatenated cell text.
var identityStrategies = []ExtractFunc{
	func(r Record) string {
		return numberPattern.FindString(strings.ToUpper(strings.TrimSpace(r.Number)))
	},
	func(r Record) string {
		return numberPattern.FindString(strings.ToUpper(r.AllCells))
	},
}

// ExtractIdentity returns the record's stable identity key, or false when no
// strategy yields one.
func ExtractIdentity(r Record) (string, bool) {
	for _, strategy := range identityStrategies {
		if key := strategy(r); key != "" {
			return key, true
		}
	}
	return "", false
}
