package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize returns a normalized copy of v suitable for deterministic
// serialization: map keys recursively sorted, strings trimmed and
// NFC-normalized (the registry mixes composed and decomposed Georgian
// sequences), list order preserved, excluded keys removed at every level.
func Canonicalize(v any, excluded map[string]struct{}) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(strings.TrimSpace(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if _, skip := excluded[k]; skip {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = Canonicalize(val[k], excluded)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Canonicalize(item, excluded)
		}
		return out
	default:
		return v
	}
}

// Fingerprint computes a stable sha256 digest over the record's content
// fields. Volatile capture metadata never contributes, so re-scraping an
// unchanged tender yields an identical fingerprint. encoding/json emits map
// keys in sorted order, which makes the serialization canonical.
func Fingerprint(r Record) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", eris.Wrap(err, "record: marshal for fingerprint")
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", eris.Wrap(err, "record: remarshal for fingerprint")
	}

	canonical := Canonicalize(m, VolatileFields)
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", eris.Wrap(err, "record: marshal canonical form")
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
