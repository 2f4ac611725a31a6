package redisfeatures

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/map-session/internal/geo"
)

const keyPrefix = "mapsession"

// datasetBase is the key namespace of one dataset: a readable slug plus a
// hash of the exact name, so names that sanitize alike stay apart.
func datasetBase(name string) string {
	norm := strings.TrimSpace(name)
	slug := sanitizeName(norm)

	const maxSlugLen = 64
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	return fmt.Sprintf("%s:ds:%s:%016x", keyPrefix, slug, xxhash.Sum64String(norm))
}

func metaKey(base string) string { return base + ":meta" }
func idsKey(base string) string  { return base + ":ids" }
func seqKey(base string) string  { return base + ":seq" }
func editKey(base string) string { return base + ":edit" }

func featureKey(base string, id geo.FeatureID) string {
	return base + ":f:" + strconv.FormatInt(int64(id), 10)
}

func sanitizeName(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
