package row

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName converts arbitrary header text into a lowercase ASCII
// identifier:
//  1. lowercase, accents stripped (NFD → remove Mn → NFC)
//  2. every run of characters outside [a-z0-9] becomes a single "_"
//  3. trailing "_" removed
//  4. a leading digit gets a "_" prefix
//  5. "field" if nothing is left
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	prevSep := false
	for _, r := range folded {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevSep = false
		default:
			if !prevSep {
				b.WriteByte('_')
				prevSep = true
			}
		}
	}
	name := strings.TrimRight(b.String(), "_")
	if name == "" {
		return "field"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// NormalizeNames normalizes names in declaration order and resolves
// collisions by appending "_2", "_3", ... to later duplicates.
func NormalizeNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]struct{}, len(names))
	for i, n := range names {
		base := NormalizeName(n)
		cand := base
		for k := 2; ; k++ {
			if _, taken := seen[cand]; !taken {
				break
			}
			cand = base + "_" + strconv.Itoa(k)
		}
		seen[cand] = struct{}{}
		out[i] = cand
	}
	return out
}
