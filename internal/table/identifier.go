package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxIdentifierLen caps each dotted component of an identifier.
const MaxIdentifierLen = 128

// ErrInvalidIdentifier is matched by every *IdentifierError.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// IdentifierError reports why a table or column name was rejected.
type IdentifierError struct {
	Name   string
	Reason string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Name, e.Reason)
}

func (e *IdentifierError) Unwrap() error { return ErrInvalidIdentifier }

// ValidateIdentifier checks a possibly dotted name (schema.table) one
// component at a time. Identifiers are spliced into SQL unquoted, so
// anything that could end a statement or open a comment is refused.
func ValidateIdentifier(name string) error {
	if name == "" {
		return &IdentifierError{Name: name, Reason: "empty"}
	}
	for _, part := range strings.Split(name, ".") {
		if reason := checkComponent(part); reason != "" {
			return &IdentifierError{Name: name, Reason: reason}
		}
	}
	return nil
}

func checkComponent(s string) string {
	switch {
	case s == "":
		return "empty component"
	case len(s) > MaxIdentifierLen:
		return "longer than " + strconv.Itoa(MaxIdentifierLen) + " characters"
	case !unicode.IsLetter([]rune(s)[0]):
		return "must start with a letter"
	case strings.ContainsAny(s, "'\"`;"):
		return "contains a quote or statement separator"
	case strings.Contains(s, "--"), strings.Contains(s, "/*"), strings.Contains(s, "*/"):
		return "contains a comment marker"
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "contains a control character"
		}
	}
	return ""
}

// BindName derives a placeholder-safe name: lowercase, runs outside
// [a-z0-9_] collapsed to "_", a letter prefix forced, trailing "_" removed.
func BindName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)
	prevSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			prevSep = false
		case !prevSep:
			b.WriteByte('_')
			prevSep = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "c"
	}
	if out[0] < 'a' || out[0] > 'z' {
		out = "c_" + strings.TrimLeft(out, "_")
		out = strings.TrimRight(out, "_")
	}
	return out
}
