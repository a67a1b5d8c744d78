package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var builtins = map[string]Factory{
	"trim":     stringFn(strings.TrimSpace),
	"upper":    stringFn(strings.ToUpper),
	"lower":    stringFn(strings.ToLower),
	"digits":   stringFn(keepDigits),
	"int":      noArg(toInt),
	"float":    noArg(toFloat),
	"bool":     noArg(toBool),
	"cz_date":  noArg(toCZDate),
	"date":     dateFactory,
	"truncate": truncateFactory,
	"join":     joinFactory,
	"first":    noArg(firstPresent),
	"null_if":  nullIfFactory,
}

func noArg(fn Func) Factory {
	return func(string) (Func, error) { return fn, nil }
}

// stringFn lifts a string mapper. Non-string values pass through untouched.
func stringFn(m func(string) string) Factory {
	return noArg(func(v any) (any, error) {
		if s, ok := v.(string); ok {
			return m(s), nil
		}
		return v, nil
	})
}

func keepDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case nil, int, int32, int64:
		return v, nil
	case float64:
		if x == float64(int64(x)) {
			return int64(x), nil
		}
	case json.Number:
		if i, ok := toIntFast(string(x)); ok {
			return i, nil
		}
	case string:
		if i, ok := toIntFast(strings.TrimSpace(x)); ok {
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w: int %v", ErrInvalid, v)
}

// toIntFast parses integers quickly and only falls back to float parsing when
// the field contains a '.' (inputs like "42.0").
func toIntFast(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	if strings.IndexByte(s, '.') >= 0 {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case nil, float64:
		return v, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
	case string:
		s := strings.TrimSpace(x)
		// decimal comma, as exported by Czech locale spreadsheets
		if strings.IndexByte(s, '.') < 0 {
			s = strings.Replace(s, ",", ".", 1)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: float %v", ErrInvalid, v)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool:
		return v, nil
	case string:
		if b, ok := toBoolFast(strings.TrimSpace(x)); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: bool %v", ErrInvalid, v)
}

// toBoolFast resolves the common English and Czech yes/no vocabulary.
func toBoolFast(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "1", "t", "true", "yes", "y", "ano":
		return true, true
	case "0", "f", "false", "no", "n", "ne":
		return false, true
	default:
		return false, false
	}
}

func toCZDate(v any) (any, error) {
	switch x := v.(type) {
	case nil, time.Time:
		return v, nil
	case string:
		if t, ok := parseCZDate(strings.TrimSpace(x)); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: date %v", ErrInvalid, v)
}

// parseCZDate parses "02.01.2006" (DD.MM.YYYY) without time.Parse.
func parseCZDate(s string) (time.Time, bool) {
	if len(s) < 10 || s[2] != '.' || s[5] != '.' {
		return time.Time{}, false
	}
	d1, d0 := s[0]-'0', s[1]-'0'
	m1, m0 := s[3]-'0', s[4]-'0'
	y3, y2, y1, y0 := s[6]-'0', s[7]-'0', s[8]-'0', s[9]-'0'
	if d1 > 9 || d0 > 9 || m1 > 9 || m0 > 9 || y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 {
		return time.Time{}, false
	}
	day := int(d1)*10 + int(d0)
	mon := int(m1)*10 + int(m0)
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	if mon < 1 || mon > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC), true
}

func dateFactory(layout string) (Func, error) {
	if layout == "" {
		layout = time.DateOnly
	}
	return func(v any) (any, error) {
		switch x := v.(type) {
		case nil, time.Time:
			return v, nil
		case string:
			t, err := time.Parse(layout, strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: date %q: %v", ErrInvalid, x, err)
			}
			return t, nil
		}
		return nil, fmt.Errorf("%w: date %v", ErrInvalid, v)
	}, nil
}

func truncateFactory(arg string) (Func, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("truncate needs a positive length, got %q", arg)
	}
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		r := []rune(s)
		if len(r) <= n {
			return s, nil
		}
		return string(r[:n]), nil
	}, nil
}

// joinFactory concatenates the non-empty parts of a repeated-field value.
func joinFactory(sep string) (Func, error) {
	if sep == "" {
		sep = " "
	}
	return func(v any) (any, error) {
		parts, ok := v.([]any)
		if !ok {
			return v, nil
		}
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p == nil {
				continue
			}
			s := fmt.Sprint(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return strings.Join(out, sep), nil
	}, nil
}

func firstPresent(v any) (any, error) {
	parts, ok := v.([]any)
	if !ok {
		return v, nil
	}
	for _, p := range parts {
		if s, isStr := p.(string); p != nil && (!isStr || s != "") {
			return p, nil
		}
	}
	return nil, nil
}

func nullIfFactory(arg string) (Func, error) {
	return func(v any) (any, error) {
		if s, ok := v.(string); ok && s == arg {
			return nil, nil
		}
		return v, nil
	}, nil
}
