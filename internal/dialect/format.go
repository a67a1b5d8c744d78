package dialect

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Format is the delimited text encoding a dialect's bulk path reads.
//
// NULL is written as the bare Null marker. Any string that could be
// mistaken for it (the marker itself, or the empty string) is quoted.
type Format struct {
	Delimiter       byte
	Quote           byte
	Null            string
	True            string
	False           string
	EscapeBackslash bool
	TimeLayout      string
}

// AppendRecord encodes vals as one line terminated by "\n".
func (f Format) AppendRecord(dst []byte, vals []any) []byte {
	for i, v := range vals {
		if i > 0 {
			dst = append(dst, f.Delimiter)
		}
		dst = f.AppendField(dst, v)
	}
	return append(dst, '\n')
}

// AppendField encodes a single value.
func (f Format) AppendField(dst []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(dst, f.Null...)
	case string:
		return f.appendText(dst, x)
	case []byte:
		if x == nil {
			return append(dst, f.Null...)
		}
		return f.appendText(dst, `\x`+hex.EncodeToString(x))
	case bool:
		if x {
			return append(dst, f.True...)
		}
		return append(dst, f.False...)
	case int:
		return strconv.AppendInt(dst, int64(x), 10)
	case int8:
		return strconv.AppendInt(dst, int64(x), 10)
	case int16:
		return strconv.AppendInt(dst, int64(x), 10)
	case int32:
		return strconv.AppendInt(dst, int64(x), 10)
	case int64:
		return strconv.AppendInt(dst, x, 10)
	case uint:
		return strconv.AppendUint(dst, uint64(x), 10)
	case uint8:
		return strconv.AppendUint(dst, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(dst, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(dst, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(dst, x, 10)
	case float32:
		return appendFloat(dst, float64(x), 32)
	case float64:
		return appendFloat(dst, x, 64)
	case time.Time:
		layout := f.TimeLayout
		if layout == "" {
			layout = time.RFC3339Nano
		}
		return x.AppendFormat(dst, layout)
	case fmt.Stringer:
		return f.appendText(dst, x.String())
	default:
		return f.appendText(dst, fmt.Sprint(x))
	}
}

func appendFloat(dst []byte, x float64, bits int) []byte {
	if math.IsNaN(x) {
		return append(dst, "NaN"...)
	}
	return strconv.AppendFloat(dst, x, 'g', -1, bits)
}

func (f Format) appendText(dst []byte, s string) []byte {
	if !f.needsQuote(s) {
		if f.EscapeBackslash {
			return append(dst, strings.ReplaceAll(s, `\`, `\\`)...)
		}
		return append(dst, s...)
	}
	dst = append(dst, f.Quote)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == f.Quote:
			dst = append(dst, f.Quote, f.Quote)
		case c == '\\' && f.EscapeBackslash:
			dst = append(dst, '\\', '\\')
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, f.Quote)
}

func (f Format) needsQuote(s string) bool {
	if s == "" || s == f.Null {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case f.Delimiter, f.Quote, '\n', '\r':
			return true
		}
	}
	return s[0] == ' ' || s[len(s)-1] == ' '
}
