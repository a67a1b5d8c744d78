package mssql

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"surge/internal/dialect"
)

// convertFunc turns one decoded text field into the value CopyIn accepts
// for its column.
type convertFunc func(s string) (any, error)

// converter picks the conversion for a server type name as reported by
// sql.ColumnType.DatabaseTypeName. Character, decimal and unknown types
// keep the text; the driver parses decimals itself.
func converter(typ string, f dialect.Format) convertFunc {
	switch strings.ToUpper(typ) {
	case "TINYINT", "SMALLINT", "INT", "BIGINT":
		return parseInt
	case "REAL", "FLOAT":
		return parseFloat
	case "BIT":
		return func(s string) (any, error) { return parseBit(s, f) }
	case "DATE", "TIME", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET":
		return func(s string) (any, error) { return parseTime(s, f.TimeLayout) }
	case "BINARY", "VARBINARY", "IMAGE":
		return parseBinary
	}
	return func(s string) (any, error) { return s, nil }
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func parseFloat(s string) (any, error) {
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return x, nil
}

func parseBit(s string, f dialect.Format) (any, error) {
	switch s {
	case f.True:
		return true, nil
	case f.False:
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// timeLayouts are tried after the format's own layout.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"15:04:05.9999999",
}

func parseTime(s, layout string) (any, error) {
	if layout != "" {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as a time", s)
}

// parseBinary reverses the "\x" hex text Format writes for []byte.
func parseBinary(s string) (any, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, `\x`))
	if err != nil {
		return nil, err
	}
	return b, nil
}
