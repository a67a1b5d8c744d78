package dialect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformed is returned by Decoder for text AppendRecord cannot produce.
var ErrMalformed = errors.New("dialect: malformed record")

// Decoder reads records written by Format.AppendRecord. A bare Null marker
// decodes to nil and every other field to a string, so a quoted marker
// stays a literal value.
type Decoder struct {
	f   Format
	r   *bufio.Reader
	rec []any
	buf []byte
}

// NewDecoder returns a Decoder reading f-encoded records from r.
func (f Format) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{f: f, r: bufio.NewReader(r)}
}

// Read returns the next record, or io.EOF after the last one. The slice is
// reused by the next call.
func (d *Decoder) Read() ([]any, error) {
	if _, err := d.r.ReadByte(); err != nil {
		return nil, err
	}
	_ = d.r.UnreadByte()

	d.rec = d.rec[:0]
	for {
		v, last, err := d.field()
		if err != nil {
			return nil, err
		}
		d.rec = append(d.rec, v)
		if last {
			return d.rec, nil
		}
	}
}

// field reads one field and reports whether it ended the record.
func (d *Decoder) field() (any, bool, error) {
	d.buf = d.buf[:0]
	c, err := d.r.ReadByte()
	if errors.Is(err, io.EOF) {
		return d.bare(), true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c == d.f.Quote {
		return d.quoted()
	}
	for {
		switch c {
		case d.f.Delimiter:
			return d.bare(), false, nil
		case '\n':
			d.buf = trimCR(d.buf)
			return d.bare(), true, nil
		}
		d.buf = append(d.buf, c)
		if c, err = d.r.ReadByte(); errors.Is(err, io.EOF) {
			return d.bare(), true, nil
		} else if err != nil {
			return nil, false, err
		}
	}
}

func (d *Decoder) bare() any {
	s := string(d.buf)
	if s == d.f.Null {
		return nil
	}
	if d.f.EscapeBackslash {
		return unescape(s)
	}
	return s
}

func (d *Decoder) quoted() (any, bool, error) {
	for {
		c, err := d.r.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("%w: unterminated quoted field", ErrMalformed)
		}
		if err != nil {
			return nil, false, err
		}
		switch {
		case c == '\\' && d.f.EscapeBackslash:
			n, err := d.r.ReadByte()
			if err != nil {
				return nil, false, fmt.Errorf("%w: dangling escape", ErrMalformed)
			}
			d.buf = append(d.buf, n)
		case c != d.f.Quote:
			d.buf = append(d.buf, c)
		default:
			n, err := d.r.ReadByte()
			if errors.Is(err, io.EOF) {
				return string(d.buf), true, nil
			}
			if err != nil {
				return nil, false, err
			}
			switch n {
			case d.f.Quote:
				d.buf = append(d.buf, n)
			case d.f.Delimiter:
				return string(d.buf), false, nil
			case '\n':
				return string(d.buf), true, nil
			case '\r':
				if nn, err := d.r.ReadByte(); err == nil && nn == '\n' {
					return string(d.buf), true, nil
				}
				return nil, false, fmt.Errorf("%w: stray carriage return after quoted field", ErrMalformed)
			default:
				return nil, false, fmt.Errorf("%w: %q after closing quote", ErrMalformed, n)
			}
		}
	}
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
