package paramstyle

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate_Styles(t *testing.T) {
	t.Parallel()

	const q = "UPDATE t SET b = :b WHERE a = :a"
	tests := []struct {
		style Style
		want  string
	}{
		{QMark, "UPDATE t SET b = ? WHERE a = ?"},
		{Numeric, "UPDATE t SET b = :1 WHERE a = :2"},
		{Named, "UPDATE t SET b = :b WHERE a = :a"},
		{Format, "UPDATE t SET b = %s WHERE a = %s"},
		{PyFormat, "UPDATE t SET b = %(b)s WHERE a = %(a)s"},
		{Dollar, "UPDATE t SET b = $1 WHERE a = $2"},
		{AtP, "UPDATE t SET b = @p1 WHERE a = @p2"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.style.String(), func(t *testing.T) {
			t.Parallel()
			got, names, err := Translate(q, tc.style)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, []string{"b", "a"}, names)
		})
	}
}

func TestTranslate_NumericRenumbersDuplicates(t *testing.T) {
	t.Parallel()

	got, names, err := Translate("SELECT :a, :b, :a", Numeric)
	require.NoError(t, err)
	assert.Equal(t, "SELECT :1, :2, :3", got)
	assert.Equal(t, []string{"a", "b", "a"}, names)
}

func TestTranslate_SkipsLiteralsCommentsAndCasts(t *testing.T) {
	t.Parallel()

	q := "SELECT ':x', \"c:y\", :a::int -- :z\n/* :w */ FROM t WHERE b = :b"
	got, names, err := Translate(q, QMark)
	require.NoError(t, err)
	assert.Equal(t, "SELECT ':x', \"c:y\", ?::int -- :z\n/* :w */ FROM t WHERE b = ?", got)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestTranslate_EscapesPercentForFormatStyles(t *testing.T) {
	t.Parallel()

	q := "SELECT to_char(:a, '990%') FROM t WHERE b LIKE 'x%' AND c = :c % 2"

	got, _, err := Translate(q, Format)
	require.NoError(t, err)
	assert.Equal(t, "SELECT to_char(%s, '990%%') FROM t WHERE b LIKE 'x%%' AND c = %s %% 2", got)

	got, _, err = Translate(q, PyFormat)
	require.NoError(t, err)
	assert.Equal(t, "SELECT to_char(%(a)s, '990%%') FROM t WHERE b LIKE 'x%%' AND c = %(c)s %% 2", got)

	got, _, err = Translate(q, QMark)
	require.NoError(t, err)
	assert.Equal(t, "SELECT to_char(?, '990%') FROM t WHERE b LIKE 'x%' AND c = ? % 2", got)
}

func TestTranslate_UnsupportedStyle(t *testing.T) {
	t.Parallel()

	_, _, err := Translate("SELECT :a", Style(99))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedStyle))
}

func TestParseStyle(t *testing.T) {
	t.Parallel()

	s, err := ParseStyle(" PyFormat ")
	require.NoError(t, err)
	assert.Equal(t, PyFormat, s)

	_, err = ParseStyle("bogus")
	assert.ErrorIs(t, err, ErrUnsupportedStyle)
}

func TestBind_RoundTripsTokenMapping(t *testing.T) {
	t.Parallel()

	vals := map[string]any{"a": 1, "b": "x"}
	lookup := func(n string) any { return vals[n] }

	_, names, err := Translate("SELECT :a, :b, :a", Numeric)
	require.NoError(t, err)
	p := Bind(Numeric, names, lookup)
	assert.Equal(t, []any{1, "x", 1}, p.Positional)
	assert.Equal(t, 3, p.Len())

	_, names, err = Translate("SELECT :a, :b, :a", Named)
	require.NoError(t, err)
	p = Bind(Named, names, lookup)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, p.Named)
	assert.Len(t, p.Args(), 2)
	for _, a := range p.Args() {
		na, ok := a.(sql.NamedArg)
		require.True(t, ok)
		assert.Equal(t, vals[na.Name], na.Value)
	}
}

func TestPositional(t *testing.T) {
	t.Parallel()

	assert.True(t, QMark.Positional())
	assert.True(t, Dollar.Positional())
	assert.False(t, Named.Positional())
	assert.False(t, PyFormat.Positional())
}
