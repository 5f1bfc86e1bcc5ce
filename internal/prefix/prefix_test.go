package prefix

import (
	"testing"

	"relfold/internal/sqlutil"
	"relfold/internal/stmt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"posts":           "posts",
		"posts::comments": `posts\2\2comments`,
		"a.b":             `a\1b`,
		`back\slash`:      `back\\slash`,
		`\1`:              `\\1`,
		`mixed.:\`:        `mixed\1\2\\`,
	}
	for raw, encoded := range cases {
		assert.Equal(t, encoded, Encode(raw), "encode %q", raw)
		assert.Equal(t, raw, Decode(Encode(raw)), "round trip %q", raw)
	}
}

func TestEncodedPrefixHasNoDots(t *testing.T) {
	assert.NotContains(t, Encode("a.b.c::d"), ".")
	assert.NotContains(t, Encode("a.b.c::d"), ":")
}

func TestDecodeKeepsUnknownEscapes(t *testing.T) {
	assert.Equal(t, `a\zb`, Decode(`a\zb`))
	assert.Equal(t, `trailing\`, Decode(`trailing\`))
}

func TestWrapRendersSentinels(t *testing.T) {
	cols := Wrap(stmt.Cols("posts.*"), "posts::")
	require.Len(t, cols, 3)

	query, _, err := stmt.New(sqlutil.MySQL, "posts").Columns(cols...).ToSql()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT NULL AS `__-__START_GROUP PREFIX=posts\\2\\2__-__`, `posts`.*, NULL AS `__-__END_GROUP__-__` FROM `posts`",
		query,
	)
}

func TestWrapGroups(t *testing.T) {
	cols, err := WrapGroups([]Group{
		{Prefix: "u::", Columns: stmt.Cols("users.*")},
		{Prefix: "p::", Columns: stmt.Cols("posts.id", "posts.title")},
	})
	require.NoError(t, err)
	assert.Len(t, cols, 7)

	_, err = WrapGroups([]Group{{Prefix: "0", Columns: stmt.Cols("users.*")}})
	assert.ErrorIs(t, err, ErrInvalidGroup)

	_, err = WrapGroups([]Group{{Prefix: "", Columns: stmt.Cols("users.*")}})
	assert.ErrorIs(t, err, ErrInvalidGroup)
}

func TestMappingAppliesPrefixes(t *testing.T) {
	columns := []string{
		"id", "title",
		StartName("comments::"), "id", "body", EndName(),
		"extra",
	}
	m := NewMapping(columns, CaseNatural)

	assert.Equal(t, []string{"id", "title", "comments::id", "comments::body", "extra"}, m.Names())
	assert.Equal(t, 7, m.Width())

	row := m.Row([]any{int64(1), []byte("hello"), nil, int64(10), "c1", nil, 5})
	assert.Equal(t, Row{
		"id":             int64(1),
		"title":          "hello",
		"comments::id":   int64(10),
		"comments::body": "c1",
		"extra":          5,
	}, row)
}

func TestMappingSentinelsCaseInsensitive(t *testing.T) {
	columns := []string{
		"__-__start_group prefix=a\\1b::__-__", "id", "__-__end_group__-__", "name",
	}
	m := NewMapping(columns, CaseNatural)
	assert.Equal(t, []string{"a.b::id", "name"}, m.Names())
}

func TestMappingForcedCase(t *testing.T) {
	columns := []string{"ID", StartName("p::"), "Title", EndName()}

	lower := NewMapping(columns, CaseLower)
	assert.Equal(t, []string{"id", "p::title"}, lower.Names())

	upper := NewMapping(columns, CaseUpper)
	assert.Equal(t, []string{"ID", "P::TITLE"}, upper.Names())
}

func TestMappingWithoutSentinels(t *testing.T) {
	m := NewMapping([]string{"a", "b"}, CaseNatural)
	assert.Equal(t, Row{"a": 1, "b": 2}, m.Row([]any{1, 2}))
}

func TestParseCase(t *testing.T) {
	c, err := ParseCase("LOWER")
	require.NoError(t, err)
	assert.Equal(t, CaseLower, c)
	assert.Equal(t, "abc", c.Apply("AbC"))

	c, err = ParseCase("")
	require.NoError(t, err)
	assert.Equal(t, "AbC", c.Apply("AbC"))

	_, err = ParseCase("title")
	assert.Error(t, err)
}
