package sqlutil

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"user_data", "`user_data`"},
		{"select", "`select`"},         // reserved word
		{"first name", "`first name`"}, // space in name
		{"user`data", "`user``data`"},  // backtick in name
		{"a`b`c", "`a``b``c`"},         // multiple backticks
		{"", "``"},                     // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDialectQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"users"`, Postgres.QuoteIdentifier("users"))
	assert.Equal(t, `"a""b"`, SQLite.QuoteIdentifier(`a"b`))
	assert.Equal(t, "`posts::comments`", MySQL.QuoteIdentifier("posts::comments"))
}

func TestQuoteQualified(t *testing.T) {
	assert.Equal(t, "`users`.`id`", MySQL.QuoteQualified("users.id"))
	assert.Equal(t, "`posts::comments`.*", MySQL.QuoteQualified("posts::comments.*"))
	assert.Equal(t, `"users"."name"`, Postgres.QuoteQualified("users.name"))
	assert.Equal(t, "`id`", MySQL.QuoteQualified("id"))
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, MySQL, d)

	d, err = ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("oracle")
	require.Error(t, err)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, sq.Dollar, Postgres.Placeholder())
	assert.Equal(t, sq.Question, MySQL.Placeholder())
	assert.Equal(t, sq.Question, SQLite.Placeholder())
}
