package schema

import (
	"context"
	"database/sql/driver"
	"testing"

	"relfold/internal/dbexec"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blogEntities() []Entity {
	return []Entity{
		{
			Name:       "users",
			PrimaryKey: "id",
			Relations: []Relation{
				{Name: "posts", Kind: HasMany, Related: "posts"},
				{Name: "profile", Kind: HasOne, Related: "profiles"},
			},
		},
		{
			Name:       "posts",
			PrimaryKey: "id",
			Relations: []Relation{
				{Name: "user", Kind: BelongsTo, Related: "users"},
				{Name: "comments", Kind: HasMany, Related: "comments", ForeignKey: "post_ref"},
			},
		},
		{Name: "profiles", PrimaryKey: "id"},
		{Name: "comments", Table: "post_comments", PrimaryKey: "id"},
	}
}

func TestNewRegistryFillsConventionalKeys(t *testing.T) {
	reg, err := NewRegistry(blogEntities()...)
	require.NoError(t, err)

	posts, ok := reg.Relation("users", "posts")
	require.True(t, ok)
	assert.Equal(t, "user_id", posts.ForeignKey)
	assert.Equal(t, "id", posts.LocalKey)

	user, ok := reg.Relation("posts", "user")
	require.True(t, ok)
	assert.Equal(t, "user_id", user.ForeignKey)
	assert.Equal(t, "id", user.OwnerKey)

	comments, ok := reg.Relation("posts", "comments")
	require.True(t, ok)
	assert.Equal(t, "post_ref", comments.ForeignKey)

	e, ok := reg.Entity("comments")
	require.True(t, ok)
	assert.Equal(t, "post_comments", e.Table)

	byTable, ok := reg.EntityByTable("post_comments")
	require.True(t, ok)
	assert.Equal(t, "comments", byTable.Name)

	names := []string{}
	for _, e := range reg.Entities() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"comments", "posts", "profiles", "users"}, names)
}

func TestNewRegistryRejectsBadDeclarations(t *testing.T) {
	tests := []struct {
		name     string
		entities []Entity
	}{
		{"missing name", []Entity{{Table: "t"}}},
		{"duplicate entity", []Entity{{Name: "a"}, {Name: "a"}}},
		{"unknown related", []Entity{{Name: "a", PrimaryKey: "id", Relations: []Relation{{Name: "b", Kind: HasMany}}}}},
		{"dotted relation name", []Entity{{Name: "a", Relations: []Relation{{Name: "x.y", Kind: BelongsTo, Related: "a"}}}}},
		{"duplicate relation", []Entity{{Name: "a", PrimaryKey: "id", Relations: []Relation{
			{Name: "r", Kind: BelongsTo, Related: "a"},
			{Name: "r", Kind: BelongsTo, Related: "a"},
		}}}},
		{"has many without local key", []Entity{{Name: "a", Relations: []Relation{{Name: "r", Kind: HasMany, Related: "a"}}}}},
		{"belongs to without owner key", []Entity{{Name: "a", Relations: []Relation{{Name: "r", Kind: BelongsTo, Related: "a"}}}}},
		{"unknown kind", []Entity{{Name: "a", PrimaryKey: "id", Relations: []Relation{{Name: "r", Kind: "sideways", Related: "a"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.entities...)
			require.ErrorIs(t, err, ErrInvalidEntity)
		})
	}
}

func TestRegistryDoesNotAliasInput(t *testing.T) {
	input := blogEntities()
	reg, err := NewRegistry(input...)
	require.NoError(t, err)

	input[0].Relations[0].Name = "changed"
	_, ok := reg.Relation("users", "posts")
	assert.True(t, ok)
}

func TestKinds(t *testing.T) {
	kind, err := ParseKind("one_to_many")
	require.NoError(t, err)
	assert.Equal(t, HasMany, kind)
	assert.True(t, HasMany.IsToMany())
	assert.True(t, BelongsTo.IsToOne())
	assert.True(t, HasOne.IsToOne())
	assert.False(t, BelongsToMany.IsToOne())

	_, err = ParseKind("nope")
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestEntityHasColumn(t *testing.T) {
	open := Entity{Name: "a"}
	assert.True(t, open.HasColumn("anything"))

	closed := Entity{Name: "a", Columns: []string{"id"}}
	assert.True(t, closed.HasColumn("id"))
	assert.False(t, closed.HasColumn("name"))
}

func TestFromDecls(t *testing.T) {
	entities, err := FromDecls([]EntityDecl{
		{
			Name:       "posts",
			PrimaryKey: "id",
			Relations: []RelationDecl{
				{Name: "comments", Kind: "has_many", Related: "comments", UniqueKey: "uuid"},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, HasMany, entities[0].Relations[0].Kind)
	assert.Equal(t, "uuid", entities[0].Relations[0].UniqueKey)

	_, err = FromDecls([]EntityDecl{{Name: "a", Relations: []RelationDecl{{Name: "r", Kind: "bogus"}}}})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestMerge(t *testing.T) {
	discovered := []Entity{
		{Name: "users", Table: "users", PrimaryKey: "id", Relations: []Relation{
			{Name: "posts", Kind: HasMany, Related: "posts"},
		}},
	}
	declared := []Entity{
		{Name: "users", Relations: []Relation{
			{Name: "posts", Kind: HasMany, Related: "posts", UniqueKey: "slug"},
			{Name: "profile", Kind: HasOne, Related: "profiles"},
		}},
		{Name: "audit", Table: "audit_log"},
	}

	merged := Merge(discovered, declared)
	require.Len(t, merged, 2)
	assert.Equal(t, "users", merged[0].Table)
	assert.Equal(t, "id", merged[0].PrimaryKey)
	require.Len(t, merged[0].Relations, 2)
	assert.Equal(t, "slug", merged[0].Relations[0].UniqueKey)
	assert.Equal(t, "audit_log", merged[1].Table)
}

func TestIntrospect(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").WithArgs("blog").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("posts").AddRow("profiles").AddRow("users"))

	expectTable := func(table string, columns []string, fks [][]driver.Value, unique [][]driver.Value) {
		colRows := sqlmock.NewRows([]string{"COLUMN_NAME"})
		for _, c := range columns {
			colRows.AddRow(c)
		}
		mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs("blog", table).WillReturnRows(colRows)
		mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").WithArgs("blog", table).
			WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("id"))

		fkRows := sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION"})
		for _, fk := range fks {
			fkRows.AddRow(fk...)
		}
		mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").WithArgs("blog", table).WillReturnRows(fkRows)

		uniqueRows := sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME"})
		for _, u := range unique {
			uniqueRows.AddRow(u...)
		}
		mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").WithArgs("blog", table).WillReturnRows(uniqueRows)
	}

	expectTable("posts", []string{"id", "user_id", "title"},
		[][]driver.Value{{"user_id", "users", "id", "fk_posts_user", 1}},
		[][]driver.Value{{"PRIMARY", "id"}})
	expectTable("profiles", []string{"id", "user_id", "bio"},
		[][]driver.Value{{"user_id", "users", "id", "fk_profiles_user", 1}},
		[][]driver.Value{{"PRIMARY", "id"}, {"uq_profiles_user", "user_id"}})
	expectTable("users", []string{"id", "name"}, nil, [][]driver.Value{{"PRIMARY", "id"}})

	entities, err := Introspect(context.Background(), dbexec.NewStandardExecutor(db), "blog")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	reg, err := NewRegistry(entities...)
	require.NoError(t, err)

	user, ok := reg.Relation("posts", "user")
	require.True(t, ok)
	assert.Equal(t, BelongsTo, user.Kind)
	assert.Equal(t, "user_id", user.ForeignKey)
	assert.Equal(t, "id", user.OwnerKey)

	posts, ok := reg.Relation("users", "posts")
	require.True(t, ok)
	assert.Equal(t, HasMany, posts.Kind)
	assert.Equal(t, "posts", posts.Related)
	assert.Equal(t, "user_id", posts.ForeignKey)
	assert.Equal(t, "id", posts.LocalKey)

	profile, ok := reg.Relation("users", "profile")
	require.True(t, ok)
	assert.Equal(t, HasOne, profile.Kind)

	users, _ := reg.Entity("users")
	assert.Equal(t, "id", users.PrimaryKey)
	assert.Equal(t, []string{"id", "name"}, users.Columns)
}

func TestBuildEntitiesDisambiguatesRepeatedTargets(t *testing.T) {
	tables := []tableInfo{
		{name: "users", columns: []string{"id"}, primaryKeys: []string{"id"}},
		{
			name:        "posts",
			columns:     []string{"id", "author_id", "editor_id"},
			primaryKeys: []string{"id"},
			foreignKeys: []foreignKey{
				{ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id", ConstraintName: "fk_author"},
				{ColumnName: "editor_id", ReferencedTable: "users", ReferencedColumn: "id", ConstraintName: "fk_editor"},
				{ColumnName: "a", ReferencedTable: "users", ReferencedColumn: "x", ConstraintName: "fk_composite"},
				{ColumnName: "b", ReferencedTable: "users", ReferencedColumn: "y", ConstraintName: "fk_composite"},
			},
		},
	}

	entities := buildEntities(context.Background(), tables)
	users := entities[0]
	posts := entities[1]

	_, ok := users.Relation("author_posts")
	assert.True(t, ok)
	_, ok = users.Relation("editor_posts")
	assert.True(t, ok)
	_, ok = posts.Relation("author")
	assert.True(t, ok)
	_, ok = posts.Relation("editor")
	assert.True(t, ok)
	assert.Len(t, posts.Relations, 2)
}
