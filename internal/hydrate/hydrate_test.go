package hydrate

import (
	"testing"

	"relfold/internal/prefix"
	"relfold/internal/reduce"
	"relfold/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		schema.Entity{Name: "users", PrimaryKey: "id", Relations: []schema.Relation{
			{Name: "posts", Kind: schema.HasMany, Related: "posts"},
			{Name: "profile", Kind: schema.HasOne, Related: "profiles"},
			{Name: "groups", Kind: schema.BelongsToMany, Related: "groups"},
		}},
		schema.Entity{Name: "posts", PrimaryKey: "id", Relations: []schema.Relation{
			{Name: "user", Kind: schema.BelongsTo, Related: "users"},
		}},
		schema.Entity{Name: "profiles", PrimaryKey: "id"},
		schema.Entity{Name: "groups", PrimaryKey: "id"},
	)
	require.NoError(t, err)
	return reg
}

func reduceOne(t *testing.T, plan reduce.Plan, rows ...prefix.Row) *reduce.Record {
	t.Helper()
	r, err := reduce.New(reduce.FromRows(rows), plan)
	require.NoError(t, err)
	require.True(t, r.Next())
	return r.Record()
}

func userPlan(extra ...reduce.Relation) reduce.Plan {
	rels := []reduce.Relation{
		{Alias: "posts", Name: "posts", ToMany: true, KeyColumn: "posts::id"},
		{Alias: "profile", Name: "profile", KeyColumn: "profile::id"},
	}
	return reduce.Plan{RootKey: "id", Relations: append(rels, extra...)}
}

func TestHydrate(t *testing.T) {
	rec := reduceOne(t, userPlan(),
		prefix.Row{"id": int64(1), "name": "ann", "posts::id": int64(10), "posts::title": "first", "profile::id": nil},
		prefix.Row{"id": int64(1), "name": "ann", "posts::id": int64(11), "posts::title": "second", "profile::id": nil},
	)

	m, err := Hydrate(testRegistry(t), "users", rec)
	require.NoError(t, err)

	assert.Equal(t, "users", m.Entity)
	assert.Equal(t, "ann", m.Attr("name"))
	assert.Equal(t, []string{"posts", "profile"}, m.RelationNames())

	posts := m.Many("posts")
	require.Len(t, posts, 2)
	assert.Equal(t, "posts", posts[0].Entity)
	assert.Equal(t, "first", posts[0].Attr("title"))
	assert.Equal(t, "second", posts[1].Attr("title"))

	profile, ok := m.One("profile")
	assert.True(t, ok)
	assert.Nil(t, profile)

	assert.Equal(t, map[string]any{
		"id":   int64(1),
		"name": "ann",
		"posts": []map[string]any{
			{"id": int64(10), "title": "first"},
			{"id": int64(11), "title": "second"},
		},
		"profile": nil,
	}, m.Map())
}

func TestHydrateNestedBelongsTo(t *testing.T) {
	plan := reduce.Plan{Relations: []reduce.Relation{{Alias: "user", Name: "user", KeyColumn: "user::id"}}}
	rec := reduceOne(t, plan, prefix.Row{"id": 5, "user::id": 1, "user::name": "ann"})

	m, err := Hydrate(testRegistry(t), "posts", rec)
	require.NoError(t, err)

	user, ok := m.One("user")
	require.True(t, ok)
	require.NotNil(t, user)
	assert.Equal(t, "users", user.Entity)
	assert.Equal(t, "ann", user.Attr("name"))
}

func TestHydrateUnknownRelation(t *testing.T) {
	plan := reduce.Plan{Relations: []reduce.Relation{{Alias: "ghost", Name: "ghost"}}}
	rec := reduceOne(t, plan, prefix.Row{"id": 1, "ghost::x": 1})

	_, err := Hydrate(testRegistry(t), "users", rec)
	require.ErrorIs(t, err, schema.ErrRelationNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestHydrateUnsupportedKind(t *testing.T) {
	plan := reduce.Plan{RootKey: "id", Relations: []reduce.Relation{
		{Alias: "groups", Name: "groups", ToMany: true, KeyColumn: "groups::id"},
	}}
	rec := reduceOne(t, plan, prefix.Row{"id": 1, "groups::id": 2})

	_, err := Hydrate(testRegistry(t), "users", rec)
	require.ErrorIs(t, err, schema.ErrUnsupportedRelation)
}

func TestHydrateNilRecord(t *testing.T) {
	_, err := Hydrate(testRegistry(t), "users", nil)
	assert.Error(t, err)
}

type profile struct {
	ID  int    `db:"id"`
	Bio string `db:"bio"`
}

type post struct {
	ID    int    `db:"id"`
	Title string `db:"title"`
}

type user struct {
	ID      int      `db:"id"`
	Name    string   `db:"name"`
	Posts   []post   `db:"posts"`
	Profile *profile `db:"profile"`
}

func TestDecode(t *testing.T) {
	rec := reduceOne(t, userPlan(),
		prefix.Row{"id": int64(1), "name": "ann", "posts::id": int64(10), "posts::title": "first", "profile::id": int64(3), "profile::bio": "hi"},
		prefix.Row{"id": int64(1), "name": "ann", "posts::id": "11", "posts::title": "second", "profile::id": int64(3), "profile::bio": "hi"},
	)
	m, err := Hydrate(testRegistry(t), "users", rec)
	require.NoError(t, err)

	u, err := Decode[user](m)
	require.NoError(t, err)
	assert.Equal(t, user{
		ID:   1,
		Name: "ann",
		Posts: []post{
			{ID: 10, Title: "first"},
			{ID: 11, Title: "second"},
		},
		Profile: &profile{ID: 3, Bio: "hi"},
	}, u)

	all, err := DecodeAll[user]([]*Model{m, m})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = Decode[user](nil)
	assert.Error(t, err)
}
