package runapp

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"relfold/internal/config"
	"relfold/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func seedBlog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "blog.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	statements := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT NOT NULL)`,
		`INSERT INTO users (id, name) VALUES (1, 'ann'), (2, 'bob'), (3, 'cat')`,
		`INSERT INTO posts (id, user_id, title) VALUES (10, 1, 'hello'), (11, 1, 'again'), (12, 2, 'first')`,
	}
	for _, s := range statements {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return path
}

func blogConfig(path string) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:   config.DriverSQLite,
			Database: path,
			Pool: config.PoolConfig{
				MaxOpen:     2,
				MaxIdle:     1,
				MaxLifetime: time.Minute,
			},
		},
		Schema: config.SchemaConfig{
			Entities: []schema.EntityDecl{
				{
					Name:       "users",
					PrimaryKey: "id",
					Columns:    []string{"id", "name"},
					Relations: []schema.RelationDecl{
						{Name: "posts", Kind: "has_many", Related: "posts"},
					},
				},
				{
					Name:       "posts",
					PrimaryKey: "id",
					Columns:    []string{"id", "user_id", "title"},
					Relations: []schema.RelationDecl{
						{Name: "author", Kind: "belongs_to", Related: "users", ForeignKey: "user_id"},
					},
				},
			},
		},
		Query: config.QueryConfig{
			Entity:   "users",
			Mode:     config.ModeGet,
			PageSize: 2,
		},
		Output: config.OutputConfig{Format: config.FormatJSONLines},
		Observability: config.ObservabilityConfig{
			ServiceName: "relfold",
			Logging:     config.LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	app, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func decodeLines(t *testing.T, out []byte) []map[string]any {
	t.Helper()

	var records []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(out), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec), string(line))
		records = append(records, rec)
	}
	return records
}

func TestRunFoldsHasMany(t *testing.T) {
	for _, mode := range []string{config.ModeGet, config.ModeCursor} {
		t.Run(mode, func(t *testing.T) {
			cfg := blogConfig(seedBlog(t))
			cfg.Query.Mode = mode
			cfg.Query.With = []string{"posts"}
			cfg.Query.OrderBy = []string{"id", "posts.id:desc"}
			app := startApp(t, cfg)

			var buf bytes.Buffer
			count, err := app.Run(context.Background(), &buf)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			records := decodeLines(t, buf.Bytes())
			require.Len(t, records, 3)
			assert.Equal(t, "ann", records[0]["name"])
			posts, ok := records[0]["posts"].([]any)
			require.True(t, ok)
			require.Len(t, posts, 2)
			assert.Equal(t, "again", posts[0].(map[string]any)["title"])
			assert.Equal(t, "hello", posts[1].(map[string]any)["title"])
			assert.Len(t, records[1]["posts"], 1)
			assert.Empty(t, records[2]["posts"])
		})
	}
}

func TestRunOnlyExistingDropsChildless(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Query.WithExisting = []string{"posts"}
	app := startApp(t, cfg)

	var buf bytes.Buffer
	count, err := app.Run(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunBelongsTo(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Query.Entity = "posts"
	cfg.Query.With = []string{"author"}
	cfg.Query.OrderBy = []string{"id"}
	app := startApp(t, cfg)

	var buf bytes.Buffer
	_, err := app.Run(context.Background(), &buf)
	require.NoError(t, err)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 3)
	author, ok := records[2]["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bob", author["name"])
}

func TestRunChunkedModes(t *testing.T) {
	for _, mode := range []string{config.ModeChunked, config.ModeChunkedByID} {
		t.Run(mode, func(t *testing.T) {
			cfg := blogConfig(seedBlog(t))
			cfg.Query.Mode = mode
			app := startApp(t, cfg)

			var buf bytes.Buffer
			count, err := app.Run(context.Background(), &buf)
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			records := decodeLines(t, buf.Bytes())
			names := make([]any, 0, len(records))
			for _, r := range records {
				names = append(names, r["name"])
			}
			assert.Equal(t, []any{"ann", "bob", "cat"}, names)
		})
	}
}

func TestRunChunkedRejectsHasMany(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Query.Mode = config.ModeChunked
	cfg.Query.With = []string{"posts"}
	app := startApp(t, cfg)

	_, err := app.Run(context.Background(), io.Discard)
	require.Error(t, err)
}

func TestRunWhereInFilter(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Query.With = []string{"posts"}
	cfg.Query.WhereIn = config.WhereInConfig{
		Columns: []string{"id"},
		Values:  []string{"1", "3", "99"},
	}
	app := startApp(t, cfg)

	var buf bytes.Buffer
	count, err := app.Run(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records := decodeLines(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "ann", records[0]["name"])
	assert.Len(t, records[0]["posts"], 2)
	assert.Equal(t, "cat", records[1]["name"])
}

func TestRunJSONArrayOutput(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Output.Format = config.FormatJSON
	cfg.Output.Pretty = true
	app := startApp(t, cfg)

	var buf bytes.Buffer
	_, err := app.Run(context.Background(), &buf)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &records))
	assert.Len(t, records, 3)
}

func TestBuildQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *config.QueryConfig)
	}{
		{name: "unknown entity", mutate: func(q *config.QueryConfig) { q.Entity = "widgets" }},
		{name: "unknown relation", mutate: func(q *config.QueryConfig) { q.With = []string{"comments"} }},
		{name: "bad force case", mutate: func(q *config.QueryConfig) { q.ForceCase = "title" }},
		{name: "bad order", mutate: func(q *config.QueryConfig) { q.OrderBy = []string{"name:sideways"} }},
		{name: "order on missing join", mutate: func(q *config.QueryConfig) { q.OrderBy = []string{"posts.id"} }},
		{name: "where_in tuple width", mutate: func(q *config.QueryConfig) {
			q.WhereIn = config.WhereInConfig{Columns: []string{"id"}, Values: []string{"1|2"}}
		}},
		{name: "conflicting join options", mutate: func(q *config.QueryConfig) {
			q.With = []string{"posts"}
			q.WithExisting = []string{"posts"}
		}},
	}

	cfg := blogConfig(seedBlog(t))
	app := startApp(t, cfg)
	base := cfg.Query
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.cfg.Query = base
			tt.mutate(&app.cfg.Query)
			_, err := app.buildQuery()
			require.Error(t, err)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := blogConfig(seedBlog(t))
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	app := startApp(t, cfg)
	require.NotEmpty(t, app.metricsAddr)

	_, err := app.Run(context.Background(), io.Discard)
	require.NoError(t, err)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", app.metricsAddr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTelemetryConfigMapping(t *testing.T) {
	cfg := blogConfig("")
	cfg.Observability.ServiceVersion = "1.2.3"
	cfg.Observability.Environment = "test"
	cfg.Observability.TraceSampleRatio = 0.5

	got := telemetryConfig(cfg, config.OTLPConfig{
		Endpoint:         "collector:4318",
		Protocol:         "http/protobuf",
		Insecure:         true,
		Headers:          map[string]string{"x-team": "data"},
		Timeout:          3 * time.Second,
		Compression:      "gzip",
		RetryEnabled:     true,
		RetryMaxAttempts: 5,
	})

	assert.Equal(t, "relfold", got.ServiceName)
	assert.Equal(t, "1.2.3", got.ServiceVersion)
	assert.Equal(t, "test", got.Environment)
	assert.InDelta(t, 0.5, got.TraceSampleRatio, 1e-9)
	assert.Equal(t, "collector:4318", got.Exporter.Endpoint)
	assert.Equal(t, "http/protobuf", got.Exporter.Protocol)
	assert.True(t, got.Exporter.Insecure)
	assert.Equal(t, "data", got.Exporter.Headers["x-team"])
	assert.Equal(t, 3*time.Second, got.Exporter.Timeout)
	assert.Equal(t, 5, got.Exporter.RetryMaxAttempts)
}
