package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/pgslice/internal/table"
)

func postsWorld() *world {
	w := newWorld("posts")
	w.columns["posts"] = postsColumns
	w.pk["posts"] = []string{"id"}
	w.indexes["posts"] = []string{`CREATE INDEX "posts_createdAt_idx" ON public.posts USING btree ("createdAt")`}
	w.fks["posts"] = []string{`FOREIGN KEY ("userId") REFERENCES users(id)`}
	w.stats["posts"] = []string{`CREATE STATISTICS public.posts_stats ON id, title FROM public.posts`}
	return w
}

func TestPrepDeclarative(t *testing.T) {
	f := postsWorld().fake()
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", Column: "createdAt", Period: "month"}))

	assert.Equal(t, []string{
		`CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING DEFAULTS INCLUDING CONSTRAINTS INCLUDING STORAGE INCLUDING COMMENTS INCLUDING GENERATED) PARTITION BY RANGE ("createdAt");`,
		`CREATE INDEX ON "public"."posts_intermediate" USING btree ("createdAt");`,
		`ALTER TABLE "public"."posts_intermediate" ADD FOREIGN KEY ("userId") REFERENCES users(id);`,
		`CREATE STATISTICS "posts_intermediate_id_title_stat" ON id, title FROM "public"."posts_intermediate";`,
		`COMMENT ON TABLE "public"."posts_intermediate" IS 'column:createdAt,period:month,cast:date,version:3';`,
	}, executed(f))

	out := f.Out.String()
	assert.Contains(t, out, "BEGIN;")
	assert.Contains(t, out, "COMMIT;")
}

func TestPrepDeclarativeV2(t *testing.T) {
	f := postsWorld().fake()
	f.Version = 100005
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", Column: "createdAt", Period: "day"}))

	assert.Equal(t, []string{
		`CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING DEFAULTS INCLUDING CONSTRAINTS INCLUDING STORAGE INCLUDING COMMENTS) PARTITION BY RANGE ("createdAt");`,
		`COMMENT ON TABLE "public"."posts_intermediate" IS 'column:createdAt,period:day,cast:date,version:2';`,
	}, executed(f))
}

func TestPrepTriggerBased(t *testing.T) {
	w := postsWorld()
	w.columns["posts"] = []table.Column{{Name: "id", DataType: "bigint"}, {Name: "createdAt", DataType: "timestamp with time zone"}}
	f := w.fake()
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", Column: "createdAt", Period: "day", TriggerBased: true}))

	queries := executed(f)
	require.Len(t, queries, 5)
	assert.Equal(t, `CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING ALL);`, queries[0])
	assert.Equal(t, `ALTER TABLE "public"."posts_intermediate" ADD FOREIGN KEY ("userId") REFERENCES users(id);`, queries[1])
	assert.Contains(t, queries[2], `CREATE FUNCTION "public"."posts_insert_trigger"()`)
	assert.Contains(t, queries[2], "Create partitions first.")
	assert.Contains(t, queries[3], `BEFORE INSERT ON "public"."posts_intermediate"`)
	assert.Equal(t, `COMMENT ON TRIGGER "posts_insert_trigger" ON "public"."posts_intermediate" IS 'column:createdAt,period:day,cast:timestamptz';`, queries[4])
}

func TestPrepOldServerIsTriggerBased(t *testing.T) {
	f := postsWorld().fake()
	f.Version = 90600
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", Column: "createdAt", Period: "year"}))
	assert.Contains(t, executed(f)[len(executed(f))-1], "'column:createdAt,period:year,cast:date'")
}

func TestPrepTestVersion(t *testing.T) {
	f := postsWorld().fake()
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", Column: "createdAt", Period: "month", TestVersion: 2}))
	assert.Contains(t, executed(f)[len(executed(f))-1], "version:2")
}

func TestPrepNoPartition(t *testing.T) {
	f := postsWorld().fake()
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", NoPartition: true}))

	assert.Equal(t, []string{
		`CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING ALL);`,
		`ALTER TABLE "public"."posts_intermediate" ADD FOREIGN KEY ("userId") REFERENCES users(id);`,
	}, executed(f))
}

func TestPrepPreconditions(t *testing.T) {
	tests := []struct {
		name  string
		opts  PrepOptions
		setup func(*world)
		want  string
	}{
		{"no partition with column", PrepOptions{Table: "posts", Column: "createdAt", NoPartition: true}, nil, `Usage: "pgslice prep TABLE --no-partition"`},
		{"no partition trigger based", PrepOptions{Table: "posts", NoPartition: true, TriggerBased: true}, nil, "Can't use --trigger-based and --no-partition"},
		{"missing table", PrepOptions{Table: "comments", Column: "createdAt", Period: "day"}, nil, "Table not found: public.comments"},
		{"intermediate exists", PrepOptions{Table: "posts", Column: "createdAt", Period: "day"}, func(w *world) { w.tables["posts_intermediate"] = true }, "Table already exists: public.posts_intermediate"},
		{"missing period", PrepOptions{Table: "posts", Column: "createdAt"}, nil, `Usage: "pgslice prep TABLE COLUMN PERIOD"`},
		{"unknown column", PrepOptions{Table: "posts", Column: "updatedAt", Period: "day"}, nil, "Column not found: updatedAt"},
		{"bad period", PrepOptions{Table: "posts", Column: "createdAt", Period: "week"}, nil, "Invalid period: week"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postsWorld()
			if tt.setup != nil {
				tt.setup(w)
			}
			f := w.fake()
			err := newOrchestrator(f).Prep(context.Background(), tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
			assert.Empty(t, f.Transactions)
		})
	}
}

func TestPrepHash(t *testing.T) {
	f := postsWorld().fake()
	require.NoError(t, newOrchestrator(f).PrepHash(context.Background(), "posts", "id", 3))

	queries := executed(f)
	require.Len(t, queries, 7)
	assert.Equal(t, `CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING DEFAULTS INCLUDING CONSTRAINTS INCLUDING STORAGE INCLUDING COMMENTS INCLUDING STATISTICS INCLUDING GENERATED INCLUDING COMPRESSION) PARTITION BY HASH ("id");`, queries[0])
	assert.Equal(t, `ALTER TABLE "public"."posts_intermediate" ADD PRIMARY KEY ("id");`, queries[1])
	assert.Equal(t, `CREATE TABLE "public"."posts_0" PARTITION OF "public"."posts_intermediate" FOR VALUES WITH (MODULUS 3, REMAINDER 0);`, queries[4])
	assert.Equal(t, `CREATE TABLE "public"."posts_2" PARTITION OF "public"."posts_intermediate" FOR VALUES WITH (MODULUS 3, REMAINDER 2);`, queries[6])
}

func TestPrepHashKeyPerPartition(t *testing.T) {
	f := postsWorld().fake()
	require.NoError(t, newOrchestrator(f).PrepHash(context.Background(), "posts", "title", 2))

	queries := executed(f)
	assert.NotContains(t, queries, `ALTER TABLE "public"."posts_intermediate" ADD PRIMARY KEY ("id");`)
	assert.Contains(t, queries, `ALTER TABLE "public"."posts_0" ADD PRIMARY KEY ("id");`)
	assert.Contains(t, queries, `ALTER TABLE "public"."posts_1" ADD PRIMARY KEY ("id");`)
}

func TestPrepHashRejectsZeroPartitions(t *testing.T) {
	err := newOrchestrator(postsWorld().fake()).PrepHash(context.Background(), "posts", "id", 0)
	assert.EqualError(t, err, "Partitions must be greater than 0")
}

func TestUnprep(t *testing.T) {
	w := postsWorld()
	w.tables["posts_intermediate"] = true
	w.tableComments["posts_intermediate"] = "column:createdAt,period:month,cast:date,version:3"
	f := w.fake()
	require.NoError(t, newOrchestrator(f).Unprep(context.Background(), "posts"))
	assert.Equal(t, []string{`DROP TABLE "public"."posts_intermediate" CASCADE;`}, executed(f))

	w = postsWorld()
	w.tables["posts_intermediate"] = true
	w.triggerComments["posts_intermediate"] = "column:createdAt,period:month,cast:date"
	f = w.fake()
	require.NoError(t, newOrchestrator(f).Unprep(context.Background(), "posts"))
	assert.Equal(t, []string{
		`DROP TABLE "public"."posts_intermediate" CASCADE;`,
		`DROP FUNCTION IF EXISTS "public"."posts_insert_trigger"();`,
	}, executed(f))

	err := newOrchestrator(postsWorld().fake()).Unprep(context.Background(), "posts")
	assert.EqualError(t, err, "Table not found: public.posts_intermediate")
}

func TestDryRunExecutesNothing(t *testing.T) {
	f := postsWorld().fake()
	f.Dry = true
	require.NoError(t, newOrchestrator(f).Prep(context.Background(), PrepOptions{Table: "posts", NoPartition: true}))
	assert.Empty(t, f.Transactions)
	assert.Contains(t, f.Out.String(), `CREATE TABLE "public"."posts_intermediate" (LIKE "public"."posts" INCLUDING ALL);`)
}
