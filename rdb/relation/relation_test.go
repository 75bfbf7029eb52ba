package relation

import (
	"context"
	"reflect"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/model"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

type Author struct {
	ID     int64   `rdb:"id,primary"`
	Name   string  `rdb:"name"`
	Posts  []Post  `rdb:"posts,relation=has_many"`
	Latest *Post   `rdb:"latest,relation=has_one"`
	Photos []Photo `rdb:"photos,relation=morph_many,morph=imageable"`
	Tags   []Tag   `rdb:"tags,relation=belongs_to_many"`
}

type Post struct {
	ID        int64      `rdb:"id,primary"`
	AuthorID  int64      `rdb:"author_id"`
	DeletedAt *time.Time `rdb:"deleted_at"`
	Author    *Author    `rdb:"author,relation=belongs_to"`
}

type Tag struct {
	ID int64 `rdb:"id,primary"`
}

type Photo struct {
	ID            int64  `rdb:"id,primary"`
	ImageableType string `rdb:"imageable_type"`
	ImageableID   int64  `rdb:"imageable_id"`
}

func mustLoader(t *testing.T, s *model.Schema, name string, mode Mode) *Loader {
	l, err := New(s, name, mode)
	require.NoError(t, err)
	return l
}

func TestBuild(t *testing.T) {
	e := dialect.NewSQLite()
	authors := model.MustDescribe[Author]().Schema
	posts := model.MustDescribe[Post]().Schema
	keys := []field.FieldValue{field.I64(1), field.I64(2)}

	for _, c := range []struct {
		schema *model.Schema
		name   string
		mode   Mode
		keys   []field.FieldValue
		sql    string
		args   []field.FieldValue
	}{
		{
			authors, "posts", WithoutTrashed, keys,
			`SELECT "posts"."id" AS "id", "posts"."author_id" AS "author_id", "posts"."deleted_at" AS "deleted_at", "posts"."author_id" AS "__parent" FROM "posts" WHERE "posts"."author_id" IN (?, ?) AND "posts"."deleted_at" IS NULL ORDER BY "posts"."id" ASC`,
			keys,
		},
		{
			authors, "posts", WithTrashed, keys,
			`SELECT "posts"."id" AS "id", "posts"."author_id" AS "author_id", "posts"."deleted_at" AS "deleted_at", "posts"."author_id" AS "__parent" FROM "posts" WHERE "posts"."author_id" IN (?, ?) ORDER BY "posts"."id" ASC`,
			keys,
		},
		{
			authors, "posts", OnlyTrashed, keys[:1],
			`SELECT "posts"."id" AS "id", "posts"."author_id" AS "author_id", "posts"."deleted_at" AS "deleted_at", "posts"."author_id" AS "__parent" FROM "posts" WHERE "posts"."author_id" IN (?) AND "posts"."deleted_at" IS NOT NULL ORDER BY "posts"."id" ASC`,
			keys[:1],
		},
		{
			posts, "author", WithoutTrashed, keys[:1],
			`SELECT "authors"."id" AS "id", "authors"."name" AS "name", "__pivot"."author_id" AS "__parent" FROM "authors" INNER JOIN "posts" AS "__pivot" ON "__pivot"."author_id" = "authors"."id" WHERE "__pivot"."author_id" IN (?) ORDER BY "authors"."id" ASC`,
			keys[:1],
		},
		{
			authors, "photos", WithoutTrashed, keys[:1],
			`SELECT "photos"."id" AS "id", "photos"."imageable_type" AS "imageable_type", "photos"."imageable_id" AS "imageable_id", "photos"."imageable_id" AS "__parent" FROM "photos" WHERE "photos"."imageable_type" = ? AND "photos"."imageable_id" IN (?) ORDER BY "photos"."id" ASC`,
			[]field.FieldValue{field.String("Author"), field.I64(1)},
		},
		{
			authors, "tags", WithoutTrashed, keys[:1],
			`SELECT "tags"."id" AS "id", "__pivot"."author_id" AS "__parent" FROM "tags" INNER JOIN "author_tag" AS "__pivot" ON "__pivot"."tag_id" = "tags"."id" WHERE "__pivot"."author_id" IN (?) ORDER BY "tags"."id" ASC`,
			keys[:1],
		},
	} {
		b, err := mustLoader(t, c.schema, c.name, c.mode).Build(c.keys)
		require.NoError(t, err)
		stmt, err := e.Build(b)
		require.NoError(t, err)
		assert.Equal(t, c.sql, stmt.SQL, c.name+" "+c.mode.String())
		assert.Equal(t, c.args, stmt.Args, c.name)
	}

	_, err := New(authors, "missing", WithoutTrashed)
	assert.ErrorIs(t, err, model.ErrDefinition)
}

func setup(ctx context.Context, m *rdb.Manager) error {
	for _, s := range []*model.Schema{
		model.MustDescribe[Author]().Schema,
		model.MustDescribe[Post]().Schema,
		model.MustDescribe[Tag]().Schema,
		model.MustDescribe[Photo]().Schema,
	} {
		if err := m.CreateTableSchema(ctx, s.Table, s.Blueprint); err != nil {
			return err
		}
	}
	if err := m.CreateTableSchema(ctx, "author_tag", func(bp *schema.TableBlueprint) {
		bp.Integer("author_id")
		bp.Integer("tag_id")
		bp.PrimaryIndex("author_id", "tag_id")
	}); err != nil {
		return err
	}

	now := time.Now()
	inserts := map[string][]field.ColumnAndValue{
		"authors": {
			field.NewColumnAndValue("id", 1, "name", "lu xun"),
			field.NewColumnAndValue("id", 2, "name", "lao she"),
			field.NewColumnAndValue("id", 3, "name", "ba jin"),
		},
		"posts": {
			field.NewColumnAndValue("id", 10, "author_id", 1, "deleted_at", nil),
			field.NewColumnAndValue("id", 11, "author_id", 1, "deleted_at", now),
			field.NewColumnAndValue("id", 12, "author_id", 2),
			field.NewColumnAndValue("id", 13, "author_id", 1),
		},
		"tags":       {field.NewColumnAndValue("id", 100), field.NewColumnAndValue("id", 101)},
		"author_tag": {field.NewColumnAndValue("author_id", 1, "tag_id", 100), field.NewColumnAndValue("author_id", 1, "tag_id", 101), field.NewColumnAndValue("author_id", 2, "tag_id", 101)},
		"photos": {
			field.NewColumnAndValue("id", 1000, "imageable_type", "Author", "imageable_id", 2),
			field.NewColumnAndValue("id", 1001, "imageable_type", "Post", "imageable_id", 2),
		},
	}
	for _, table := range []string{"authors", "posts", "tags", "author_tag", "photos"} {
		if _, err := m.InsertMulti(ctx, table, inserts[table]); err != nil {
			return err
		}
	}
	return nil
}

func TestLoad(t *testing.T) {
	Convey("测试批量加载关联", t, func() {
		ctx := context.Background()
		m, err := rdb.NewManagerWithOptions(ctx, nil)
		So(err, ShouldBeNil)
		defer m.Close()
		So(setup(ctx, m), ShouldBeNil)

		authors := model.MustDescribe[Author]()
		parents, err := m.SelectFromTable("authors", func(q *query.Builder) { q.Asc("id") }).All(ctx)
		So(err, ShouldBeNil)
		So(len(parents), ShouldEqual, 3)
		hash := func(i int) uint64 { return field.RowHash(parents[i], "id") }

		Convey("has_many 排除软删除", func() {
			res, err := mustLoader(t, authors.Schema, "posts", WithoutTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			So(len(res.Of(hash(0))), ShouldEqual, 2)
			So(len(res.Of(hash(1))), ShouldEqual, 1)
			So(res.Of(hash(2)), ShouldBeEmpty)

			res, err = mustLoader(t, authors.Schema, "posts", WithTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			So(len(res.Of(hash(0))), ShouldEqual, 3)

			res, err = mustLoader(t, authors.Schema, "posts", OnlyTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			So(len(res.Of(hash(0))), ShouldEqual, 1)
			So(res.Of(hash(0))[0].Get("id").AsInt64(), ShouldEqual, int64(11))
		})

		Convey("has_one 只取第一条", func() {
			res, err := mustLoader(t, authors.Schema, "latest", WithoutTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			So(len(res.Of(hash(0))), ShouldEqual, 1)

			a, err := authors.FromColumnValue(parents[0])
			So(err, ShouldBeNil)
			So(Assign(reflect.ValueOf(&a).Elem(), res.Relation, res.Of(hash(0))), ShouldBeNil)
			So(a.Latest, ShouldNotBeNil)
			So(a.Latest.ID, ShouldEqual, int64(10))

			c, err := authors.FromColumnValue(parents[2])
			So(err, ShouldBeNil)
			So(Assign(reflect.ValueOf(&c).Elem(), res.Relation, res.Of(hash(2))), ShouldBeNil)
			So(c.Latest, ShouldBeNil)
		})

		Convey("belongs_to", func() {
			posts := model.MustDescribe[Post]()
			children, err := m.SelectFromTable("posts", nil).All(ctx)
			So(err, ShouldBeNil)
			res, err := mustLoader(t, posts.Schema, "author", WithoutTrashed).Load(ctx, m, children, "id")
			So(err, ShouldBeNil)
			for _, row := range children {
				owners := res.Of(field.RowHash(row, "id"))
				So(len(owners), ShouldEqual, 1)
				So(owners[0].Get("id").Key(), ShouldEqual, row.Get("author_id").Key())
			}
		})

		Convey("belongs_to_many 与 morph_many", func() {
			res, err := mustLoader(t, authors.Schema, "tags", WithoutTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			a, _ := authors.FromColumnValue(parents[0])
			So(Assign(reflect.ValueOf(&a).Elem(), res.Relation, res.Of(hash(0))), ShouldBeNil)
			So(a.Tags, ShouldResemble, []Tag{{ID: 100}, {ID: 101}})

			res, err = mustLoader(t, authors.Schema, "photos", WithoutTrashed).Load(ctx, m, parents, "id")
			So(err, ShouldBeNil)
			So(res.Of(hash(0)), ShouldBeEmpty)
			So(len(res.Of(hash(1))), ShouldEqual, 1)
			So(res.Of(hash(1))[0].Get("imageable_type").AsString(), ShouldEqual, "Author")
		})

		Convey("没有父键时不查询", func() {
			res, err := mustLoader(t, authors.Schema, "posts", WithoutTrashed).Load(ctx, m, nil, "id")
			So(err, ShouldBeNil)
			So(res.Of(0), ShouldBeEmpty)
		})
	})
}
