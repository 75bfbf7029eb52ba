package rdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/event"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/pool"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManagerWithOptions(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func createUsers(ctx context.Context, m *Manager) error {
	return m.CreateTableSchema(ctx, "users", func(bp *schema.TableBlueprint) {
		bp.Text("id").Primary()
		bp.Text("email").Unique()
		bp.Integer("age").SetNullable()
	})
}

func TestManagerCRUD(t *testing.T) {
	Convey("测试 SQLite 增删改查", t, func() {
		ctx := context.Background()
		m := newTestManager(t)
		So(createUsers(ctx, m), ShouldBeNil)

		Convey("建表、插入、查询", func() {
			_, err := m.Insert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b"))
			So(err, ShouldBeNil)

			rows, err := m.SelectFromTable("users", func(q *query.Builder) {
				q.Eq("email", "a@b")
			}).All(ctx)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Get("id").AsString(), ShouldEqual, "u1")
			So(rows[0].Get("age").IsNull(), ShouldBeTrue)
		})

		Convey("测试批量插入的列取第一行", func() {
			_, err := m.InsertMulti(ctx, "users", []field.ColumnAndValue{
				field.NewColumnAndValue("id", "u1", "email", "1@x"),
				field.NewColumnAndValue("id", "u2", "email", "2@x", "age", 50),
			})
			So(err, ShouldBeNil)

			n, err := m.SelectFromTable("users", func(q *query.Builder) { q.Eq("age", 50) }).Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("批量插入与冲突忽略", func() {
			res, err := m.InsertMulti(ctx, "users", []field.ColumnAndValue{
				field.NewColumnAndValue("id", "u1", "email", "1@x", "age", 20),
				field.NewColumnAndValue("id", "u2", "email", "2@x"),
				field.NewColumnAndValue("id", "u3", "email", "3@x", "age", 40),
			})
			So(err, ShouldBeNil)
			So(res.RowsAffected, ShouldEqual, 3)

			res, err = m.SoftInsert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "dup@x"))
			So(err, ShouldBeNil)
			So(res.RowsAffected, ShouldEqual, 0)

			n, err := m.SelectFromTable("users", nil).Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)

			n, err = m.SelectFromTable("users", func(q *query.Builder) {
				q.GtOrEq("age", 20).Asc("id").Limit(1)
			}).Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)

			_, err = m.Insert(ctx, "users", field.NewColumnAndValue("id", "u4", "email", "1@x"))
			So(pool.ConstraintOf(err), ShouldEqual, pool.ConstraintUnique)
		})

		Convey("按唯一列 upsert", func() {
			_, err := m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b", "age", 1), []string{"age"}, []string{"id"})
			So(err, ShouldBeNil)
			_, err = m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "other@b", "age", 2), []string{"age"}, []string{"id"})
			So(err, ShouldBeNil)

			rows, err := m.SelectFromTable("users", nil).All(ctx)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Get("age").AsInt64(), ShouldEqual, 2)
			So(rows[0].Get("email").AsString(), ShouldEqual, "a@b")

			_, err = m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1"), nil, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("update 为空时更新全部非冲突列", func() {
			_, err := m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b", "age", 1), nil, []string{"id"})
			So(err, ShouldBeNil)
			_, err = m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "c@d", "age", 2), nil, []string{"id"})
			So(err, ShouldBeNil)

			row, err := m.SelectFromTable("users", nil).One(ctx)
			So(err, ShouldBeNil)
			So(row.Get("email").AsString(), ShouldEqual, "c@d")
			So(row.Get("age").AsInt64(), ShouldEqual, 2)

			// 只有冲突列时冲突的行保持不变
			_, err = m.Upsert(ctx, "users", field.NewColumnAndValue("id", "u1"), nil, []string{"id"})
			So(err, ShouldBeNil)
			row, err = m.SelectFromTable("users", nil).One(ctx)
			So(err, ShouldBeNil)
			So(row.Get("email").AsString(), ShouldEqual, "c@d")
		})

		Convey("RETURNING 取回自增主键", func() {
			So(m.CreateTableSchema(ctx, "companies", func(bp *schema.TableBlueprint) {
				bp.ID()
				bp.String("name", 64).Unique()
			}), ShouldBeNil)

			res, err := m.Exec(ctx, query.NewInsert("companies", field.NewColumnAndValue("name", "acme")).Returning("id"))
			So(err, ShouldBeNil)
			So(res.LastInsertID, ShouldEqual, int64(1))
			So(res.RowsAffected, ShouldEqual, int64(1))

			res, err = m.Exec(ctx, query.NewInsert("companies", field.NewColumnAndValue("name", "globex")).Returning("id"))
			So(err, ShouldBeNil)
			So(res.LastInsertID, ShouldEqual, int64(2))

			res, err = m.Exec(ctx, query.NewSoftInsert("companies", field.NewColumnAndValue("name", "acme")).Returning("id"))
			So(err, ShouldBeNil)
			So(res.RowsAffected, ShouldEqual, int64(0))
			So(res.LastInsertID, ShouldEqual, int64(0))

			_, err = m.Exec(ctx, query.NewInsert("companies", field.NewColumnAndValue("name", "acme")).Returning("id"))
			So(pool.ConstraintOf(err), ShouldEqual, pool.ConstraintUnique)
		})

		Convey("更新与删除", func() {
			_, err := m.InsertMulti(ctx, "users", []field.ColumnAndValue{
				field.NewColumnAndValue("id", "u1", "email", "1@x", "age", 20),
				field.NewColumnAndValue("id", "u2", "email", "2@x", "age", 30),
			})
			So(err, ShouldBeNil)

			res, err := m.Update(ctx, "users", field.ColumnAndValue{"age": field.I64(21), "email": field.NotSet()}, func(q *query.Builder) {
				q.Eq("id", "u1")
			})
			So(err, ShouldBeNil)
			So(res.RowsAffected, ShouldEqual, 1)

			row, err := m.SelectFromTable("users", func(q *query.Builder) { q.Eq("id", "u1") }).One(ctx)
			So(err, ShouldBeNil)
			So(row.Get("age").AsInt64(), ShouldEqual, 21)
			So(row.Get("email").AsString(), ShouldEqual, "1@x")

			res, err = m.Delete(ctx, "users", func(q *query.Builder) { q.Gt("age", 25) })
			So(err, ShouldBeNil)
			So(res.RowsAffected, ShouldEqual, 1)

			_, err = m.SelectFromTable("users", func(q *query.Builder) { q.Eq("id", "u2") }).One(ctx)
			So(errors.Is(err, ErrRecordNotFound), ShouldBeTrue)

			ok, err := m.SelectFromTable("users", func(q *query.Builder) { q.Eq("id", "u1") }).Exists(ctx)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("层级结构结果", func() {
			_, err := m.Insert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b"))
			So(err, ShouldBeNil)
			rows, err := m.SelectFromTable("users", func(q *query.Builder) {
				q.Select("id").SelectAs("email", "contact.email")
			}).Structured(ctx, "id")
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
			contact, ok := rows[0].Section("contact")
			So(ok, ShouldBeTrue)
			So(contact.Get("email").AsString(), ShouldEqual, "a@b")
			So(rows[0].Hash(), ShouldEqual, field.RowHash(field.NewColumnAndValue("id", "u1"), "id"))
		})
	})
}

func TestManagerSchema(t *testing.T) {
	Convey("测试表结构操作", t, func() {
		ctx := context.Background()
		m := newTestManager(t)

		Convey("HasTable 结果被缓存，DDL 之后失效", func() {
			ok, err := m.HasTable(ctx, "users")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			// 绕过 Manager 建表，缓存不会失效
			p, err := m.Router().Route("", pool.Write)
			So(err, ShouldBeNil)
			_, err = p.DB.Exec(`CREATE TABLE "users" ("id" TEXT PRIMARY KEY NOT NULL)`)
			So(err, ShouldBeNil)
			ok, _ = m.HasTable(ctx, "users")
			So(ok, ShouldBeFalse)

			So(m.RawStatement(ctx, `CREATE TABLE "other" ("id" INTEGER)`), ShouldBeNil)
			ok, _ = m.HasTable(ctx, "users")
			So(ok, ShouldBeTrue)
		})

		Convey("已存在的表不会重建，不存在的表不会修改", func() {
			So(createUsers(ctx, m), ShouldBeNil)
			So(createUsers(ctx, m), ShouldBeNil)

			called := false
			So(m.UpdateTableSchema(ctx, "missing", func(bp *schema.TableBlueprint) {
				called = true
			}), ShouldBeNil)
			So(called, ShouldBeFalse)

			So(m.UpdateTableSchema(ctx, "users", func(bp *schema.TableBlueprint) {
				bp.String("nickname", 32).SetNullable()
			}), ShouldBeNil)
			_, err := m.Insert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b", "nickname", "bob"))
			So(err, ShouldBeNil)
			row, err := m.SelectFromTable("users", nil).One(ctx)
			So(err, ShouldBeNil)
			So(row.Get("nickname").AsString(), ShouldEqual, "bob")
		})

		Convey("视图、重命名与删除", func() {
			So(createUsers(ctx, m), ShouldBeNil)
			_, err := m.InsertMulti(ctx, "users", []field.ColumnAndValue{
				field.NewColumnAndValue("id", "u1", "email", "1@x", "age", 17),
				field.NewColumnAndValue("id", "u2", "email", "2@x", "age", 30),
			})
			So(err, ShouldBeNil)

			So(m.CreateViewFromTable(ctx, "adults", "users", func(q *query.Builder) {
				q.Select("id", "email").GtOrEq("age", 18)
			}), ShouldBeNil)
			rows, err := m.SelectFromTable("adults", nil).All(ctx)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 1)
			So(rows[0].Get("id").AsString(), ShouldEqual, "u2")

			So(m.RawStatement(ctx, `DROP VIEW "adults"`), ShouldBeNil)
			So(m.RenameColumn(ctx, "users", "age", "years"), ShouldBeNil)
			So(m.DropColumn(ctx, "users", "years"), ShouldBeNil)
			row, err := m.SelectFromTable("users", nil).One(ctx)
			So(err, ShouldBeNil)
			So(row.Has("years"), ShouldBeFalse)

			So(m.RenameTable(ctx, "users", "members"), ShouldBeNil)
			ok, _ := m.HasTable(ctx, "users")
			So(ok, ShouldBeFalse)
			ok, _ = m.HasTable(ctx, "members")
			So(ok, ShouldBeTrue)

			So(m.DropTable(ctx, "members"), ShouldBeNil)
			ok, _ = m.HasTable(ctx, "members")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestManagerStream(t *testing.T) {
	Convey("测试流式读取", t, func() {
		ctx := context.Background()
		m := newTestManager(t)
		So(createUsers(ctx, m), ShouldBeNil)
		var rows []field.ColumnAndValue
		for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
			rows = append(rows, field.NewColumnAndValue("id", id, "email", id+"@x"))
		}
		_, err := m.InsertMulti(ctx, "users", rows)
		So(err, ShouldBeNil)

		Convey("逐行读取", func() {
			s, err := m.SelectFromTable("users", func(q *query.Builder) { q.Asc("id") }).Stream(ctx)
			So(err, ShouldBeNil)
			var ids []string
			for s.Next() {
				ids = append(ids, s.Row().Get("id").AsString())
			}
			So(s.Err(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			So(ids, ShouldResemble, []string{"u1", "u2", "u3", "u4", "u5"})

			// 连接已归还
			n, err := m.SelectFromTable("users", nil).Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)
		})

		Convey("提前关闭", func() {
			s, err := m.SelectFromTable("users", nil).Stream(ctx)
			So(err, ShouldBeNil)
			So(s.Next(), ShouldBeTrue)
			So(s.Close(), ShouldBeNil)
			n, err := m.SelectFromTable("users", nil).Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)
		})

		Convey("解码为结构体", func() {
			type user struct {
				ID    string
				Email string
			}
			s, err := StreamTo(ctx, m.SelectFromTable("users", func(q *query.Builder) { q.Desc("id") }),
				func(row field.StructuredColumnAndValue) (user, error) {
					return user{ID: row.Get("id").AsString(), Email: row.Get("email").AsString()}, nil
				}, "id")
			So(err, ShouldBeNil)
			users, err := s.Collect()
			So(err, ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			So(len(users), ShouldEqual, 5)
			So(users[0], ShouldResemble, user{ID: "u5", Email: "u5@x"})
		})

		Convey("解码失败结束流", func() {
			s, err := StreamTo(ctx, m.SelectFromTable("users", nil),
				func(row field.StructuredColumnAndValue) (string, error) {
					return "", errors.New("bad row")
				})
			So(err, ShouldBeNil)
			values, err := s.Collect()
			So(err, ShouldNotBeNil)
			So(values, ShouldBeEmpty)
			So(s.Close(), ShouldBeNil)
		})
	})
}

func TestManagerEvents(t *testing.T) {
	Convey("测试写入事件与粘滞时间戳", t, func() {
		ctx := context.Background()
		m := newTestManager(t)

		var mu sync.Mutex
		var events []event.SchemaWritten
		event.Subscribe(m.Bus(), func(_ context.Context, e event.SchemaWritten) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
			return nil
		})

		So(m.Router().LastWrite("").IsZero(), ShouldBeTrue)
		So(createUsers(ctx, m), ShouldBeNil)
		afterDDL := m.Router().LastWrite("")
		So(afterDDL.IsZero(), ShouldBeFalse)

		_, err := m.SelectFromTable("users", nil).All(ctx)
		So(err, ShouldBeNil)
		So(m.Router().LastWrite(""), ShouldEqual, afterDDL)

		_, err = m.Insert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b"))
		So(err, ShouldBeNil)
		_, err = m.Delete(ctx, "users", nil)
		So(err, ShouldBeNil)

		mu.Lock()
		defer mu.Unlock()
		So(len(events), ShouldEqual, 3)
		So(events[0].Kind, ShouldEqual, event.WriteDDL)
		So(events[0].Dialect, ShouldEqual, dialect.SQLite)
		So(events[1].Kind, ShouldEqual, event.WriteInsert)
		So(events[1].Table, ShouldEqual, "users")
		So(events[2].Kind, ShouldEqual, event.WriteDelete)
	})
}

func TestManagerRaw(t *testing.T) {
	Convey("测试原生语句", t, func() {
		ctx := context.Background()
		m := newTestManager(t)
		So(createUsers(ctx, m), ShouldBeNil)

		res, err := m.RawInsert(ctx, `INSERT INTO "users" ("id", "email", "age") VALUES (?, ?, ?)`,
			[]any{"u1", "1@x", 10},
			[]any{"u2", "2@x", 20},
		)
		So(err, ShouldBeNil)
		So(res.RowsAffected, ShouldEqual, 2)

		res, err = m.RawUpdate(ctx, `UPDATE "users" SET "age" = "age" + ? WHERE "id" = ?`, 5, "u1")
		So(err, ShouldBeNil)
		So(res.RowsAffected, ShouldEqual, 1)

		rows, err := m.RawSelect(ctx, `SELECT "id", "age" FROM "users" WHERE "age" > ? ORDER BY "id"`, 12)
		So(err, ShouldBeNil)
		So(len(rows), ShouldEqual, 2)
		So(rows[0].Get("age").AsInt64(), ShouldEqual, 15)

		res, err = m.RawDelete(ctx, `DELETE FROM "users" WHERE "id" = ?`, "u2")
		So(err, ShouldBeNil)
		So(res.RowsAffected, ShouldEqual, 1)

		_, err = m.RawSelect(ctx, `SELECT * FROM "users" WHERE "id" = ?`)
		So(err, ShouldNotBeNil)
	})
}

func TestManagerUse(t *testing.T) {
	Convey("测试方言切换", t, func() {
		m := newTestManager(t)
		emitter, err := m.Dialect()
		So(err, ShouldBeNil)
		So(emitter.Name(), ShouldEqual, dialect.SQLite)

		_, err = m.Use(dialect.MySQL).SelectFromTable("users", nil).All(context.Background())
		So(errors.Is(err, pool.ErrConfig), ShouldBeTrue)

		w := m.UseWrite()
		p, err := w.pool(false)
		So(err, ShouldBeNil)
		So(p.Client, ShouldEqual, pool.Write)
	})
}

func TestManagerOptions(t *testing.T) {
	data := []byte(`
name: rdbx_test
enableMetrics: true
enableTracing: true
hasTableCache:
  ttl: 30s
pool:
  default: sqlite
  sqlite_write:
    url: "sqlite::memory:"
    busy_timeout: 2
    max_retries: 2
`)
	var options ManagerOptions
	require.NoError(t, cfg.LoadBytes(data, "yaml", &options))
	assert.Equal(t, 30*time.Second, options.HasTableCache.TTL)
	assert.Equal(t, 1048576, options.HasTableCache.Size)
	assert.Equal(t, 2, options.Pool.SQLiteWrite.BusyTimeout)
	assert.Equal(t, 5*time.Second, options.EventBus.Timeout)

	m, err := NewManagerWithOptions(context.Background(), &options)
	require.NoError(t, err)
	defer m.Close()
	assert.NotNil(t, m.metrics)
	assert.NotNil(t, m.tracer)
	assert.Equal(t, 30*time.Second, m.tableTTL)

	ctx := context.Background()
	require.NoError(t, createUsers(ctx, m))
	_, err = m.Insert(ctx, "users", field.NewColumnAndValue("id", "u1", "email", "a@b"))
	require.NoError(t, err)
	n, err := m.SelectFromTable("users", nil).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 同名指标只注册一次
	assert.Same(t, m.metrics, NewMetrics("rdbx_test"))
}
