package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/rdbx/lock"
	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/model"
	"github.com/hatlonely/rdbx/rdb/schema"
)

type Ticket struct {
	ID    int64  `rdb:"id,primary"`
	Title string `rdb:"title"`
}

var tickets = model.MustRegister[Ticket]()

func createTable(name string) Func {
	return func(ctx context.Context, m *rdb.Manager) error {
		return m.CreateTableSchema(ctx, name, func(bp *schema.TableBlueprint) {
			bp.ID()
			bp.String("name", 64)
		})
	}
}

func dropTable(name string) Func {
	return func(ctx context.Context, m *rdb.Manager) error {
		return m.DropTable(ctx, name)
	}
}

func names(statuses []Status) []string {
	var out []string
	for _, s := range statuses {
		out = append(out, s.Name)
	}
	return out
}

func TestRunner(t *testing.T) {
	Convey("测试迁移", t, func() {
		ctx := context.Background()
		m, err := rdb.NewManagerWithOptions(ctx, nil)
		So(err, ShouldBeNil)
		defer m.Close()

		coordinator := lock.NewCoordinator(lock.NewMemoryStoreWithOptions(&lock.MemoryStoreOptions{Size: 512 * 1024}))
		r, err := NewRunnerWithOptions(m, coordinator, &Options{LockWait: 0})
		So(err, ShouldBeNil)
		So(r.options.Key, ShouldEqual, "rdbx:migrate:sqlite")
		So(r.options.Table, ShouldEqual, "_migrations")

		So(r.Add(
			Migration{Name: "001_create_users", Up: createTable("users"), Down: dropTable("users")},
			Migration{Name: "002_create_posts", Up: createTable("posts"), Down: dropTable("posts")},
		), ShouldBeNil)

		Convey("按批次执行与回滚", func() {
			done, err := r.Up(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"001_create_users", "002_create_posts"})
			ok, _ := m.HasTable(ctx, "users")
			So(ok, ShouldBeTrue)

			done, err = r.Up(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldBeEmpty)

			So(r.Add(Migration{Name: "003_create_tags", Up: createTable("tags")}), ShouldBeNil)
			done, err = r.Up(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"003_create_tags"})

			statuses, err := r.Status(ctx)
			So(err, ShouldBeNil)
			So(names(statuses), ShouldResemble, []string{"001_create_users", "002_create_posts", "003_create_tags"})
			So(statuses[0].Applied, ShouldBeTrue)
			So(statuses[0].Batch, ShouldEqual, int64(1))
			So(statuses[1].Batch, ShouldEqual, int64(1))
			So(statuses[2].Batch, ShouldEqual, int64(2))

			done, err = r.Down(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"003_create_tags"})
			ok, _ = m.HasTable(ctx, "tags")
			So(ok, ShouldBeTrue)

			done, err = r.Down(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"002_create_posts", "001_create_users"})
			ok, _ = m.HasTable(ctx, "users")
			So(ok, ShouldBeFalse)

			done, err = r.Down(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldBeEmpty)

			statuses, err = r.Status(ctx)
			So(err, ShouldBeNil)
			for _, s := range statuses {
				So(s.Applied, ShouldBeFalse)
			}
		})

		Convey("迁移失败时保留已执行的记录", func() {
			So(r.Add(Migration{Name: "003_broken", Up: func(ctx context.Context, m *rdb.Manager) error {
				return errors.New("boom")
			}}), ShouldBeNil)

			done, err := r.Up(ctx)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "003_broken")
			So(done, ShouldResemble, []string{"001_create_users", "002_create_posts"})

			diff, err := r.Diff(ctx)
			So(err, ShouldBeNil)
			So(diff.Pending, ShouldResemble, []string{"003_broken"})
		})

		Convey("锁被占用时失败", func() {
			l := coordinator.Make("rdbx:migrate:sqlite", time.Minute)
			ok, err := l.Acquire(ctx, 0)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			_, err = r.Up(ctx)
			So(errors.Is(err, ErrLocked), ShouldBeTrue)

			So(l.Release(ctx), ShouldBeNil)
			done, err := r.Up(ctx)
			So(err, ShouldBeNil)
			So(len(done), ShouldEqual, 2)
		})

		Convey("数据填充", func() {
			_, err := r.Up(ctx)
			So(err, ShouldBeNil)
			So(r.AddSeeder(
				Seeder{Name: "users", Run: func(ctx context.Context, m *rdb.Manager) error {
					_, err := m.InsertMulti(ctx, "users", []field.ColumnAndValue{
						field.NewColumnAndValue("name", "lu xun"),
						field.NewColumnAndValue("name", "lao she"),
					})
					return err
				}},
				Seeder{Name: "posts", Run: func(ctx context.Context, m *rdb.Manager) error {
					_, err := m.Insert(ctx, "posts", field.NewColumnAndValue("name", "kong yi ji"))
					return err
				}},
			), ShouldBeNil)

			done, err := r.Seed(ctx, "posts")
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"posts"})
			n, _ := m.SelectFromTable("users", nil).Count(ctx)
			So(n, ShouldEqual, int64(0))

			done, err = r.Seed(ctx)
			So(err, ShouldBeNil)
			So(done, ShouldResemble, []string{"users", "posts"})
			n, _ = m.SelectFromTable("users", nil).Count(ctx)
			So(n, ShouldEqual, int64(2))

			_, err = r.Seed(ctx, "missing")
			So(errors.Is(err, ErrUnknownSeeder), ShouldBeTrue)
		})

		Convey("差异", func() {
			diff, err := r.Diff(ctx)
			So(err, ShouldBeNil)
			So(diff.Pending, ShouldResemble, []string{"001_create_users", "002_create_posts"})
			So(diff.Unknown, ShouldBeEmpty)
			So(diff.MissingTables, ShouldContain, tickets.Table)

			So(r.Add(Migration{Name: "003_create_tickets", Up: func(ctx context.Context, m *rdb.Manager) error {
				return m.CreateTableSchema(ctx, tickets.Table, tickets.Blueprint)
			}}), ShouldBeNil)
			_, err = r.Up(ctx)
			So(err, ShouldBeNil)

			diff, err = r.Diff(ctx)
			So(err, ShouldBeNil)
			So(diff.Empty(), ShouldBeTrue)

			other, err := NewRunnerWithOptions(m, coordinator, nil)
			So(err, ShouldBeNil)
			So(other.Add(Migration{Name: "001_create_users", Up: createTable("users")}), ShouldBeNil)
			diff, err = other.Diff(ctx)
			So(err, ShouldBeNil)
			So(diff.Unknown, ShouldResemble, []string{"002_create_posts", "003_create_tickets"})

			_, err = other.Down(ctx)
			So(errors.Is(err, ErrDefinition), ShouldBeTrue)
		})
	})
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	m, err := rdb.NewManagerWithOptions(ctx, nil)
	require.NoError(t, err)
	defer m.Close()

	r, err := NewRunnerWithOptions(m, lock.NewCoordinator(lock.NewMemoryStoreWithOptions(&lock.MemoryStoreOptions{Size: 512 * 1024})), &Options{Key: "sqlite::memory:", Table: "schema_migrations"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite::memory:", r.options.Key)
	assert.Equal(t, 5*time.Minute, r.options.LockTTL)

	assert.ErrorIs(t, r.Add(Migration{Name: "a"}), ErrDefinition)
	assert.ErrorIs(t, r.Add(Migration{Up: createTable("a")}), ErrDefinition)
	require.NoError(t, r.Add(Migration{Name: "a", Up: createTable("a")}))
	assert.ErrorIs(t, r.Add(Migration{Name: "a", Up: createTable("a")}), ErrDefinition)

	assert.ErrorIs(t, r.AddSeeder(Seeder{Name: "s"}), ErrDefinition)
	require.NoError(t, r.AddSeeder(Seeder{Name: "s", Run: func(context.Context, *rdb.Manager) error { return nil }}))
	assert.ErrorIs(t, r.AddSeeder(Seeder{Name: "s", Run: func(context.Context, *rdb.Manager) error { return nil }}), ErrDefinition)

	_, err = NewRunnerWithOptions(m, nil, &Options{LockWait: -time.Second})
	assert.Error(t, err)

	done, err := r.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, done)
	ok, err := m.HasTable(ctx, "schema_migrations")
	require.NoError(t, err)
	assert.True(t, ok)
}
