package query

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/rdbx/rdb/field"
)

func TestBuilder(t *testing.T) {
	Convey("测试 Builder 构造", t, func() {
		Convey("动作类型", func() {
			So(New("t").Action(), ShouldEqual, ActionSelect)
			So(NewInsert("t").Action().IsWrite(), ShouldBeTrue)
			So(NewDropTable("t").Action().IsDDL(), ShouldBeTrue)
			So(New("t").Action().IsWrite(), ShouldBeFalse)
			So(NewRaw("SELECT 1").TableName(), ShouldEqual, "")
		})

		Convey("插入列取第一行已设置的列并排序", func() {
			b := NewInsert("users",
				field.NewColumnAndValue("name", "a", "id", 1, "age", field.NotSet()),
				field.NewColumnAndValue("name", "b", "id", 2),
			)
			So(b.IR().Columns(), ShouldResemble, []string{"id", "name"})
			So(NewInsert("users").IR().Columns(), ShouldBeNil)
		})

		Convey("Values 追加行或者覆盖更新值", func() {
			b := NewInsert("users").Values(field.NewColumnAndValue("id", 1))
			So(b.IR().Rows, ShouldHaveLength, 1)

			u := NewUpdate("users", nil).Values(field.NewColumnAndValue("name", "x"))
			So(u.IR().Set.Get("name"), ShouldResemble, field.String("x"))
		})

		Convey("Clone 之后互不影响", func() {
			b := New("users").Eq("id", 1).Select("id").Limit(10).WhereGroup(func(q *Builder) {
				q.Eq("a", 1)
			})
			c := b.Clone()
			c.Eq("name", "x").Limit(20)
			c.IR().Where[1].Group[0].Column = "b"

			So(b.IR().Where, ShouldHaveLength, 2)
			So(c.IR().Where, ShouldHaveLength, 3)
			So(*b.IR().Limit, ShouldEqual, 10)
			So(*c.IR().Limit, ShouldEqual, 20)
			So(b.IR().Where[1].Group[0].Column, ShouldEqual, "a")

			var nilBuilder *Builder
			So(nilBuilder.Clone(), ShouldBeNil)
		})

		Convey("Clone 复制插入行", func() {
			b := NewInsert("users", field.NewColumnAndValue("id", 1))
			c := b.Clone()
			c.IR().Rows[0].Set("id", 2)
			So(b.IR().Rows[0].Get("id"), ShouldResemble, field.I64(1))
		})
	})
}

func TestCondition(t *testing.T) {
	Convey("测试条件构造", t, func() {
		Convey("连接符", func() {
			b := New("t").Eq("a", 1).OrEq("b", 2).AndGt("c", 3)
			where := b.IR().Where
			So(where[0].Connector, ShouldEqual, And)
			So(where[1].Connector, ShouldEqual, Or)
			So(where[2].Op, ShouldEqual, OpGt)
			So(Or.String(), ShouldEqual, "OR")
		})

		Convey("IN 参数展开", func() {
			So(New("t").IsIn("id", []int{1, 2}).IR().Where[0].Values, ShouldResemble, []field.FieldValue{field.I64(1), field.I64(2)})
			So(New("t").IsIn("id", field.Array(field.String("a"))).IR().Where[0].Values, ShouldResemble, []field.FieldValue{field.String("a")})
			So(New("t").IsIn("id", 5).IR().Where[0].Values, ShouldResemble, []field.FieldValue{field.I64(5)})
			So(New("t").IsIn("id", []int{}).IR().Where[0].Values, ShouldBeEmpty)
		})

		Convey("分组", func() {
			b := New("t").WhereGroup(func(q *Builder) {
				q.Eq("a", 1).OrEq("b", 2)
			})
			So(b.IR().Where[0].Op, ShouldEqual, OpGroup)
			So(b.IR().Where[0].Group, ShouldHaveLength, 2)
		})

		Convey("原生条件", func() {
			c := New("t").Raw("a = ? AND b = ?", 1, "x").IR().Where[0]
			So(c.Op, ShouldEqual, OpRaw)
			So(c.Values, ShouldResemble, []field.FieldValue{field.I64(1), field.String("x")})
		})

		Convey("软删除", func() {
			c := New("posts").WithoutTableTrash(trashTable{}).IR().Where[0]
			So(c.Column, ShouldEqual, "posts.removed_at")
			So(c.Op, ShouldEqual, OpIsNull)
			So(New("posts").OnlyTrashed(trashTable{}).IR().Where[0].Op, ShouldEqual, OpIsNotNull)
		})
	})
}

type trashTable struct{}

func (trashTable) TableName() string        { return "posts" }
func (trashTable) TableColumns() []string   { return []string{"id"} }
func (trashTable) SoftDeleteColumn() string { return "removed_at" }

func TestSelect(t *testing.T) {
	Convey("测试选择列", t, func() {
		Convey("别名", func() {
			s := New("t").Select("a", "b AS c", "x.y as z").IR().Selections
			So(s, ShouldResemble, []Selection{
				{Column: "a"},
				{Column: "b", Alias: "c"},
				{Column: "x.y", Alias: "z"},
			})
		})

		Convey("聚合别名", func() {
			s := New("t").Count("*").Sum("orders.amount").MaxAs("id", "top").IR().Selections
			So(s[0].Alias, ShouldEqual, "count_all")
			So(s[1].Alias, ShouldEqual, "sum_orders_amount")
			So(s[2].Alias, ShouldEqual, "top")
			So(s[2].Aggregate, ShouldEqual, AggMax)
		})

		Convey("整表选择", func() {
			s := New("users").SelectTableAs(trashTable{}, "p").IR().Selections
			So(s, ShouldResemble, []Selection{{Column: "posts.id", Alias: "p.id"}})
		})

		Convey("连接整表", func() {
			j := New("comments").LeftJoinTable(trashTable{}, "post_id", "id").IR().Joins[0]
			So(j.Left, ShouldEqual, "comments.post_id")
			So(j.Right, ShouldEqual, "posts.id")
			So(j.Select, ShouldResemble, []string{"id"})
			So(j.Prefix(), ShouldEqual, "posts")
		})

		Convey("分页", func() {
			ir := New("t").Paginate(0, 10).IR()
			So(*ir.Limit, ShouldEqual, 10)
			So(*ir.Offset, ShouldEqual, 0)
			ir = New("t").Paginate(3, 10).IR()
			So(*ir.Offset, ShouldEqual, 20)
		})
	})
}
