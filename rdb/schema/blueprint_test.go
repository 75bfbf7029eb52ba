package schema

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type company struct {
	pk string
}

func (c company) TableName() string  { return "companies" }
func (c company) PrimaryKey() string { return c.pk }
func (c company) ForeignKey() string { return "company_id" }

func TestTableBlueprint(t *testing.T) {
	Convey("测试表结构定义", t, func() {
		Convey("列辅助方法", func() {
			bp := NewTableBlueprint("users", true)
			bp.ID()
			bp.String("name", 0)
			bp.ULID("code")
			bp.Number("balance", 10, 2)
			bp.Enum("role", "admin", "member").Default("member")

			So(bp.Get("name").Length, ShouldEqual, 255)
			So(bp.Get("code").Type, ShouldEqual, Char)
			So(bp.Get("code").Length, ShouldEqual, ULIDLength)
			So(bp.Get("balance").Precision, ShouldEqual, 10)
			So(bp.Get("balance").Scale, ShouldEqual, 2)
			So(bp.Get("role").Options, ShouldResemble, []string{"admin", "member"})
			So(bp.Get("role").DefaultValue, ShouldResemble, &Default{Kind: DefaultCustom, Value: "member"})
			So(bp.Get("missing"), ShouldBeNil)
			So(bp.PrimaryColumns(), ShouldResemble, []string{"id"})
			So(bp.Validate(), ShouldBeNil)
		})

		Convey("同名列被替换", func() {
			bp := NewTableBlueprint("users", true)
			bp.String("name", 10)
			bp.Text("name")
			So(bp.Columns, ShouldHaveLength, 1)
			So(bp.Get("name").Type, ShouldEqual, Text)
		})

		Convey("主键", func() {
			bp := NewTableBlueprint("docs", true)
			bp.UUIDAsID("")
			So(bp.Get("id").IsPrimary, ShouldBeTrue)
			So(bp.Get("id").DefaultValue.Kind, ShouldEqual, DefaultUUID)

			bp = NewTableBlueprint("role_user", true)
			bp.Integer("user_id")
			bp.Integer("role_id")
			bp.PrimaryIndex("user_id", "role_id")
			So(bp.PrimaryColumns(), ShouldResemble, []string{"user_id", "role_id"})
			So(bp.Indexes[0].Name, ShouldEqual, "role_user_user_id_role_id_pkey")
		})

		Convey("外键", func() {
			bp := NewTableBlueprint("users", true)
			bp.TableFK(company{pk: "id"}).OnDelete(SetNull)
			col := bp.Get("company_id")
			So(col, ShouldNotBeNil)
			So(col.Type, ShouldEqual, Integer)
			So(col.ForeignKey, ShouldResemble, &ForeignKey{Table: "companies", Column: "id", OnDelete: SetNull})

			bp.ULIDFK("owner_id", "owners")
			So(bp.Get("owner_id").Length, ShouldEqual, ULIDLength)
		})

		Convey("被引用的模型没有主键", func() {
			bp := NewTableBlueprint("users", true)
			bp.ID()
			bp.TableFK(company{})
			So(errors.Is(bp.Err(), ErrNoPrimaryKey), ShouldBeTrue)
			So(errors.Is(bp.Validate(), ErrNoPrimaryKey), ShouldBeTrue)
			So(bp.Get("company_id"), ShouldBeNil)
		})

		Convey("开发模式下定义错误直接 panic", func() {
			DevMode = true
			defer func() { DevMode = false }()
			bp := NewTableBlueprint("users", true)
			So(func() { bp.UUIDTableFK(company{}) }, ShouldPanic)
		})

		Convey("时间戳与软删除", func() {
			bp := NewTableBlueprint("posts", true)
			bp.Timestamps()
			bp.SoftDeletable()
			So(bp.Get("created_at").Nullable, ShouldBeTrue)
			So(bp.Get("updated_at").DefaultValue.Kind, ShouldEqual, DefaultUpdatedAt)
			So(bp.Get("deleted_at").DefaultValue, ShouldBeNil)
		})

		Convey("多态列", func() {
			bp := NewTableBlueprint("comments", true)
			bp.Morphs("commentable", Integer)
			So(bp.Get("commentable_type").Type, ShouldEqual, String)
			So(bp.Get("commentable_id").Type, ShouldEqual, Integer)
			So(bp.Indexes[0].Columns, ShouldResemble, []string{"commentable_type", "commentable_id"})
			So(bp.Indexes[0].Name, ShouldEqual, "comments_commentable_type_commentable_id_idx")
		})

		Convey("校验", func() {
			So(NewTableBlueprint("", true).Validate(), ShouldNotBeNil)
			So(NewTableBlueprint("t", true).Validate(), ShouldNotBeNil)
			So(NewTableBlueprint("t", false).Validate(), ShouldBeNil)

			bp := NewTableBlueprint("t", true)
			bp.Enum("status")
			So(bp.Validate(), ShouldNotBeNil)

			bp = NewTableBlueprint("t", true)
			bp.ID()
			bp.Index()
			So(bp.Validate(), ShouldNotBeNil)
		})

		Convey("删除索引", func() {
			bp := NewTableBlueprint("t", false)
			bp.DropIndex("t_a_idx")
			So(bp.Indexes[0].Drop, ShouldBeTrue)
			So(bp.Indexes[0].Name, ShouldEqual, "t_a_idx")
		})

		Convey("列类型名称", func() {
			So(UUID.String(), ShouldEqual, "uuid")
			So(ColumnType(100).String(), ShouldEqual, "unknown")
		})
	})
}
