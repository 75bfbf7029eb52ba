package model

import (
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/schema"
)

type Company struct {
	ID        int64      `rdb:"id,primary"`
	Name      string     `rdb:"name,size=100,unique"`
	CreatedAt time.Time  `rdb:"created_at"`
	UpdatedAt time.Time  `rdb:"updated_at"`
	DeletedAt *time.Time `rdb:"deleted_at"`
	Users     []User     `rdb:"users,relation=has_many"`
}

type Address struct {
	City string `rdb:"city"`
	Zip  string `rdb:"zip,nullable"`
}

type User struct {
	ID        string   `rdb:"id,primary,ulid"`
	CompanyID int64    `rdb:"company_id,index,references=companies.id,on_delete=cascade"`
	Email     string   `rdb:"email,unique"`
	Password  string   `rdb:"password,skip_select"`
	Score     int      `rdb:"score,skip_insert"`
	Address   Address  `rdb:"addr_,flatten"`
	Tags      []string `rdb:"tags"`
	Company   *Company `rdb:"company,relation=belongs_to"`
	Roles     []Role   `rdb:"roles,relation=belongs_to_many"`
	// 忽略的字段
	TempData string `rdb:"-"`
}

type Role struct {
	ID   int64  `rdb:"id,primary"`
	Name string `rdb:"name"`
}

type Image struct {
	ID            int64  `rdb:"id,primary"`
	URL           string `rdb:"url"`
	ImageableType string `rdb:"imageable_type,index=idx_imageable"`
	ImageableID   int64  `rdb:"imageable_id,index=idx_imageable"`
}

type Product struct {
	ID     int64   `rdb:"id,primary"`
	Images []Image `rdb:"images,relation=morph_many,morph=imageable"`
}

type Warehouse struct {
	ID       int64     `rdb:"id,primary"`
	Products []Product `rdb:"products,relation=has_many_through,pivot=inventories"`
}

type Membership struct {
	UserID   string `rdb:"user_id,primary"`
	Platform string `rdb:"platform,primary"`
	Nickname string
}

func (Membership) TableName() string {
	return "user_memberships"
}

func TestParse(t *testing.T) {
	Convey("测试模型解析", t, func() {
		Convey("表名、主键与外键", func() {
			d := MustDescribe[Company]()
			So(d.TableName(), ShouldEqual, "companies")
			So(d.PrimaryKey(), ShouldEqual, "id")
			So(d.ForeignKey(), ShouldEqual, "company_id")
			So(d.SoftDeleteColumn(), ShouldEqual, "deleted_at")
			So(d.CreatedAt, ShouldEqual, "created_at")
			So(d.UpdatedAt, ShouldEqual, "updated_at")
			So(d.Columns(), ShouldResemble, []string{"id", "name", "created_at", "updated_at", "deleted_at"})

			id, _ := d.Field("id")
			So(id.AutoIncrement(), ShouldBeTrue)
			created, _ := d.Field("CreatedAt")
			So(created.Nullable, ShouldBeTrue)
			So(created.Default.Kind, ShouldEqual, schema.DefaultCreatedAt)
		})

		Convey("展开、跳过与忽略", func() {
			d := MustDescribe[User]()
			So(d.TableName(), ShouldEqual, "users")
			So(d.ForeignKey(), ShouldEqual, "user_id")
			So(d.Columns(), ShouldResemble, []string{"id", "company_id", "email", "password", "score", "addr_city", "addr_zip", "tags"})
			So(d.TableColumns(), ShouldNotContain, "password")
			So(d.SoftDeleteColumn(), ShouldEqual, "")
			So(d.Col("Email"), ShouldEqual, "email")
			So(d.Qualified("CompanyID"), ShouldEqual, "users.company_id")
			So(func() { d.Col("Missing") }, ShouldPanic)

			id, _ := d.Field("id")
			So(id.Generated(), ShouldBeTrue)
			So(id.Size, ShouldEqual, schema.ULIDLength)
			tags, _ := d.Field("tags")
			So(tags.ColumnType, ShouldEqual, schema.JSON)
			zip, _ := d.Field("addr_zip")
			So(zip.Nullable, ShouldBeTrue)
			So(zip.Index, ShouldResemble, []int{5, 1})
		})

		Convey("自定义表名与复合主键", func() {
			d := MustDescribe[Membership]()
			So(d.TableName(), ShouldEqual, "user_memberships")
			So(d.PrimaryKeys(), ShouldResemble, []string{"user_id", "platform"})
			So(d.Col("Nickname"), ShouldEqual, "nickname")
		})

		Convey("缓存", func() {
			a, err := Parse(reflect.TypeOf(&Company{}))
			So(err, ShouldBeNil)
			b, err := Parse(reflect.TypeOf(Company{}))
			So(err, ShouldBeNil)
			So(a, ShouldEqual, b)
		})
	})
}

func TestRelation(t *testing.T) {
	Convey("测试关联定义", t, func() {
		Convey("has_many 与 belongs_to", func() {
			company := MustDescribe[Company]()
			r, ok := company.Relation("users")
			So(ok, ShouldBeTrue)
			target, err := r.Resolve()
			So(err, ShouldBeNil)
			So(target.Table, ShouldEqual, "users")
			So(r.Kind.Many(), ShouldBeTrue)
			So(r.LocalKey, ShouldEqual, "id")
			So(r.ForeignKey, ShouldEqual, "company_id")

			user := MustDescribe[User]()
			r, _ = user.Relation("company")
			_, err = r.Resolve()
			So(err, ShouldBeNil)
			So(r.Pointer, ShouldBeTrue)
			So(r.OwnerKey, ShouldEqual, "id")
			So(r.ForeignKey, ShouldEqual, "company_id")
		})

		Convey("belongs_to_many 默认中间表", func() {
			r, _ := MustDescribe[User]().Relation("roles")
			_, err := r.Resolve()
			So(err, ShouldBeNil)
			So(r.Pivot, ShouldEqual, "role_user")
			So(r.PivotParentKey, ShouldEqual, "user_id")
			So(r.PivotChildKey, ShouldEqual, "role_id")
		})

		Convey("has_many_through", func() {
			r, _ := MustDescribe[Warehouse]().Relation("products")
			_, err := r.Resolve()
			So(err, ShouldBeNil)
			So(r.Pivot, ShouldEqual, "inventories")
			So(r.PivotParentKey, ShouldEqual, "warehouse_id")
			So(r.PivotChildKey, ShouldEqual, "product_id")
			So(r.OwnerKey, ShouldEqual, "id")
		})

		Convey("morph_many", func() {
			r, _ := MustDescribe[Product]().Relation("images")
			_, err := r.Resolve()
			So(err, ShouldBeNil)
			So(r.MorphType, ShouldEqual, "Product")
			So(r.MorphTypeColumn(), ShouldEqual, "imageable_type")
			So(r.MorphIDColumn(), ShouldEqual, "imageable_id")
		})

		Convey("登记", func() {
			d, err := Register[Warehouse]()
			So(err, ShouldBeNil)
			s, ok := Lookup("Warehouse")
			So(ok, ShouldBeTrue)
			So(s, ShouldEqual, d.Schema)
			So(Registered(), ShouldContain, d.Schema)
		})
	})
}

type badMany struct {
	ID    int64 `rdb:"id,primary"`
	Items Role  `rdb:"items,relation=has_many"`
}

type badKind struct {
	ID    int64 `rdb:"id,primary"`
	Items Role  `rdb:"items,relation=owns"`
}

type badThrough struct {
	ID    int64  `rdb:"id,primary"`
	Items []Role `rdb:"items,relation=has_many_through"`
}

type dupColumn struct {
	A string `rdb:"name"`
	B string `rdb:"name"`
}

type badSize struct {
	A string `rdb:"a,size=abc"`
}

type badOnDelete struct {
	A int64 `rdb:"a,on_delete=cascade"`
}

type noKey struct {
	Name  string
	Roles []Role `rdb:"roles,relation=has_many"`
}

func TestParseErrors(t *testing.T) {
	for _, typ := range []reflect.Type{
		TypeOf[badMany](),
		TypeOf[badKind](),
		TypeOf[badThrough](),
		TypeOf[dupColumn](),
		TypeOf[badSize](),
		TypeOf[badOnDelete](),
		reflect.TypeOf(1),
	} {
		_, err := Parse(typ)
		assert.ErrorIs(t, err, ErrDefinition, typ.String())
	}

	d, err := Describe[noKey]()
	require.NoError(t, err)
	r, _ := d.Relation("roles")
	_, err = r.Resolve()
	assert.ErrorIs(t, err, ErrDefinition)
	_, err = Register[noKey]()
	assert.ErrorIs(t, err, ErrDefinition)
}

func TestEncodeDecode(t *testing.T) {
	Convey("测试模型与列值互转", t, func() {
		d := MustDescribe[User]()
		now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

		Convey("待生成的主键为 NotSet，skip_insert 不写入", func() {
			u := &User{CompanyID: 1, Email: "a@b", Score: 10}
			row := d.ToColumnValue(u)
			So(row.Get("id").IsNotSet(), ShouldBeTrue)
			So(row.Has("score"), ShouldBeFalse)
			So(row.Get("email").AsString(), ShouldEqual, "a@b")
			So(row.Has("company"), ShouldBeFalse)

			row = d.PrepareInsert(u, now)
			So(len(u.ID), ShouldEqual, 26)
			So(row.Get("id").AsString(), ShouldEqual, u.ID)
		})

		Convey("往返", func() {
			u := User{
				ID:        "01HX0000000000000000000000",
				CompanyID: 2,
				Email:     "a@b",
				Password:  "secret",
				Address:   Address{City: "Hangzhou", Zip: "310000"},
				Tags:      []string{"a", "b"},
			}
			back, err := d.FromColumnValue(d.ToColumnValue(&u))
			So(err, ShouldBeNil)
			So(back, ShouldResemble, u)
		})

		Convey("从层级结构的分支解码", func() {
			flat := field.NewColumnAndValue(
				"id", "u1",
				"email", "a@b",
				"company.id", int64(3),
				"company.name", "acme",
			)
			row := field.FromAResult(flat, "id")
			u, err := d.FromStructured(row)
			So(err, ShouldBeNil)
			So(u.ID, ShouldEqual, "u1")

			c, err := MustDescribe[Company]().FromStructured(row, "company")
			So(err, ShouldBeNil)
			So(c.ID, ShouldEqual, int64(3))
			So(c.Name, ShouldEqual, "acme")

			_, err = d.FromStructured(row, "missing")
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("类型不匹配", func() {
			_, err := d.FromColumnValue(field.NewColumnAndValue("company_id", "abc"))
			So(errors.Is(err, ErrDecode), ShouldBeTrue)
		})

		Convey("时间戳与回填", func() {
			cd := MustDescribe[Company]()
			c := &Company{Name: "acme"}
			row := cd.PrepareInsert(c, now)
			So(c.CreatedAt.Equal(now), ShouldBeTrue)
			So(row.Get("created_at").AsTime().Equal(now), ShouldBeTrue)
			So(row.Get("id").IsNotSet(), ShouldBeTrue)
			So(row.Get("deleted_at").IsNull(), ShouldBeTrue)

			later := now.Add(time.Hour)
			row = cd.PrepareUpdate(c, later)
			So(row.Get("updated_at").AsTime().Equal(later), ShouldBeTrue)
			So(row.Get("created_at").AsTime().Equal(now), ShouldBeTrue)

			So(cd.SetColumn(c, "id", field.I64(9)), ShouldBeNil)
			So(c.ID, ShouldEqual, int64(9))
			So(cd.Get(c, "id").AsInt64(), ShouldEqual, int64(9))
			So(cd.Get(c, "deleted_at").IsNull(), ShouldBeTrue)
			So(cd.SetColumn(c, "missing", field.I64(1)), ShouldNotBeNil)
		})
	})
}

func TestBlueprint(t *testing.T) {
	bp := schema.NewTableBlueprint("users", true)
	MustDescribe[User]().Blueprint(bp)
	require.NoError(t, bp.Validate())

	id := bp.Get("id")
	require.NotNil(t, id)
	assert.True(t, id.IsPrimary)
	assert.Equal(t, schema.Char, id.Type)
	assert.Equal(t, schema.DefaultULID, id.DefaultValue.Kind)

	fk := bp.Get("company_id")
	require.NotNil(t, fk.ForeignKey)
	assert.Equal(t, "companies", fk.ForeignKey.Table)
	assert.Equal(t, schema.Cascade, fk.ForeignKey.OnDelete)
	assert.True(t, bp.Get("email").IsUnique)
	assert.True(t, bp.Get("addr_zip").Nullable)

	image := schema.NewTableBlueprint("images", true)
	MustDescribe[Image]().Blueprint(image)
	require.Len(t, image.Indexes, 1)
	assert.Equal(t, "idx_imageable", image.Indexes[0].Name)
	assert.Equal(t, []string{"imageable_type", "imageable_id"}, image.Indexes[0].Columns)

	membership := schema.NewTableBlueprint("user_memberships", true)
	MustDescribe[Membership]().Blueprint(membership)
	assert.Equal(t, []string{"user_id", "platform"}, membership.PrimaryColumns())
}

func TestSnakeCase(t *testing.T) {
	for in, out := range map[string]string{
		"UserProfile": "user_profile",
		"HTTPServer":  "http_server",
		"ID":          "id",
		"CompanyID":   "company_id",
		"OrderItemV2": "order_item_v2",
		"name":        "name",
	} {
		assert.Equal(t, out, SnakeCase(in), in)
	}
}
