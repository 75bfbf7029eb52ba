package schema

import (
	"github.com/pkg/errors"
)

// DevMode 为 true 时，定义错误直接 panic，方便在开发阶段尽早暴露问题
var DevMode = false

// ErrNoPrimaryKey 被引用的模型没有主键
var ErrNoPrimaryKey = errors.New("model has no primary key")

// Referable 可以被外键引用的表，模型描述符实现了这个接口
type Referable interface {
	TableName() string
	PrimaryKey() string
	ForeignKey() string
}

const (
	ULIDLength = 26
	UUIDLength = 36
)

func (bp *TableBlueprint) String(name string, length int) *ColumnBlueprint {
	if length <= 0 {
		length = 255
	}
	return bp.Column(name, String).SetLength(length)
}

func (bp *TableBlueprint) Char(name string, length int) *ColumnBlueprint {
	return bp.Column(name, Char).SetLength(length)
}

func (bp *TableBlueprint) Text(name string) *ColumnBlueprint {
	return bp.Column(name, Text)
}

func (bp *TableBlueprint) Integer(name string) *ColumnBlueprint {
	return bp.Column(name, Integer)
}

func (bp *TableBlueprint) Float(name string) *ColumnBlueprint {
	return bp.Column(name, Float)
}

func (bp *TableBlueprint) Number(name string, precision int, scale int) *ColumnBlueprint {
	return bp.Column(name, Number).SetPrecision(precision, scale)
}

func (bp *TableBlueprint) Boolean(name string) *ColumnBlueprint {
	return bp.Column(name, Boolean)
}

func (bp *TableBlueprint) JSON(name string) *ColumnBlueprint {
	return bp.Column(name, JSON)
}

func (bp *TableBlueprint) Binary(name string) *ColumnBlueprint {
	return bp.Column(name, Binary)
}

func (bp *TableBlueprint) Date(name string) *ColumnBlueprint {
	return bp.Column(name, Date)
}

func (bp *TableBlueprint) Time(name string) *ColumnBlueprint {
	return bp.Column(name, Time)
}

func (bp *TableBlueprint) Datetime(name string) *ColumnBlueprint {
	return bp.Column(name, Datetime)
}

func (bp *TableBlueprint) Timestamp(name string) *ColumnBlueprint {
	return bp.Column(name, Timestamp)
}

func (bp *TableBlueprint) UUID(name string) *ColumnBlueprint {
	return bp.Column(name, UUID)
}

func (bp *TableBlueprint) ULID(name string) *ColumnBlueprint {
	return bp.Column(name, Char).SetLength(ULIDLength)
}

// Enum 取值限定在 options 之内，MySQL 使用 ENUM 类型，其他方言使用 CHECK 约束
func (bp *TableBlueprint) Enum(name string, options ...string) *ColumnBlueprint {
	col := bp.Column(name, Enum)
	col.Options = options
	return col
}

// ID 自增主键 id
func (bp *TableBlueprint) ID() *ColumnBlueprint {
	return bp.Column("id", AutoIncrementID)
}

// UUIDAsID name 为空时使用 id，默认值由数据库生成
func (bp *TableBlueprint) UUIDAsID(name string) *ColumnBlueprint {
	if name == "" {
		name = "id"
	}
	return bp.UUID(name).Primary().DefaultOf(DefaultUUID)
}

// ULIDAsID ULID 主键，值由应用在插入时生成
func (bp *TableBlueprint) ULIDAsID(name string) *ColumnBlueprint {
	if name == "" {
		name = "id"
	}
	return bp.ULID(name).Primary().DefaultOf(DefaultULID)
}

// IDFK 引用自增主键的外键列
func (bp *TableBlueprint) IDFK(name string, table string) *ColumnBlueprint {
	return bp.Integer(name).References(table, "id")
}

func (bp *TableBlueprint) UUIDFK(name string, table string) *ColumnBlueprint {
	return bp.UUID(name).References(table, "id")
}

func (bp *TableBlueprint) ULIDFK(name string, table string) *ColumnBlueprint {
	return bp.ULID(name).References(table, "id")
}

func (bp *TableBlueprint) tableFK(t Referable, create func(name string) *ColumnBlueprint) *ColumnBlueprint {
	pk := t.PrimaryKey()
	if pk == "" {
		bp.fail(errors.WithMessagef(ErrNoPrimaryKey, "table %s", t.TableName()))
		return &ColumnBlueprint{}
	}
	return create(t.ForeignKey()).References(t.TableName(), pk)
}

// TableFK 以 t 的外键名创建引用 t 主键的整数列，例如 companies 对应 company_id
func (bp *TableBlueprint) TableFK(t Referable) *ColumnBlueprint {
	return bp.tableFK(t, bp.Integer)
}

func (bp *TableBlueprint) UUIDTableFK(t Referable) *ColumnBlueprint {
	return bp.tableFK(t, bp.UUID)
}

func (bp *TableBlueprint) ULIDTableFK(t Referable) *ColumnBlueprint {
	return bp.tableFK(t, bp.ULID)
}

// Timestamps created_at 与 updated_at
func (bp *TableBlueprint) Timestamps() {
	bp.Timestamp("created_at").SetNullable().DefaultOf(DefaultCreatedAt)
	bp.Timestamp("updated_at").SetNullable().DefaultOf(DefaultUpdatedAt)
}

// SoftDeletable deleted_at，非空表示已被软删除
func (bp *TableBlueprint) SoftDeletable() {
	bp.Timestamp("deleted_at").SetNullable()
}

// Morphs 多态关联需要的 <name>_type 与 <name>_id 两列以及联合索引
func (bp *TableBlueprint) Morphs(name string, idType ColumnType) {
	bp.String(name+"_type", 255)
	if idType == Char {
		bp.ULID(name + "_id")
	} else {
		bp.Column(name+"_id", idType)
	}
	bp.Index(name+"_type", name+"_id")
}
