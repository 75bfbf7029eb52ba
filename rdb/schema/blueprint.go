package schema

import (
	"strings"

	"github.com/pkg/errors"
)

// ColumnType 方言无关的列类型
type ColumnType int

const (
	AutoIncrementID ColumnType = iota
	Boolean
	Char
	Date
	Datetime
	Timestamp
	Float
	Integer
	JSON
	Binary
	Enum
	Number
	String
	Text
	UUID
	Time
)

var columnTypeNames = [...]string{
	AutoIncrementID: "auto_increment_id",
	Boolean:         "boolean",
	Char:            "char",
	Date:            "date",
	Datetime:        "datetime",
	Timestamp:       "timestamp",
	Float:           "float",
	Integer:         "integer",
	JSON:            "json",
	Binary:          "binary",
	Enum:            "enum",
	Number:          "number",
	String:          "string",
	Text:            "text",
	UUID:            "uuid",
	Time:            "time",
}

func (t ColumnType) String() string {
	if int(t) < len(columnTypeNames) {
		return columnTypeNames[t]
	}
	return "unknown"
}

// DefaultKind 列默认值的种类
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	DefaultCustom
	DefaultEmptyString
	DefaultCreatedAt
	DefaultUpdatedAt
	DefaultZero
	DefaultEmptyObject
	DefaultEmptyArray
	DefaultUUID
	DefaultULID
	DefaultExpression
	DefaultNull
	DefaultTrue
	DefaultFalse
)

// Default 列默认值，Value 只在 Custom 和 Expression 时有意义
type Default struct {
	Kind  DefaultKind
	Value string
}

// OnDelete 外键删除策略
type OnDelete string

const (
	NoAction OnDelete = ""
	Cascade  OnDelete = "CASCADE"
	SetNull  OnDelete = "SET NULL"
	Restrict OnDelete = "RESTRICT"
)

type ForeignKey struct {
	Table    string
	Column   string
	OnDelete OnDelete
}

// ColumnBlueprint 列定义
type ColumnBlueprint struct {
	Name         string
	Type         ColumnType
	Length       int
	Precision    int
	Scale        int
	Options      []string
	Nullable     bool
	IsUnique     bool
	IsPrimary    bool
	DefaultValue *Default
	ForeignKey   *ForeignKey
	CheckExpr    string
	Comment      string
}

// IndexKind 索引种类
type IndexKind int

const (
	IndexPlain IndexKind = iota
	IndexUnique
	IndexPrimary
)

type IndexBlueprint struct {
	Name    string
	Columns []string
	Kind    IndexKind
	Drop    bool
}

// TableBlueprint 表结构定义。创建表时描述整张表，修改表时描述新增的列与索引
type TableBlueprint struct {
	Name    string
	IsNew   bool
	Columns []*ColumnBlueprint
	Indexes []*IndexBlueprint

	err error
}

// NewTableBlueprint isNew 为 true 时生成 CREATE TABLE，否则生成 ALTER TABLE
func NewTableBlueprint(name string, isNew bool) *TableBlueprint {
	return &TableBlueprint{Name: name, IsNew: isNew}
}

// Err 构建过程中累积的第一个错误
func (bp *TableBlueprint) Err() error {
	return bp.err
}

func (bp *TableBlueprint) fail(err error) {
	if DevMode {
		panic(err)
	}
	if bp.err == nil {
		bp.err = err
	}
}

// Column 追加一列，同名列会被替换
func (bp *TableBlueprint) Column(name string, t ColumnType) *ColumnBlueprint {
	col := &ColumnBlueprint{Name: name, Type: t}
	for i, c := range bp.Columns {
		if c.Name == name {
			bp.Columns[i] = col
			return col
		}
	}
	bp.Columns = append(bp.Columns, col)
	return col
}

// Get 按名称查找列
func (bp *TableBlueprint) Get(name string) *ColumnBlueprint {
	for _, c := range bp.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// PrimaryColumns 以列属性或主键索引声明的主键列
func (bp *TableBlueprint) PrimaryColumns() []string {
	for _, idx := range bp.Indexes {
		if idx.Kind == IndexPrimary && !idx.Drop {
			return idx.Columns
		}
	}
	var cols []string
	for _, c := range bp.Columns {
		if c.IsPrimary || c.Type == AutoIncrementID {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Validate 检查定义是否完整
func (bp *TableBlueprint) Validate() error {
	if bp.err != nil {
		return bp.err
	}
	if bp.Name == "" {
		return errors.New("table name is empty")
	}
	if bp.IsNew && len(bp.Columns) == 0 {
		return errors.Errorf("table %s has no column", bp.Name)
	}
	seen := map[string]bool{}
	for _, c := range bp.Columns {
		if c.Name == "" {
			return errors.Errorf("table %s has a column without name", bp.Name)
		}
		if seen[c.Name] {
			return errors.Errorf("table %s has duplicated column %s", bp.Name, c.Name)
		}
		seen[c.Name] = true
		if c.Type == Enum && len(c.Options) == 0 {
			return errors.Errorf("enum column %s.%s has no option", bp.Name, c.Name)
		}
	}
	for _, idx := range bp.Indexes {
		if !idx.Drop && len(idx.Columns) == 0 {
			return errors.Errorf("index %s on %s has no column", idx.Name, bp.Name)
		}
	}
	return nil
}

func (bp *TableBlueprint) addIndex(kind IndexKind, name string, columns []string) *IndexBlueprint {
	if name == "" {
		name = IndexName(bp.Name, kind, columns)
	}
	idx := &IndexBlueprint{Name: name, Columns: columns, Kind: kind}
	bp.Indexes = append(bp.Indexes, idx)
	return idx
}

// IndexName 默认索引名 <表>_<列>_idx / _unique / _pkey
func IndexName(table string, kind IndexKind, columns []string) string {
	suffix := "idx"
	switch kind {
	case IndexUnique:
		suffix = "unique"
	case IndexPrimary:
		suffix = "pkey"
	}
	return table + "_" + strings.Join(columns, "_") + "_" + suffix
}

func (bp *TableBlueprint) Index(columns ...string) *IndexBlueprint {
	return bp.addIndex(IndexPlain, "", columns)
}

func (bp *TableBlueprint) UniqueIndex(columns ...string) *IndexBlueprint {
	return bp.addIndex(IndexUnique, "", columns)
}

func (bp *TableBlueprint) PrimaryIndex(columns ...string) *IndexBlueprint {
	return bp.addIndex(IndexPrimary, "", columns)
}

// NamedIndex 指定名称的索引
func (bp *TableBlueprint) NamedIndex(name string, kind IndexKind, columns ...string) *IndexBlueprint {
	return bp.addIndex(kind, name, columns)
}

// DropIndex 删除索引，仅在修改表时有效
func (bp *TableBlueprint) DropIndex(name string) {
	bp.Indexes = append(bp.Indexes, &IndexBlueprint{Name: name, Drop: true})
}

func (c *ColumnBlueprint) SetNullable() *ColumnBlueprint {
	c.Nullable = true
	return c
}

func (c *ColumnBlueprint) NotNull() *ColumnBlueprint {
	c.Nullable = false
	return c
}

func (c *ColumnBlueprint) Unique() *ColumnBlueprint {
	c.IsUnique = true
	return c
}

func (c *ColumnBlueprint) Primary() *ColumnBlueprint {
	c.IsPrimary = true
	return c
}

func (c *ColumnBlueprint) SetLength(n int) *ColumnBlueprint {
	c.Length = n
	return c
}

func (c *ColumnBlueprint) SetPrecision(precision int, scale int) *ColumnBlueprint {
	c.Precision = precision
	c.Scale = scale
	return c
}

// Default 自定义默认值，按字符串字面量渲染
func (c *ColumnBlueprint) Default(value string) *ColumnBlueprint {
	c.DefaultValue = &Default{Kind: DefaultCustom, Value: value}
	return c
}

// DefaultExpr 默认值为 SQL 表达式，原样渲染
func (c *ColumnBlueprint) DefaultExpr(expr string) *ColumnBlueprint {
	c.DefaultValue = &Default{Kind: DefaultExpression, Value: expr}
	return c
}

func (c *ColumnBlueprint) DefaultOf(kind DefaultKind) *ColumnBlueprint {
	c.DefaultValue = &Default{Kind: kind}
	return c
}

// References 外键约束
func (c *ColumnBlueprint) References(table string, column string) *ColumnBlueprint {
	c.ForeignKey = &ForeignKey{Table: table, Column: column}
	return c
}

// OnDelete 设置外键删除策略，需要在 References 之后调用
func (c *ColumnBlueprint) OnDelete(policy OnDelete) *ColumnBlueprint {
	if c.ForeignKey != nil {
		c.ForeignKey.OnDelete = policy
	}
	return c
}

func (c *ColumnBlueprint) Check(expr string) *ColumnBlueprint {
	c.CheckExpr = expr
	return c
}

func (c *ColumnBlueprint) SetComment(comment string) *ColumnBlueprint {
	c.Comment = comment
	return c
}
