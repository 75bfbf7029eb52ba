package query

import (
	"github.com/hatlonely/rdbx/rdb/field"
)

// Action 语句类型
type Action int

const (
	ActionSelect Action = iota
	ActionInsert
	ActionUpdate
	ActionDelete
	ActionUpsert
	ActionCreateView
	ActionDropTable
	ActionRenameTable
	ActionDropColumn
	ActionRenameColumn
	ActionRaw
)

var actionNames = [...]string{
	ActionSelect:       "select",
	ActionInsert:       "insert",
	ActionUpdate:       "update",
	ActionDelete:       "delete",
	ActionUpsert:       "upsert",
	ActionCreateView:   "create_view",
	ActionDropTable:    "drop_table",
	ActionRenameTable:  "rename_table",
	ActionDropColumn:   "drop_column",
	ActionRenameColumn: "rename_column",
	ActionRaw:          "raw",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// IsWrite 是否为写操作（包括 DDL）
func (a Action) IsWrite() bool {
	return a != ActionSelect
}

// IsDDL 是否为结构变更
func (a Action) IsDDL() bool {
	switch a {
	case ActionCreateView, ActionDropTable, ActionRenameTable, ActionDropColumn, ActionRenameColumn:
		return true
	}
	return false
}

// Table 可以被整表选择的表描述，模型描述符实现了这个接口
type Table interface {
	TableName() string
	TableColumns() []string
}

// SoftDeletable 带软删除列的表
type SoftDeletable interface {
	SoftDeleteColumn() string
}

// IR 语句的中间表示，由各方言的 emitter 渲染成 SQL
type IR struct {
	Table  string
	Action Action

	// insert / upsert
	Rows            []field.ColumnAndValue
	IgnoreConflict  bool
	ConflictColumns []string
	UpdateColumns   []string
	// Returning 插入后返回的自增列，方言不支持 RETURNING 时忽略
	Returning string

	// update
	Set field.ColumnAndValue

	// select
	Distinct   bool
	Selections []Selection
	Joins      []Join
	Where      []Condition
	GroupBy    []string
	Having     []Condition
	OrderBy    []Order
	Limit      *int64
	Offset     *int64

	// ddl
	Target string
	Column string
	View   *Builder

	// raw
	RawSQL    string
	RawParams []field.FieldValue
}

// Columns 插入语句的列，取第一行中已设置的列，按字典序
func (ir *IR) Columns() []string {
	if len(ir.Rows) == 0 {
		return nil
	}
	return ir.Rows[0].WithoutNotSet().Keys()
}

// Builder 方言无关的语句构造器
type Builder struct {
	ir IR
}

// New 创建一个针对 table 的查询
func New(table string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionSelect}}
}

// NewInsert 插入一行或多行
func NewInsert(table string, rows ...field.ColumnAndValue) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionInsert, Rows: rows}}
}

// NewSoftInsert 插入时忽略冲突的行
func NewSoftInsert(table string, rows ...field.ColumnAndValue) *Builder {
	b := NewInsert(table, rows...)
	b.ir.IgnoreConflict = true
	return b
}

// NewUpsert 冲突时更新 update 中的列，conflict 为唯一约束所在的列
func NewUpsert(table string, rows []field.ColumnAndValue, update []string, conflict []string) *Builder {
	return &Builder{ir: IR{
		Table:           table,
		Action:          ActionUpsert,
		Rows:            rows,
		UpdateColumns:   update,
		ConflictColumns: conflict,
	}}
}

// NewUpdate 更新语句，条件通过 Where 系列方法追加
func NewUpdate(table string, set field.ColumnAndValue) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionUpdate, Set: set}}
}

// Returning 插入后取回 column 的值，用于驱动不提供 LastInsertId 的方言
func (b *Builder) Returning(column string) *Builder {
	b.ir.Returning = column
	return b
}

func NewDelete(table string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionDelete}}
}

func NewDropTable(table string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionDropTable}}
}

func NewRenameTable(table string, to string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionRenameTable, Target: to}}
}

func NewDropColumn(table string, column string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionDropColumn, Column: column}}
}

func NewRenameColumn(table string, column string, to string) *Builder {
	return &Builder{ir: IR{Table: table, Action: ActionRenameColumn, Column: column, Target: to}}
}

// NewCreateView 以 from 查询创建视图 name
func NewCreateView(name string, from *Builder) *Builder {
	return &Builder{ir: IR{Table: name, Action: ActionCreateView, View: from}}
}

// NewRaw 原生语句，占位符统一写作 ?
func NewRaw(sql string, params ...field.FieldValue) *Builder {
	return &Builder{ir: IR{Action: ActionRaw, RawSQL: sql, RawParams: params}}
}

// IR 返回内部表示，调用方不应修改
func (b *Builder) IR() *IR {
	return &b.ir
}

func (b *Builder) TableName() string {
	return b.ir.Table
}

func (b *Builder) Action() Action {
	return b.ir.Action
}

// Clone 深拷贝，提交执行前调用，避免后续修改影响已提交的语句
func (b *Builder) Clone() *Builder {
	if b == nil {
		return nil
	}
	ir := b.ir
	if b.ir.Rows != nil {
		ir.Rows = make([]field.ColumnAndValue, len(b.ir.Rows))
		for i, row := range b.ir.Rows {
			ir.Rows[i] = row.Clone()
		}
	}
	if b.ir.Set != nil {
		ir.Set = b.ir.Set.Clone()
	}
	ir.ConflictColumns = cloneStrings(b.ir.ConflictColumns)
	ir.UpdateColumns = cloneStrings(b.ir.UpdateColumns)
	ir.GroupBy = cloneStrings(b.ir.GroupBy)
	ir.Selections = append([]Selection(nil), b.ir.Selections...)
	ir.OrderBy = append([]Order(nil), b.ir.OrderBy...)
	ir.RawParams = append([]field.FieldValue(nil), b.ir.RawParams...)
	if b.ir.Joins != nil {
		ir.Joins = make([]Join, len(b.ir.Joins))
		for i, j := range b.ir.Joins {
			j.Select = cloneStrings(j.Select)
			ir.Joins[i] = j
		}
	}
	ir.Where = cloneConditions(b.ir.Where)
	ir.Having = cloneConditions(b.ir.Having)
	if b.ir.Limit != nil {
		v := *b.ir.Limit
		ir.Limit = &v
	}
	if b.ir.Offset != nil {
		v := *b.ir.Offset
		ir.Offset = &v
	}
	ir.View = b.ir.View.Clone()
	return &Builder{ir: ir}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
