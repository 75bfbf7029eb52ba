package query

import (
	"github.com/hatlonely/rdbx/rdb/field"
)

// Connector 条件之间的连接方式
type Connector int

const (
	And Connector = iota
	Or
)

func (c Connector) String() string {
	if c == Or {
		return "OR"
	}
	return "AND"
}

// Operator 谓词运算符
type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "<>"
	OpGt         Operator = ">"
	OpGtOrEq     Operator = ">="
	OpLt         Operator = "<"
	OpLtOrEq     Operator = "<="
	OpLike       Operator = "LIKE"
	OpNotLike    Operator = "NOT LIKE"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
	OpBetween    Operator = "BETWEEN"
	OpNotBetween Operator = "NOT BETWEEN"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
	OpInQuery    Operator = "IN QUERY"
	OpNotInQuery Operator = "NOT IN QUERY"
	OpRaw        Operator = "RAW"
	OpGroup      Operator = "GROUP"
)

// Condition where/having 中的一个原子谓词或者括号分组
type Condition struct {
	Connector Connector
	Column    string
	Op        Operator
	Value     field.FieldValue
	Values    []field.FieldValue
	Sub       *Builder
	Group     []Condition
	RawSQL    string
}

func cloneConditions(conds []Condition) []Condition {
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		c.Values = append([]field.FieldValue(nil), c.Values...)
		c.Group = cloneConditions(c.Group)
		c.Sub = c.Sub.Clone()
		out[i] = c
	}
	return out
}

func (b *Builder) addWhere(c Condition) *Builder {
	b.ir.Where = append(b.ir.Where, c)
	return b
}

func atom(conn Connector, column string, op Operator, value any) Condition {
	return Condition{Connector: conn, Column: column, Op: op, Value: field.From(value)}
}

func list(conn Connector, column string, op Operator, values any) Condition {
	return Condition{Connector: conn, Column: column, Op: op, Values: toValues(values)}
}

// toValues 把切片、数组或者 Array 类型的 FieldValue 展开成参数列表
func toValues(values any) []field.FieldValue {
	switch vs := values.(type) {
	case []field.FieldValue:
		return vs
	case field.FieldValue:
		if vs.Kind() == field.KindArray {
			return vs.AsArray()
		}
		return []field.FieldValue{vs}
	}
	v := field.From(values)
	if v.Kind() == field.KindArray {
		return v.AsArray()
	}
	if v.IsNotSet() {
		return nil
	}
	return []field.FieldValue{v}
}

// Where 通用谓词 column op value
func (b *Builder) Where(column string, op Operator, value any) *Builder {
	return b.addWhere(atom(And, column, op, value))
}

func (b *Builder) OrWhere(column string, op Operator, value any) *Builder {
	return b.addWhere(atom(Or, column, op, value))
}

func (b *Builder) Eq(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpEq, value))
}

func (b *Builder) Ne(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpNe, value))
}

func (b *Builder) Gt(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpGt, value))
}

func (b *Builder) GtOrEq(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpGtOrEq, value))
}

func (b *Builder) Lt(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpLt, value))
}

func (b *Builder) LtOrEq(column string, value any) *Builder {
	return b.addWhere(atom(And, column, OpLtOrEq, value))
}

func (b *Builder) Like(column string, pattern any) *Builder {
	return b.addWhere(atom(And, column, OpLike, pattern))
}

func (b *Builder) NotLike(column string, pattern any) *Builder {
	return b.addWhere(atom(And, column, OpNotLike, pattern))
}

// IsIn values 可以是任意切片或者 Array
func (b *Builder) IsIn(column string, values any) *Builder {
	return b.addWhere(list(And, column, OpIn, values))
}

func (b *Builder) IsNotIn(column string, values any) *Builder {
	return b.addWhere(list(And, column, OpNotIn, values))
}

func (b *Builder) Between(column string, low any, high any) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpBetween, Values: []field.FieldValue{field.From(low), field.From(high)}})
}

func (b *Builder) NotBetween(column string, low any, high any) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpNotBetween, Values: []field.FieldValue{field.From(low), field.From(high)}})
}

func (b *Builder) IsNull(column string) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpIsNull})
}

func (b *Builder) IsNotNull(column string) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpIsNotNull})
}

// IsInQuery column IN (子查询)，参数按外层在前、内层在后的顺序拼接
func (b *Builder) IsInQuery(column string, sub *Builder) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpInQuery, Sub: sub})
}

func (b *Builder) IsNotInQuery(column string, sub *Builder) *Builder {
	return b.addWhere(Condition{Connector: And, Column: column, Op: OpNotInQuery, Sub: sub})
}

// Raw 原生条件片段，占位符写作 ?
func (b *Builder) Raw(sql string, params ...any) *Builder {
	return b.addWhere(rawCondition(And, sql, params))
}

// WhereGroup 括号分组，fn 中追加的条件放在同一对括号里
func (b *Builder) WhereGroup(fn func(*Builder)) *Builder {
	return b.addWhere(group(And, fn))
}

func (b *Builder) AndEq(column string, value any) *Builder     { return b.Eq(column, value) }
func (b *Builder) AndNe(column string, value any) *Builder     { return b.Ne(column, value) }
func (b *Builder) AndGt(column string, value any) *Builder     { return b.Gt(column, value) }
func (b *Builder) AndGtOrEq(column string, value any) *Builder { return b.GtOrEq(column, value) }
func (b *Builder) AndLt(column string, value any) *Builder     { return b.Lt(column, value) }
func (b *Builder) AndLtOrEq(column string, value any) *Builder { return b.LtOrEq(column, value) }
func (b *Builder) AndLike(column string, pattern any) *Builder { return b.Like(column, pattern) }
func (b *Builder) AndIsIn(column string, values any) *Builder  { return b.IsIn(column, values) }
func (b *Builder) AndIsNull(column string) *Builder            { return b.IsNull(column) }
func (b *Builder) AndIsNotNull(column string) *Builder         { return b.IsNotNull(column) }
func (b *Builder) AndWhereGroup(fn func(*Builder)) *Builder    { return b.WhereGroup(fn) }

func (b *Builder) OrEq(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpEq, value))
}

func (b *Builder) OrNe(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpNe, value))
}

func (b *Builder) OrGt(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpGt, value))
}

func (b *Builder) OrGtOrEq(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpGtOrEq, value))
}

func (b *Builder) OrLt(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpLt, value))
}

func (b *Builder) OrLtOrEq(column string, value any) *Builder {
	return b.addWhere(atom(Or, column, OpLtOrEq, value))
}

func (b *Builder) OrLike(column string, pattern any) *Builder {
	return b.addWhere(atom(Or, column, OpLike, pattern))
}

func (b *Builder) OrNotLike(column string, pattern any) *Builder {
	return b.addWhere(atom(Or, column, OpNotLike, pattern))
}

func (b *Builder) OrIsIn(column string, values any) *Builder {
	return b.addWhere(list(Or, column, OpIn, values))
}

func (b *Builder) OrIsNotIn(column string, values any) *Builder {
	return b.addWhere(list(Or, column, OpNotIn, values))
}

func (b *Builder) OrBetween(column string, low any, high any) *Builder {
	return b.addWhere(Condition{Connector: Or, Column: column, Op: OpBetween, Values: []field.FieldValue{field.From(low), field.From(high)}})
}

func (b *Builder) OrIsNull(column string) *Builder {
	return b.addWhere(Condition{Connector: Or, Column: column, Op: OpIsNull})
}

func (b *Builder) OrIsNotNull(column string) *Builder {
	return b.addWhere(Condition{Connector: Or, Column: column, Op: OpIsNotNull})
}

func (b *Builder) OrIsInQuery(column string, sub *Builder) *Builder {
	return b.addWhere(Condition{Connector: Or, Column: column, Op: OpInQuery, Sub: sub})
}

func (b *Builder) OrRaw(sql string, params ...any) *Builder {
	return b.addWhere(rawCondition(Or, sql, params))
}

func (b *Builder) OrWhereGroup(fn func(*Builder)) *Builder {
	return b.addWhere(group(Or, fn))
}

func rawCondition(conn Connector, sql string, params []any) Condition {
	values := make([]field.FieldValue, 0, len(params))
	for _, p := range params {
		values = append(values, field.From(p))
	}
	return Condition{Connector: conn, Op: OpRaw, RawSQL: sql, Values: values}
}

func group(conn Connector, fn func(*Builder)) Condition {
	inner := &Builder{}
	fn(inner)
	return Condition{Connector: conn, Op: OpGroup, Group: inner.ir.Where}
}

// WithoutTableTrash 排除 t 中已被软删除的行
func (b *Builder) WithoutTableTrash(t Table) *Builder {
	if column := trashColumn(t); column != "" {
		b.IsNull(t.TableName() + "." + column)
	}
	return b
}

// OnlyTrashed 只保留 t 中已被软删除的行
func (b *Builder) OnlyTrashed(t Table) *Builder {
	if column := trashColumn(t); column != "" {
		b.IsNotNull(t.TableName() + "." + column)
	}
	return b
}

func trashColumn(t Table) string {
	if sd, ok := t.(SoftDeletable); ok {
		return sd.SoftDeleteColumn()
	}
	return "deleted_at"
}
