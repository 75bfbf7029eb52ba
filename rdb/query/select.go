package query

import (
	"strings"

	"github.com/hatlonely/rdbx/rdb/field"
)

// Aggregate 聚合函数
type Aggregate string

const (
	AggCount Aggregate = "COUNT"
	AggSum   Aggregate = "SUM"
	AggAvg   Aggregate = "AVG"
	AggMin   Aggregate = "MIN"
	AggMax   Aggregate = "MAX"
)

// Selection 选择列表中的一项
type Selection struct {
	Column    string
	Alias     string
	Aggregate Aggregate
	Distinct  bool
}

// JoinKind 连接类型
type JoinKind string

const (
	LeftJoin  JoinKind = "LEFT JOIN"
	InnerJoin JoinKind = "INNER JOIN"
	RightJoin JoinKind = "RIGHT JOIN"
	CrossJoin JoinKind = "CROSS JOIN"
)

// Join 连接子句，Select 中的列以 "<Alias 或 Table>.<列>" 作为别名一并选出
type Join struct {
	Kind   JoinKind
	Table  string
	Alias  string
	Left   string
	Op     string
	Right  string
	Select []string
}

// Prefix 连接表在结果中的前缀
func (j Join) Prefix() string {
	if j.Alias != "" {
		return j.Alias
	}
	return j.Table
}

// Direction 排序方向
type Direction string

const (
	Asc    Direction = "ASC"
	Desc   Direction = "DESC"
	Random Direction = "RANDOM"
)

type Order struct {
	Column    string
	Direction Direction
}

// Select 追加选择列，支持 "col as alias" 的写法
func (b *Builder) Select(columns ...string) *Builder {
	for _, c := range columns {
		column, alias := splitAlias(c)
		b.ir.Selections = append(b.ir.Selections, Selection{Column: column, Alias: alias})
	}
	return b
}

func (b *Builder) SelectAs(column string, alias string) *Builder {
	b.ir.Selections = append(b.ir.Selections, Selection{Column: column, Alias: alias})
	return b
}

func (b *Builder) SelectMultiple(columns []string) *Builder {
	return b.Select(columns...)
}

// SelectAll 等价于 SELECT *
func (b *Builder) SelectAll() *Builder {
	b.ir.Selections = append(b.ir.Selections, Selection{Column: "*"})
	return b
}

// SelectTable 选出 t 的全部列，别名为 "<表>.<列>"，便于连接查询后按表拆分结果
func (b *Builder) SelectTable(t Table) *Builder {
	return b.SelectTableAs(t, t.TableName())
}

// SelectTableAs 与 SelectTable 相同，但使用 prefix 作为别名前缀
func (b *Builder) SelectTableAs(t Table, prefix string) *Builder {
	for _, c := range t.TableColumns() {
		b.ir.Selections = append(b.ir.Selections, Selection{
			Column: t.TableName() + "." + c,
			Alias:  prefix + "." + c,
		})
	}
	return b
}

// SelectPrefixed 以 "<table>.<列>" 为别名选出 table 中的指定列
func (b *Builder) SelectPrefixed(table string, columns ...string) *Builder {
	for _, c := range columns {
		b.ir.Selections = append(b.ir.Selections, Selection{Column: table + "." + c, Alias: table + "." + c})
	}
	return b
}

func (b *Builder) Distinct() *Builder {
	b.ir.Distinct = true
	return b
}

// SelectDistinct 选择列并去重
func (b *Builder) SelectDistinct(columns ...string) *Builder {
	b.ir.Distinct = true
	return b.Select(columns...)
}

func (b *Builder) aggregate(agg Aggregate, column string, alias string) *Builder {
	if alias == "" {
		alias = strings.ToLower(string(agg)) + "_" + strings.NewReplacer(".", "_", "*", "all").Replace(column)
	}
	b.ir.Selections = append(b.ir.Selections, Selection{Column: column, Alias: alias, Aggregate: agg})
	return b
}

// Count 别名默认为 count_<列>，COUNT(*) 的别名为 count_all
func (b *Builder) Count(column string) *Builder {
	return b.aggregate(AggCount, column, "")
}

func (b *Builder) CountAs(column string, alias string) *Builder {
	return b.aggregate(AggCount, column, alias)
}

func (b *Builder) CountDistinct(column string, alias string) *Builder {
	b.aggregate(AggCount, column, alias)
	b.ir.Selections[len(b.ir.Selections)-1].Distinct = true
	return b
}

func (b *Builder) Sum(column string) *Builder                 { return b.aggregate(AggSum, column, "") }
func (b *Builder) SumAs(column string, alias string) *Builder { return b.aggregate(AggSum, column, alias) }
func (b *Builder) Avg(column string) *Builder                 { return b.aggregate(AggAvg, column, "") }
func (b *Builder) AvgAs(column string, alias string) *Builder { return b.aggregate(AggAvg, column, alias) }
func (b *Builder) Min(column string) *Builder                 { return b.aggregate(AggMin, column, "") }
func (b *Builder) MinAs(column string, alias string) *Builder { return b.aggregate(AggMin, column, alias) }
func (b *Builder) Max(column string) *Builder                 { return b.aggregate(AggMax, column, "") }
func (b *Builder) MaxAs(column string, alias string) *Builder { return b.aggregate(AggMax, column, alias) }

func splitAlias(s string) (string, string) {
	lower := strings.ToLower(s)
	if idx := strings.LastIndex(lower, " as "); idx > 0 {
		return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+4:])
	}
	return strings.TrimSpace(s), ""
}

func (b *Builder) join(kind JoinKind, table string, alias string, left string, op string, right string, columns []string) *Builder {
	b.ir.Joins = append(b.ir.Joins, Join{
		Kind:   kind,
		Table:  table,
		Alias:  alias,
		Left:   left,
		Op:     op,
		Right:  right,
		Select: columns,
	})
	return b
}

// LeftJoin LEFT JOIN table ON left op right
func (b *Builder) LeftJoin(table string, left string, op string, right string) *Builder {
	return b.join(LeftJoin, table, "", left, op, right, nil)
}

func (b *Builder) InnerJoin(table string, left string, op string, right string) *Builder {
	return b.join(InnerJoin, table, "", left, op, right, nil)
}

func (b *Builder) RightJoin(table string, left string, op string, right string) *Builder {
	return b.join(RightJoin, table, "", left, op, right, nil)
}

func (b *Builder) CrossJoin(table string) *Builder {
	return b.join(CrossJoin, table, "", "", "", "", nil)
}

// JoinAs 带别名的连接，ON 条件中应使用别名引用连接表
func (b *Builder) JoinAs(kind JoinKind, table string, alias string, left string, op string, right string) *Builder {
	return b.join(kind, table, alias, left, op, right, nil)
}

// LeftJoinAndSelect 连接并以 "<table>.<列>" 为别名选出 columns
func (b *Builder) LeftJoinAndSelect(table string, left string, op string, right string, columns ...string) *Builder {
	return b.join(LeftJoin, table, "", left, op, right, columns)
}

func (b *Builder) InnerJoinAndSelect(table string, left string, op string, right string, columns ...string) *Builder {
	return b.join(InnerJoin, table, "", left, op, right, columns)
}

func (b *Builder) RightJoinAndSelect(table string, left string, op string, right string, columns ...string) *Builder {
	return b.join(RightJoin, table, "", left, op, right, columns)
}

// LeftJoinTable LEFT JOIN foreign ON <本表>.localColumn = foreign.foreignColumn，并选出 foreign 的全部列
func (b *Builder) LeftJoinTable(foreign Table, localColumn string, foreignColumn string) *Builder {
	return b.joinTable(LeftJoin, foreign, localColumn, foreignColumn)
}

func (b *Builder) InnerJoinTable(foreign Table, localColumn string, foreignColumn string) *Builder {
	return b.joinTable(InnerJoin, foreign, localColumn, foreignColumn)
}

func (b *Builder) joinTable(kind JoinKind, foreign Table, localColumn string, foreignColumn string) *Builder {
	name := foreign.TableName()
	return b.join(kind, name, "", qualify(b.ir.Table, localColumn), "=", qualify(name, foreignColumn), foreign.TableColumns())
}

func qualify(table string, column string) string {
	if strings.Contains(column, ".") || table == "" {
		return column
	}
	return table + "." + column
}

// OrderBy 排序，direction 为 Asc、Desc 或 Random
func (b *Builder) OrderBy(column string, direction Direction) *Builder {
	b.ir.OrderBy = append(b.ir.OrderBy, Order{Column: column, Direction: direction})
	return b
}

func (b *Builder) Asc(column string) *Builder {
	return b.OrderBy(column, Asc)
}

func (b *Builder) Desc(column string) *Builder {
	return b.OrderBy(column, Desc)
}

// RandomOrder 随机排序
func (b *Builder) RandomOrder() *Builder {
	return b.OrderBy("", Random)
}

func (b *Builder) GroupBy(columns ...string) *Builder {
	b.ir.GroupBy = append(b.ir.GroupBy, columns...)
	return b
}

// Having 分组后的过滤条件
func (b *Builder) Having(column string, op Operator, value any) *Builder {
	b.ir.Having = append(b.ir.Having, atom(And, column, op, value))
	return b
}

func (b *Builder) OrHaving(column string, op Operator, value any) *Builder {
	b.ir.Having = append(b.ir.Having, atom(Or, column, op, value))
	return b
}

func (b *Builder) HavingRaw(sql string, params ...any) *Builder {
	b.ir.Having = append(b.ir.Having, rawCondition(And, sql, params))
	return b
}

func (b *Builder) Limit(n int64) *Builder {
	b.ir.Limit = &n
	return b
}

func (b *Builder) Offset(n int64) *Builder {
	b.ir.Offset = &n
	return b
}

// Paginate 第 page 页（从 1 开始），每页 size 条
func (b *Builder) Paginate(page int64, size int64) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Limit(size).Offset((page - 1) * size)
}

// Values 用于 insert/update 之后追加或覆盖值
func (b *Builder) Values(row field.ColumnAndValue) *Builder {
	switch b.ir.Action {
	case ActionUpdate:
		if b.ir.Set == nil {
			b.ir.Set = field.ColumnAndValue{}
		}
		for k, v := range row {
			b.ir.Set[k] = v
		}
	case ActionInsert, ActionUpsert:
		b.ir.Rows = append(b.ir.Rows, row)
	}
	return b
}

// ForCount 复制条件与连接，去掉选择列、排序与分页，只统计行数
func (b *Builder) ForCount() *Builder {
	c := b.Clone()
	c.ir.Selections = nil
	c.ir.OrderBy = nil
	c.ir.Limit = nil
	c.ir.Offset = nil
	c.ir.Distinct = false
	for i := range c.ir.Joins {
		c.ir.Joins[i].Select = nil
	}
	return c.Count("*")
}
