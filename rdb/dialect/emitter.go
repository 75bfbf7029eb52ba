package dialect

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// flavor 方言之间存在差异的部分
type flavor interface {
	name() string
	driver() string
	quoteChar() byte
	placeholder(n int) string
	insertInto(ignore bool) string
	ignoreSuffix() string
	returning() bool
	upsert(w *writer, columns []string, conflict []string, update []string) error
	limitOffset(limit *int64, offset *int64) string
	random() string
	boolLiteral(b bool) string
	binaryLiteral(b []byte) string
	escape(s string) string
	createView() string
	hasTable() string

	columnType(c *schema.ColumnBlueprint) string
	autoIncrement(c *schema.ColumnBlueprint) string
	defaultValue(c *schema.ColumnBlueprint) (string, bool)
	createIndex(table string, idx *schema.IndexBlueprint) string
	dropIndex(table string, name string) string
	alterTable(bp *schema.TableBlueprint) ([]string, error)
}

// emitter 各方言共享的渲染逻辑
type emitter struct {
	f flavor
}

func (e *emitter) Name() string {
	return e.f.name()
}

func (e *emitter) Driver() string {
	return e.f.driver()
}

func (e *emitter) Quote(ident string) string {
	return quoteIdent(e.f, ident)
}

func quotePart(f flavor, part string) string {
	if part == "*" {
		return part
	}
	q := string(f.quoteChar())
	return q + strings.ReplaceAll(part, q, q+q) + q
}

// quoteIdent 引用标识符；包含括号或空格的视为表达式，原样输出
func quoteIdent(f flavor, ident string) string {
	if ident == "*" || ident == "" {
		return ident
	}
	if strings.ContainsAny(ident, "() '\"`") {
		return ident
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = quotePart(f, p)
	}
	return strings.Join(parts, ".")
}

func (e *emitter) Literal(v field.FieldValue) string {
	return literal(e.f, v)
}

func literal(f flavor, v field.FieldValue) string {
	switch v.Kind() {
	case field.KindNotSet, field.KindNull:
		return "NULL"
	case field.KindU64:
		return strconv.FormatUint(v.AsUint64(), 10)
	case field.KindU32, field.KindI64, field.KindI32, field.KindI16, field.KindI8:
		return strconv.FormatInt(v.AsInt64(), 10)
	case field.KindF64:
		return strconv.FormatFloat(v.AsFloat64(), 'g', -1, 64)
	case field.KindBoolean:
		return f.boolLiteral(v.AsBool())
	case field.KindBinary:
		return f.binaryLiteral(v.AsBytes())
	case field.KindDateTime, field.KindTimestamp:
		return "'" + v.AsTime().Format(field.DateTimeLayout+".999999") + "'"
	}
	raw, err := v.Value()
	if err != nil {
		return "NULL"
	}
	s, _ := raw.(string)
	return "'" + f.escape(s) + "'"
}

func (e *emitter) HasTable(table string) Statement {
	w := newWriter(e.f, false)
	w.write(e.f.hasTable())
	w.bind(field.String(table))
	return w.statement()
}

// Build 渲染 DML 与简单 DDL
func (e *emitter) Build(b *query.Builder) (Statement, error) {
	if b == nil {
		return Statement{}, errors.New("builder cannot be nil")
	}
	w := newWriter(e.f, false)
	if err := w.build(b); err != nil {
		return Statement{}, errors.WithMessagef(err, "%s %s on [%s]", e.f.name(), b.Action(), b.TableName())
	}
	return w.statement(), nil
}

// writer 累积 SQL 文本和参数
type writer struct {
	f         flavor
	sb        strings.Builder
	args      []field.FieldValue
	inline    bool
	returning bool
}

func newWriter(f flavor, inline bool) *writer {
	return &writer{f: f, inline: inline}
}

func (w *writer) write(s ...string) {
	for _, v := range s {
		w.sb.WriteString(v)
	}
}

func (w *writer) ident(s string) {
	w.sb.WriteString(quoteIdent(w.f, s))
}

func (w *writer) part(s string) {
	w.sb.WriteString(quotePart(w.f, s))
}

// bind 写入占位符并记录参数；inline 模式下直接写入字面量
func (w *writer) bind(v field.FieldValue) {
	if w.inline {
		w.sb.WriteString(literal(w.f, v))
		return
	}
	if v.IsNotSet() {
		v = field.Null()
	}
	w.args = append(w.args, v)
	w.sb.WriteString(w.f.placeholder(len(w.args)))
}

func (w *writer) statement() Statement {
	return Statement{SQL: w.sb.String(), Args: w.args, Returning: w.returning}
}

func (w *writer) identList(columns []string) {
	for i, c := range columns {
		if i > 0 {
			w.write(", ")
		}
		w.ident(c)
	}
}

func (w *writer) build(b *query.Builder) error {
	ir := b.IR()
	switch ir.Action {
	case query.ActionSelect:
		return w.selectStatement(ir)
	case query.ActionInsert:
		return w.insert(ir)
	case query.ActionUpsert:
		return w.upsert(ir)
	case query.ActionUpdate:
		return w.update(ir)
	case query.ActionDelete:
		w.write("DELETE FROM ")
		w.ident(ir.Table)
		return w.where(" WHERE ", ir.Where)
	case query.ActionDropTable:
		w.write("DROP TABLE IF EXISTS ")
		w.ident(ir.Table)
		return nil
	case query.ActionRenameTable:
		w.write("ALTER TABLE ")
		w.ident(ir.Table)
		w.write(" RENAME TO ")
		w.ident(ir.Target)
		return nil
	case query.ActionDropColumn:
		w.write("ALTER TABLE ")
		w.ident(ir.Table)
		w.write(" DROP COLUMN ")
		w.part(ir.Column)
		return nil
	case query.ActionRenameColumn:
		w.write("ALTER TABLE ")
		w.ident(ir.Table)
		w.write(" RENAME COLUMN ")
		w.part(ir.Column)
		w.write(" TO ")
		w.part(ir.Target)
		return nil
	case query.ActionCreateView:
		if ir.View == nil || ir.View.Action() != query.ActionSelect {
			return errors.WithMessage(ErrUnsupported, "view requires a select query")
		}
		w.write(w.f.createView(), " ")
		w.ident(ir.Table)
		w.write(" AS ")
		inner := newWriter(w.f, true)
		if err := inner.selectStatement(ir.View.IR()); err != nil {
			return err
		}
		w.write(inner.sb.String())
		return nil
	case query.ActionRaw:
		return w.raw(ir.RawSQL, ir.RawParams)
	}
	return errors.WithMessagef(ErrUnsupported, "action %s", ir.Action)
}

func (w *writer) selectStatement(ir *query.IR) error {
	w.write("SELECT ")
	if ir.Distinct {
		w.write("DISTINCT ")
	}
	w.selections(ir)
	w.write(" FROM ")
	w.ident(ir.Table)
	for _, j := range ir.Joins {
		w.write(" ", string(j.Kind), " ")
		w.ident(j.Table)
		if j.Alias != "" {
			w.write(" AS ")
			w.part(j.Alias)
		}
		if j.Kind != query.CrossJoin {
			w.write(" ON ")
			w.ident(j.Left)
			w.write(" ", j.Op, " ")
			w.ident(j.Right)
		}
	}
	if err := w.where(" WHERE ", ir.Where); err != nil {
		return err
	}
	if len(ir.GroupBy) > 0 {
		w.write(" GROUP BY ")
		w.identList(ir.GroupBy)
	}
	if err := w.where(" HAVING ", ir.Having); err != nil {
		return err
	}
	if len(ir.OrderBy) > 0 {
		w.write(" ORDER BY ")
		for i, o := range ir.OrderBy {
			if i > 0 {
				w.write(", ")
			}
			if o.Direction == query.Random {
				w.write(w.f.random())
				continue
			}
			w.ident(o.Column)
			w.write(" ", string(o.Direction))
		}
	}
	w.write(w.f.limitOffset(ir.Limit, ir.Offset))
	return nil
}

func (w *writer) selections(ir *query.IR) {
	n := 0
	sep := func() {
		if n > 0 {
			w.write(", ")
		}
		n++
	}
	for _, s := range ir.Selections {
		sep()
		if s.Aggregate != "" {
			w.write(string(s.Aggregate), "(")
			if s.Distinct {
				w.write("DISTINCT ")
			}
			w.ident(s.Column)
			w.write(")")
		} else {
			w.ident(s.Column)
		}
		if s.Alias != "" {
			w.write(" AS ")
			w.part(s.Alias)
		}
	}
	hasJoinSelect := false
	for _, j := range ir.Joins {
		if len(j.Select) > 0 {
			hasJoinSelect = true
		}
	}
	if n == 0 {
		sep()
		if hasJoinSelect {
			w.ident(ir.Table + ".*")
		} else {
			w.write("*")
		}
	}
	for _, j := range ir.Joins {
		prefix := j.Prefix()
		for _, c := range j.Select {
			sep()
			w.ident(prefix + "." + c)
			w.write(" AS ")
			w.part(prefix + "." + c)
		}
	}
}

// unset 判断原子谓词的参数是否为 NotSet，这样的谓词恒为真
func unset(c query.Condition) bool {
	switch c.Op {
	case query.OpIsNull, query.OpIsNotNull, query.OpRaw, query.OpIn, query.OpNotIn:
		return false
	case query.OpInQuery, query.OpNotInQuery:
		return c.Sub == nil
	case query.OpBetween, query.OpNotBetween:
		return len(c.Values) != 2 || c.Values[0].IsNotSet() || c.Values[1].IsNotSet()
	case query.OpGroup:
		return always(c.Group)
	}
	return c.Value.IsNotSet()
}

// terms 按 OR 把条件切成若干个 AND 项，与 SQL 中 AND 优先于 OR 一致
func terms(conds []query.Condition) [][]query.Condition {
	var out [][]query.Condition
	for i, c := range conds {
		if i == 0 || c.Connector == query.Or {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], c)
	}
	return out
}

// always 条件整体恒为真：没有条件，或者某个 AND 项中的谓词全部恒为真
func always(conds []query.Condition) bool {
	if len(conds) == 0 {
		return true
	}
	for _, term := range terms(conds) {
		all := true
		for _, c := range term {
			if !unset(c) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// where 恒为真的条件不输出；其余情况下 AND 项中恒为真的谓词被省略
func (w *writer) where(keyword string, conds []query.Condition) error {
	if always(conds) {
		return nil
	}
	w.write(keyword)
	return w.conditions(conds)
}

// conditions 调用方保证 always(conds) 为 false，因此每个 AND 项至少输出一个谓词
func (w *writer) conditions(conds []query.Condition) error {
	for i, term := range terms(conds) {
		if i > 0 {
			w.write(" OR ")
		}
		first := true
		for _, c := range term {
			if unset(c) {
				continue
			}
			if !first {
				w.write(" AND ")
			}
			if err := w.condition(c); err != nil {
				return err
			}
			first = false
		}
	}
	return nil
}

func (w *writer) condition(c query.Condition) error {
	switch c.Op {
	case query.OpGroup:
		w.write("(")
		if err := w.conditions(c.Group); err != nil {
			return err
		}
		w.write(")")
	case query.OpIsNull, query.OpIsNotNull:
		w.ident(c.Column)
		w.write(" ", string(c.Op))
	case query.OpIn, query.OpNotIn:
		values := make([]field.FieldValue, 0, len(c.Values))
		for _, v := range c.Values {
			if !v.IsNotSet() {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			if c.Op == query.OpIn {
				w.write("1 = 0")
			} else {
				w.write("1 = 1")
			}
			return nil
		}
		w.ident(c.Column)
		w.write(" ", string(c.Op), " (")
		for i, v := range values {
			if i > 0 {
				w.write(", ")
			}
			w.bind(v)
		}
		w.write(")")
	case query.OpBetween, query.OpNotBetween:
		w.ident(c.Column)
		w.write(" ", string(c.Op), " ")
		w.bind(c.Values[0])
		w.write(" AND ")
		w.bind(c.Values[1])
	case query.OpInQuery, query.OpNotInQuery:
		w.ident(c.Column)
		if c.Op == query.OpInQuery {
			w.write(" IN (")
		} else {
			w.write(" NOT IN (")
		}
		if err := w.selectStatement(c.Sub.IR()); err != nil {
			return err
		}
		w.write(")")
	case query.OpRaw:
		w.write("(")
		if err := w.raw(c.RawSQL, c.Values); err != nil {
			return err
		}
		w.write(")")
	default:
		w.ident(c.Column)
		if c.Value.IsNull() {
			if c.Op == query.OpEq {
				w.write(" IS NULL")
			} else {
				w.write(" ", string(c.Op), " NULL")
			}
			return nil
		}
		w.write(" ", string(c.Op), " ")
		w.bind(c.Value)
	}
	return nil
}

// raw 把 ? 依次替换为方言的占位符
func (w *writer) raw(sql string, params []field.FieldValue) error {
	if n := strings.Count(sql, "?"); n != len(params) {
		return errors.Errorf("raw sql expects %d params, got %d", n, len(params))
	}
	i := 0
	for {
		idx := strings.IndexByte(sql, '?')
		if idx < 0 {
			w.write(sql)
			return nil
		}
		w.write(sql[:idx])
		w.bind(params[i])
		i++
		sql = sql[idx+1:]
	}
}

func (w *writer) values(ir *query.IR, columns []string) {
	w.write(" (")
	w.identList(columns)
	w.write(") VALUES ")
	for i, row := range ir.Rows {
		if i > 0 {
			w.write(", ")
		}
		w.write("(")
		for j, c := range columns {
			if j > 0 {
				w.write(", ")
			}
			w.bind(row.Get(c))
		}
		w.write(")")
	}
}

func (w *writer) insert(ir *query.IR) error {
	columns := ir.Columns()
	if len(columns) == 0 {
		return errors.New("no column to insert")
	}
	w.write(w.f.insertInto(ir.IgnoreConflict), " ")
	w.ident(ir.Table)
	w.values(ir, columns)
	if ir.IgnoreConflict {
		w.write(w.f.ignoreSuffix())
	}
	if ir.Returning != "" && w.f.returning() {
		w.write(" RETURNING ")
		w.ident(ir.Returning)
		w.returning = true
	}
	return nil
}

func (w *writer) upsert(ir *query.IR) error {
	columns := ir.Columns()
	if len(columns) == 0 {
		return errors.New("no column to upsert")
	}
	w.write(w.f.insertInto(false), " ")
	w.ident(ir.Table)
	w.values(ir, columns)
	update := ir.UpdateColumns
	if len(update) == 0 {
		update = without(columns, ir.ConflictColumns)
	}
	return w.f.upsert(w, columns, ir.ConflictColumns, update)
}

// without columns 中不属于 excluded 的列，保持原顺序
func without(columns []string, excluded []string) []string {
	var out []string
	for _, c := range columns {
		found := false
		for _, e := range excluded {
			if c == e {
				found = true
				break
			}
		}
		if !found {
			out = append(out, c)
		}
	}
	return out
}

func (w *writer) update(ir *query.IR) error {
	set := ir.Set.WithoutNotSet()
	if len(set) == 0 {
		return errors.New("no column to update")
	}
	w.write("UPDATE ")
	w.ident(ir.Table)
	w.write(" SET ")
	for i, c := range set.Keys() {
		if i > 0 {
			w.write(", ")
		}
		w.part(c)
		w.write(" = ")
		w.bind(set[c])
	}
	return w.where(" WHERE ", ir.Where)
}

// 共用的 DDL 片段

func (e *emitter) CreateTable(bp *schema.TableBlueprint) ([]Statement, error) {
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	if !bp.IsNew {
		return e.AlterTable(bp)
	}
	primary := bp.PrimaryColumns()
	inlinePrimary := len(primary) == 1 && !hasPrimaryIndex(bp)
	var defs []string
	for _, c := range bp.Columns {
		defs = append(defs, columnDefinition(e.f, c, inlinePrimary && c.IsPrimary))
	}
	if len(primary) > 1 || (len(primary) == 1 && !inlinePrimary) {
		defs = append(defs, "PRIMARY KEY ("+quoteList(e.f, primary)+")")
	}
	for _, c := range bp.Columns {
		if c.IsUnique {
			defs = append(defs, "UNIQUE ("+quotePart(e.f, c.Name)+")")
		}
	}
	for _, c := range bp.Columns {
		if c.ForeignKey != nil {
			defs = append(defs, foreignKeyClause(e.f, c))
		}
	}
	for _, c := range bp.Columns {
		if check := checkExpr(e.f, c); check != "" {
			defs = append(defs, "CONSTRAINT "+quotePart(e.f, bp.Name+"_"+c.Name+"_check")+" CHECK ("+check+")")
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(quoteIdent(e.f, bp.Name))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString(")")

	stmts := []Statement{{SQL: sb.String()}}
	for _, idx := range bp.Indexes {
		if idx.Drop || idx.Kind == schema.IndexPrimary {
			continue
		}
		stmts = append(stmts, Statement{SQL: e.f.createIndex(bp.Name, idx)})
	}
	return stmts, nil
}

func (e *emitter) AlterTable(bp *schema.TableBlueprint) ([]Statement, error) {
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	sqls, err := e.f.alterTable(bp)
	if err != nil {
		return nil, errors.WithMessagef(err, "alter table %s", bp.Name)
	}
	for _, idx := range bp.Indexes {
		if idx.Drop {
			sqls = append(sqls, e.f.dropIndex(bp.Name, idx.Name))
		} else if idx.Kind != schema.IndexPrimary {
			sqls = append(sqls, e.f.createIndex(bp.Name, idx))
		}
	}
	stmts := make([]Statement, 0, len(sqls))
	for _, s := range sqls {
		stmts = append(stmts, Statement{SQL: s})
	}
	return stmts, nil
}

func hasPrimaryIndex(bp *schema.TableBlueprint) bool {
	for _, idx := range bp.Indexes {
		if idx.Kind == schema.IndexPrimary && !idx.Drop {
			return true
		}
	}
	return false
}

func quoteList(f flavor, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = quotePart(f, c)
	}
	return strings.Join(parts, ", ")
}

// columnDefinition 单列定义，不含表级约束；primary 为 true 时内联主键
func columnDefinition(f flavor, c *schema.ColumnBlueprint, primary bool) string {
	if c.Type == schema.AutoIncrementID {
		return quotePart(f, c.Name) + " " + f.autoIncrement(c)
	}
	var sb strings.Builder
	sb.WriteString(quotePart(f, c.Name))
	sb.WriteString(" ")
	sb.WriteString(f.columnType(c))
	if primary {
		sb.WriteString(" PRIMARY KEY")
	}
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if def, ok := f.defaultValue(c); ok {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(def)
	}
	return sb.String()
}

func foreignKeyClause(f flavor, c *schema.ColumnBlueprint) string {
	s := "FOREIGN KEY (" + quotePart(f, c.Name) + ") REFERENCES " + quoteIdent(f, c.ForeignKey.Table) + " (" + quotePart(f, c.ForeignKey.Column) + ")"
	if c.ForeignKey.OnDelete != schema.NoAction {
		s += " ON DELETE " + string(c.ForeignKey.OnDelete)
	}
	return s
}

// checkExpr 列上的 CHECK 约束，包括非 MySQL 方言下的枚举约束
func checkExpr(f flavor, c *schema.ColumnBlueprint) string {
	var checks []string
	if c.Type == schema.Enum && f.name() != MySQL {
		options := make([]string, len(c.Options))
		for i, o := range c.Options {
			options[i] = "'" + f.escape(o) + "'"
		}
		checks = append(checks, quotePart(f, c.Name)+" IN ("+strings.Join(options, ", ")+")")
	}
	if c.CheckExpr != "" {
		checks = append(checks, c.CheckExpr)
	}
	return strings.Join(checks, " AND ")
}

// commonDefault 三种方言写法一致的默认值
func commonDefault(f flavor, c *schema.ColumnBlueprint) (string, bool) {
	d := c.DefaultValue
	if d == nil {
		return "", false
	}
	switch d.Kind {
	case schema.DefaultCustom:
		if c.Type == schema.Integer || c.Type == schema.Float || c.Type == schema.Number {
			if _, err := strconv.ParseFloat(d.Value, 64); err == nil {
				return d.Value, true
			}
		}
		return "'" + f.escape(d.Value) + "'", true
	case schema.DefaultExpression:
		return "(" + d.Value + ")", true
	case schema.DefaultEmptyString:
		return "''", true
	case schema.DefaultZero:
		return "0", true
	case schema.DefaultEmptyObject:
		return "'{}'", true
	case schema.DefaultEmptyArray:
		return "'[]'", true
	case schema.DefaultCreatedAt, schema.DefaultUpdatedAt:
		return "CURRENT_TIMESTAMP", true
	case schema.DefaultNull:
		return "NULL", true
	case schema.DefaultTrue:
		return f.boolLiteral(true), true
	case schema.DefaultFalse:
		return f.boolLiteral(false), true
	}
	return "", false
}

func binaryHex(b []byte) string {
	return hex.EncodeToString(b)
}

func sizeOr(n int, def int) string {
	if n <= 0 {
		n = def
	}
	return strconv.Itoa(n)
}
