package relation

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/model"
	"github.com/hatlonely/rdbx/rdb/query"
)

// Mode 目标表的软删除过滤方式
type Mode int

const (
	// WithoutTrashed 排除已软删除的行
	WithoutTrashed Mode = iota
	// WithTrashed 包含已软删除的行
	WithTrashed
	// OnlyTrashed 只保留已软删除的行
	OnlyTrashed
)

func (m Mode) String() string {
	switch m {
	case WithTrashed:
		return "with_trashed"
	case OnlyTrashed:
		return "only_trashed"
	}
	return "without_trashed"
}

// ParentColumn 批量查询结果中承载父键的列别名
const ParentColumn = "__parent"

// pivotAlias 中间表或 belongs_to 子表在连接中的别名，避免与目标表同名时冲突
const pivotAlias = "__pivot"

// table 让模型定义满足 query.Table 与 query.SoftDeletable
type table struct {
	*model.Schema
}

func (t table) TableName() string        { return t.Table }
func (t table) TableColumns() []string   { return t.SelectColumns() }
func (t table) SoftDeleteColumn() string { return t.SoftDelete }

// Loader 一个关联的批量加载器
type Loader struct {
	Relation *model.Relation
	Mode     Mode
	// Scope 附加在批量查询上的条件，可以为 nil
	Scope func(*query.Builder)
}

// New 按名称取出模型上的关联并解析目标
func New(s *model.Schema, name string, mode Mode) (*Loader, error) {
	r, ok := s.Relation(name)
	if !ok {
		return nil, errors.WithMessagef(model.ErrDefinition, "model %s has no relation %s", s.Name, name)
	}
	if _, err := r.Resolve(); err != nil {
		return nil, err
	}
	return &Loader{Relation: r, Mode: mode}, nil
}

// ParentKey 父行上用于匹配的列：belongs_to 为本表的外键，其余为本表的 local_key
func ParentKey(r *model.Relation) string {
	if r.Kind == model.BelongsTo {
		return r.ForeignKey
	}
	return r.LocalKey
}

// Build 以父键集合构造批量查询，结果中目标表的列不带前缀，父键以 ParentColumn 选出
func (l *Loader) Build(keys []field.FieldValue) (*query.Builder, error) {
	r := l.Relation
	target, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	t := table{target}
	b := query.New(target.Table)
	for _, c := range target.SelectColumns() {
		b.SelectAs(target.Table+"."+c, c)
	}

	switch r.Kind {
	case model.HasOne, model.HasMany:
		b.SelectAs(target.Table+"."+r.ForeignKey, ParentColumn).
			IsIn(target.Table+"."+r.ForeignKey, keys)
	case model.BelongsTo:
		b.SelectAs(pivotAlias+"."+r.ForeignKey, ParentColumn).
			JoinAs(query.InnerJoin, r.ParentTable(), pivotAlias, pivotAlias+"."+r.ForeignKey, "=", target.Table+"."+r.OwnerKey).
			IsIn(pivotAlias+"."+r.ForeignKey, keys)
	case model.HasOneThrough, model.HasManyThrough:
		b = query.New(r.Pivot)
		for _, c := range target.SelectColumns() {
			b.SelectAs(target.Table+"."+c, c)
		}
		b.SelectAs(r.Pivot+"."+r.PivotParentKey, ParentColumn).
			LeftJoin(target.Table, target.Table+"."+r.OwnerKey, "=", r.Pivot+"."+r.PivotChildKey).
			IsIn(r.Pivot+"."+r.PivotParentKey, keys).
			IsNotNull(target.Table + "." + r.OwnerKey)
	case model.BelongsToMany:
		b.SelectAs(pivotAlias+"."+r.PivotParentKey, ParentColumn).
			JoinAs(query.InnerJoin, r.Pivot, pivotAlias, pivotAlias+"."+r.PivotChildKey, "=", target.Table+"."+r.OwnerKey).
			IsIn(pivotAlias+"."+r.PivotParentKey, keys)
	case model.MorphOne, model.MorphMany:
		b.SelectAs(target.Table+"."+r.MorphIDColumn(), ParentColumn).
			Eq(target.Table+"."+r.MorphTypeColumn(), r.MorphType).
			IsIn(target.Table+"."+r.MorphIDColumn(), keys)
	default:
		return nil, errors.WithMessagef(model.ErrDefinition, "relation %s: unknown kind %s", r.Name, r.Kind)
	}

	if target.SoftDelete != "" {
		switch l.Mode {
		case WithoutTrashed:
			b.WithoutTableTrash(t)
		case OnlyTrashed:
			b.OnlyTrashed(t)
		}
	}
	if len(target.PrimaryKey) > 0 {
		b.Asc(target.Table + "." + target.PrimaryKey[0])
	}
	if l.Scope != nil {
		l.Scope(b)
	}
	return b, nil
}

// Result 批量加载的结果，按父行的 __hash 分组
type Result struct {
	Relation *model.Relation
	byHash   map[uint64][]field.ColumnAndValue
}

// Of 父行对应的子行，保持查询返回的顺序
func (r *Result) Of(hash uint64) []field.ColumnAndValue {
	return r.byHash[hash]
}

// Load 收集父行上的键，执行一次批量查询，把子行映射到父行的 __hash 上。
// pk 为父表主键，用于计算 __hash
func (l *Loader) Load(ctx context.Context, m *rdb.Manager, parents []field.ColumnAndValue, pk ...string) (*Result, error) {
	res := &Result{Relation: l.Relation, byHash: map[uint64][]field.ColumnAndValue{}}
	column := ParentKey(l.Relation)

	hashes := map[string][]uint64{}
	var keys []field.FieldValue
	for _, p := range parents {
		v := p.Get(column)
		if v.IsNullish() {
			continue
		}
		k := v.Key()
		if _, ok := hashes[k]; !ok {
			keys = append(keys, v)
		}
		hashes[k] = append(hashes[k], field.RowHash(p, pk...))
	}
	if len(keys) == 0 {
		return res, nil
	}

	b, err := l.Build(keys)
	if err != nil {
		return nil, err
	}
	rows, err := m.Select(b).All(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "load relation %s", l.Relation.Name)
	}

	many := l.Relation.Kind.Many()
	for _, row := range rows {
		for _, h := range hashes[row.Get(ParentColumn).Key()] {
			if !many && len(res.byHash[h]) > 0 {
				continue
			}
			res.byHash[h] = append(res.byHash[h], row)
		}
	}
	return res, nil
}

// Assign 把子行解码后写入 parent 上的关联字段：一对多为切片，一对一为值或指针
func Assign(parent reflect.Value, r *model.Relation, rows []field.ColumnAndValue) error {
	target, err := r.Resolve()
	if err != nil {
		return err
	}
	dst := parent.FieldByIndex(r.Index)

	if r.Kind.Many() {
		out := reflect.MakeSlice(dst.Type(), 0, len(rows))
		for _, row := range rows {
			v, err := target.NewValue(row)
			if err != nil {
				return err
			}
			out = reflect.Append(out, v)
		}
		dst.Set(out)
		return nil
	}

	if len(rows) == 0 {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	v, err := target.NewValue(rows[0])
	if err != nil {
		return err
	}
	if r.Pointer {
		ptr := reflect.New(target.Type)
		ptr.Elem().Set(v)
		dst.Set(ptr)
		return nil
	}
	dst.Set(v)
	return nil
}
