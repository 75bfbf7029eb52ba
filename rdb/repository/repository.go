package repository

import (
	"context"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/model"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/relation"
	"github.com/hatlonely/rdbx/rdb/schema"
)

// Repository 模型 T 的仓储。With/Where/Limit 等链式方法返回新的副本，不修改原对象
type Repository[T any] interface {
	// Migrate 按模型定义建表，表已存在时不做任何事
	Migrate(ctx context.Context) error

	// With 预加载关联，排除已软删除的子记录
	With(names ...string) Repository[T]
	// WithTrashed 预加载关联，包含已软删除的子记录
	WithTrashed(names ...string) Repository[T]
	// WithTrashedOnly 预加载关联，只保留已软删除的子记录
	WithTrashedOnly(names ...string) Repository[T]
	// WithScope 预加载关联并在批量查询上附加条件
	WithScope(name string, fn func(*query.Builder)) Repository[T]

	Where(fn func(*query.Builder)) Repository[T]
	OrderBy(column string, direction query.Direction) Repository[T]
	Limit(n int64) Repository[T]
	Offset(n int64) Repository[T]
	// IncludeTrashed 查询结果包含已软删除的记录
	IncludeTrashed() Repository[T]
	// OnlyTrashed 只查询已软删除的记录
	OnlyTrashed() Repository[T]

	Get(ctx context.Context) ([]T, error)
	Find(ctx context.Context, key ...any) (*T, error)
	One(ctx context.Context) (*T, error)
	First(ctx context.Context) (*T, error)
	Latest(ctx context.Context) (*T, error)
	Oldest(ctx context.Context) (*T, error)
	Count(ctx context.Context) (int64, error)
	Exists(ctx context.Context) (bool, error)
	// Load 为已经查出的记录加载关联
	Load(ctx context.Context, v *T, names ...string) error

	Create(ctx context.Context, v *T) error
	BatchCreate(ctx context.Context, vs []*T) error
	Update(ctx context.Context, v *T) error
	Delete(ctx context.Context, v *T) error
	// DeleteWhere 按 Where 条件硬删除，返回影响的行数。没有 Where 条件时返回 ErrUnscoped
	DeleteWhere(ctx context.Context) (int64, error)
	SoftDelete(ctx context.Context, v *T) error
	Restore(ctx context.Context, v *T) error

	Descriptor() *model.Descriptor[T]
}

// ErrUnscoped 批量删除缺少条件
var ErrUnscoped = errors.New("delete requires a where scope")

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock 替换写入时间戳使用的时钟
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type repositoryImpl[T any] struct {
	m     *rdb.Manager
	model *model.Descriptor[T]
	now   func() time.Time

	eager   []*relation.Loader
	scopes  []func(*query.Builder)
	orders  []query.Order
	limit   *int64
	offset  *int64
	trashed relation.Mode

	// err 链式调用中出现的错误，在执行查询时返回
	err error
}

// NewRepository 登记模型 T 并创建仓储，关联定义有误时返回错误
func NewRepository[T any](m *rdb.Manager, opts ...Option) (Repository[T], error) {
	d, err := model.Register[T]()
	if err != nil {
		return nil, err
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return &repositoryImpl[T]{m: m, model: d, now: o.now}, nil
}

func MustNewRepository[T any](m *rdb.Manager, opts ...Option) Repository[T] {
	r, err := NewRepository[T](m, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *repositoryImpl[T]) Descriptor() *model.Descriptor[T] {
	return r.model
}

func (r *repositoryImpl[T]) clone() *repositoryImpl[T] {
	c := *r
	c.eager = append([]*relation.Loader(nil), r.eager...)
	c.scopes = append(([]func(*query.Builder))(nil), r.scopes...)
	c.orders = append([]query.Order(nil), r.orders...)
	return &c
}

func (r *repositoryImpl[T]) Migrate(ctx context.Context) error {
	return r.m.CreateTableSchema(ctx, r.model.Table, r.model.Blueprint)
}

// with 同名关联只保留最后一次声明
func (r *repositoryImpl[T]) with(mode relation.Mode, scope func(*query.Builder), names ...string) Repository[T] {
	c := r.clone()
	for _, name := range names {
		l, err := relation.New(r.model.Schema, name, mode)
		if err != nil {
			c.err = err
			return c
		}
		l.Scope = scope
		kept := c.eager[:0]
		for _, e := range c.eager {
			if e.Relation.Name != name {
				kept = append(kept, e)
			}
		}
		c.eager = append(kept, l)
	}
	return c
}

func (r *repositoryImpl[T]) With(names ...string) Repository[T] {
	return r.with(relation.WithoutTrashed, nil, names...)
}

func (r *repositoryImpl[T]) WithTrashed(names ...string) Repository[T] {
	return r.with(relation.WithTrashed, nil, names...)
}

func (r *repositoryImpl[T]) WithTrashedOnly(names ...string) Repository[T] {
	return r.with(relation.OnlyTrashed, nil, names...)
}

func (r *repositoryImpl[T]) WithScope(name string, fn func(*query.Builder)) Repository[T] {
	return r.with(relation.WithoutTrashed, fn, name)
}

func (r *repositoryImpl[T]) Where(fn func(*query.Builder)) Repository[T] {
	c := r.clone()
	c.scopes = append(c.scopes, fn)
	return c
}

func (r *repositoryImpl[T]) OrderBy(column string, direction query.Direction) Repository[T] {
	c := r.clone()
	c.orders = append(c.orders, query.Order{Column: column, Direction: direction})
	return c
}

func (r *repositoryImpl[T]) Limit(n int64) Repository[T] {
	c := r.clone()
	c.limit = &n
	return c
}

func (r *repositoryImpl[T]) Offset(n int64) Repository[T] {
	c := r.clone()
	c.offset = &n
	return c
}

func (r *repositoryImpl[T]) IncludeTrashed() Repository[T] {
	c := r.clone()
	c.trashed = relation.WithTrashed
	return c
}

func (r *repositoryImpl[T]) OnlyTrashed() Repository[T] {
	c := r.clone()
	c.trashed = relation.OnlyTrashed
	return c
}

func (r *repositoryImpl[T]) query() *query.Builder {
	d := r.model
	b := query.New(d.Table)
	for _, c := range d.TableColumns() {
		b.SelectAs(d.Table+"."+c, c)
	}
	if d.SoftDelete != "" {
		switch r.trashed {
		case relation.WithoutTrashed:
			b.WithoutTableTrash(d)
		case relation.OnlyTrashed:
			b.OnlyTrashed(d)
		}
	}
	for _, scope := range r.scopes {
		scope(b)
	}
	for _, o := range r.orders {
		b.OrderBy(o.Column, o.Direction)
	}
	if r.limit != nil {
		b.Limit(*r.limit)
	}
	if r.offset != nil {
		b.Offset(*r.offset)
	}
	return b
}

// Get 执行主查询后，对每个预加载的关联执行一次批量查询，按父行 __hash 挂载到对应的字段上
func (r *repositoryImpl[T]) Get(ctx context.Context) ([]T, error) {
	if r.err != nil {
		return nil, r.err
	}
	rows, err := r.m.Select(r.query()).All(ctx)
	if err != nil {
		return nil, err
	}
	return r.materialize(ctx, rows)
}

func (r *repositoryImpl[T]) materialize(ctx context.Context, rows []field.ColumnAndValue) ([]T, error) {
	out := make([]T, len(rows))
	for i, row := range rows {
		v, err := r.model.FromColumnValue(row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}

	pk := r.model.PrimaryKeys()
	for _, l := range r.eager {
		res, err := l.Load(ctx, r.m, rows, pk...)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			if err := relation.Assign(reflect.ValueOf(&out[i]).Elem(), l.Relation, res.Of(field.RowHash(row, pk...))); err != nil {
				return nil, errors.WithMessagef(err, "assign relation %s", l.Relation.Name)
			}
		}
	}
	return out, nil
}

func (r *repositoryImpl[T]) Find(ctx context.Context, key ...any) (*T, error) {
	pk := r.model.PrimaryKeys()
	if len(pk) == 0 {
		return nil, errors.WithMessagef(schema.ErrNoPrimaryKey, "model %s", r.model.Name)
	}
	if len(key) != len(pk) {
		return nil, errors.Errorf("model %s expects %d key values, got %d", r.model.Name, len(pk), len(key))
	}
	return r.Where(func(q *query.Builder) {
		for i, column := range pk {
			q.Eq(r.model.Table+"."+column, key[i])
		}
	}).One(ctx)
}

func (r *repositoryImpl[T]) One(ctx context.Context) (*T, error) {
	vs, err := r.Limit(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, errors.WithMessagef(rdb.ErrRecordNotFound, "table %s", r.model.Table)
	}
	return &vs[0], nil
}

// ordered 把 columns 上的排序放在已有排序之前
func (r *repositoryImpl[T]) ordered(direction query.Direction, columns ...string) *repositoryImpl[T] {
	orders := make([]query.Order, 0, len(columns)+len(r.orders))
	for _, column := range columns {
		orders = append(orders, query.Order{Column: r.model.Table + "." + column, Direction: direction})
	}
	c := r.clone()
	c.orders = append(orders, c.orders...)
	return c
}

// First 按主键升序的第一条
func (r *repositoryImpl[T]) First(ctx context.Context) (*T, error) {
	pk := r.model.PrimaryKey()
	if pk == "" {
		return nil, errors.WithMessagef(schema.ErrNoPrimaryKey, "model %s", r.model.Name)
	}
	return r.ordered(query.Asc, pk).One(ctx)
}

// Latest 按 created_at 降序的第一条，模型没有 created_at 时按主键
func (r *repositoryImpl[T]) Latest(ctx context.Context) (*T, error) {
	return r.byAge(ctx, query.Desc)
}

func (r *repositoryImpl[T]) Oldest(ctx context.Context) (*T, error) {
	return r.byAge(ctx, query.Asc)
}

// byAge created_at 相同时以主键决定先后
func (r *repositoryImpl[T]) byAge(ctx context.Context, direction query.Direction) (*T, error) {
	pk := r.model.PrimaryKey()
	var columns []string
	if r.model.CreatedAt != "" {
		columns = append(columns, r.model.CreatedAt)
	}
	if pk != "" {
		columns = append(columns, pk)
	}
	if len(columns) == 0 {
		return nil, errors.WithMessagef(schema.ErrNoPrimaryKey, "model %s", r.model.Name)
	}
	return r.ordered(direction, columns...).One(ctx)
}

func (r *repositoryImpl[T]) Count(ctx context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.m.Select(r.query()).Count(ctx)
}

func (r *repositoryImpl[T]) Exists(ctx context.Context) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.m.Select(r.query()).Exists(ctx)
}

func (r *repositoryImpl[T]) Load(ctx context.Context, v *T, names ...string) error {
	row := r.model.ToColumnValue(v)
	pk := r.model.PrimaryKeys()
	for _, name := range names {
		l, err := relation.New(r.model.Schema, name, relation.WithoutTrashed)
		if err != nil {
			return err
		}
		res, err := l.Load(ctx, r.m, []field.ColumnAndValue{row}, pk...)
		if err != nil {
			return err
		}
		if err := relation.Assign(reflect.ValueOf(v).Elem(), l.Relation, res.Of(field.RowHash(row, pk...))); err != nil {
			return err
		}
	}
	return nil
}

// Create 插入一条记录。ULID/UUID 主键与时间戳在插入前生成，自增主键在插入后回填
func (r *repositoryImpl[T]) Create(ctx context.Context, v *T) error {
	row := r.model.PrepareInsert(v, r.now())
	b := query.NewInsert(r.model.Table, row)
	auto := r.autoIncrement(row)
	if auto != "" {
		b.Returning(auto)
	}
	res, err := r.m.Exec(ctx, b)
	if err != nil {
		return err
	}
	if auto == "" || res.LastInsertID == 0 {
		return nil
	}
	return r.model.SetColumn(v, auto, field.I64(res.LastInsertID))
}

// autoIncrement 需要在插入后回填的自增列
func (r *repositoryImpl[T]) autoIncrement(row field.ColumnAndValue) string {
	for _, f := range r.model.Fields {
		if f.AutoIncrement() && row.Get(f.Column).IsNotSet() {
			return f.Column
		}
	}
	return ""
}

// BatchCreate 没有自增主键时一次插入全部记录，否则逐条插入以便回填主键
func (r *repositoryImpl[T]) BatchCreate(ctx context.Context, vs []*T) error {
	if len(vs) == 0 {
		return nil
	}
	for _, f := range r.model.Fields {
		if f.AutoIncrement() {
			for _, v := range vs {
				if err := r.Create(ctx, v); err != nil {
					return err
				}
			}
			return nil
		}
	}
	now := r.now()
	rows := make([]field.ColumnAndValue, len(vs))
	for i, v := range vs {
		rows[i] = r.model.PrepareInsert(v, now)
	}
	_, err := r.m.InsertMulti(ctx, r.model.Table, rows)
	return err
}

// byKey 以主键定位 v 对应的行
func (r *repositoryImpl[T]) byKey(v *T) (func(*query.Builder), error) {
	pk := r.model.PrimaryKeys()
	if len(pk) == 0 {
		return nil, errors.WithMessagef(schema.ErrNoPrimaryKey, "model %s", r.model.Name)
	}
	rv := reflect.ValueOf(v).Elem()
	keys := make([]field.FieldValue, len(pk))
	for i, column := range pk {
		f, _ := r.model.Field(column)
		if rv.FieldByIndex(f.Index).IsZero() {
			return nil, errors.Errorf("model %s: primary key %s is not set", r.model.Name, column)
		}
		keys[i] = r.model.Get(v, column)
	}
	return func(q *query.Builder) {
		for i, column := range pk {
			q.Eq(column, keys[i])
		}
	}, nil
}

// Update 按主键更新除主键与 created_at 以外的列，并刷新 updated_at
func (r *repositoryImpl[T]) Update(ctx context.Context, v *T) error {
	where, err := r.byKey(v)
	if err != nil {
		return err
	}
	set := r.model.PrepareUpdate(v, r.now())
	for _, column := range r.model.PrimaryKeys() {
		delete(set, column)
	}
	if r.model.CreatedAt != "" {
		delete(set, r.model.CreatedAt)
	}
	_, err = r.m.Update(ctx, r.model.Table, set, where)
	return err
}

func (r *repositoryImpl[T]) Delete(ctx context.Context, v *T) error {
	where, err := r.byKey(v)
	if err != nil {
		return err
	}
	_, err = r.m.Delete(ctx, r.model.Table, where)
	return err
}

func (r *repositoryImpl[T]) DeleteWhere(ctx context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(r.scopes) == 0 {
		return 0, errors.WithMessagef(ErrUnscoped, "table %s", r.model.Table)
	}
	res, err := r.m.Delete(ctx, r.model.Table, func(q *query.Builder) {
		for _, scope := range r.scopes {
			scope(q)
		}
	})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// SoftDelete 写入软删除列，模型没有软删除列时返回错误
func (r *repositoryImpl[T]) SoftDelete(ctx context.Context, v *T) error {
	return r.setTrashed(ctx, v, field.Timestamp(r.now()))
}

func (r *repositoryImpl[T]) Restore(ctx context.Context, v *T) error {
	return r.setTrashed(ctx, v, field.Null())
}

func (r *repositoryImpl[T]) setTrashed(ctx context.Context, v *T, value field.FieldValue) error {
	column := r.model.SoftDelete
	if column == "" {
		return errors.WithMessagef(model.ErrDefinition, "model %s is not soft deletable", r.model.Name)
	}
	where, err := r.byKey(v)
	if err != nil {
		return err
	}
	if _, err := r.m.Update(ctx, r.model.Table, field.ColumnAndValue{column: value}, where); err != nil {
		return err
	}
	return r.model.SetColumn(v, column, value)
}
