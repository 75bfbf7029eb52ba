package model

import (
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/schema"
	"github.com/hatlonely/rdbx/uid"
)

// Descriptor 模型 T 的描述符，实现 query.Table、query.SoftDeletable 与 schema.Referable
type Descriptor[T any] struct {
	*Schema
}

// Describe 解析 T 的描述符
func Describe[T any]() (*Descriptor[T], error) {
	s, err := Parse(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	return &Descriptor[T]{Schema: s}, nil
}

// MustDescribe 解析失败时 panic，用于包级变量
func MustDescribe[T any]() *Descriptor[T] {
	d, err := Describe[T]()
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor[T]) TableName() string {
	return d.Table
}

// TableColumns 整表选择时的列，不含 skip_select
func (d *Descriptor[T]) TableColumns() []string {
	return d.SelectColumns()
}

// PrimaryKey 第一个主键列，没有主键时为空
func (d *Descriptor[T]) PrimaryKey() string {
	return first(d.Schema.PrimaryKey)
}

// PrimaryKeys 全部主键列
func (d *Descriptor[T]) PrimaryKeys() []string {
	return d.Schema.PrimaryKey
}

// ForeignKey 其他表引用本表时使用的列名，默认 <表名单数>_<主键>
func (d *Descriptor[T]) ForeignKey() string {
	return d.Schema.ForeignKey
}

func (d *Descriptor[T]) SoftDeleteColumn() string {
	return d.SoftDelete
}

// Col 字段对应的列名，字段不存在时 panic
func (d *Descriptor[T]) Col(name string) string {
	f, ok := d.Field(name)
	if !ok {
		panic(errors.Errorf("model %s has no field %s", d.Name, name))
	}
	return f.Column
}

// Qualified 带表名的列名 <table>.<column>
func (d *Descriptor[T]) Qualified(name string) string {
	return d.Table + "." + d.Col(name)
}

// ToColumnValue 转换为写入用的列值，不含 skip_insert 字段。
// 自增主键、待生成的主键与时间戳为零值时为 NotSet，nil 指针为 Null
func (d *Descriptor[T]) ToColumnValue(v *T) field.ColumnAndValue {
	rv := reflect.ValueOf(v).Elem()
	out := make(field.ColumnAndValue, len(d.Fields))
	for _, f := range d.Fields {
		if f.SkipInsert {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		switch {
		case fv.Kind() == reflect.Ptr && fv.IsNil():
			out[f.Column] = field.Null()
		case fv.IsZero() && (f.AutoIncrement() || f.Generated() || f.Column == d.CreatedAt || f.Column == d.UpdatedAt):
			out[f.Column] = field.NotSet()
		default:
			out[f.Column] = fieldValue(fv, f)
		}
	}
	return out
}

func fieldValue(fv reflect.Value, f *Field) field.FieldValue {
	if fv.Kind() == reflect.Ptr {
		fv = fv.Elem()
	}
	v := field.From(fv.Interface())
	if f.ColumnType == schema.JSON && (v.Kind() == field.KindObject || v.Kind() == field.KindArray) {
		return v
	}
	switch f.ColumnType {
	case schema.Date:
		if t, ok := fv.Interface().(time.Time); ok {
			return field.Date(t)
		}
	case schema.Timestamp:
		if t, ok := fv.Interface().(time.Time); ok {
			return field.Timestamp(t)
		}
	}
	return v
}

// FromColumnValue 从扁平的行解码，行中缺失的列保持零值
func (d *Descriptor[T]) FromColumnValue(row field.ColumnAndValue) (T, error) {
	var out T
	err := d.decodeInto(reflect.ValueOf(&out).Elem(), row)
	return out, err
}

// FromStructured 从层级结构的根解码；path 非空时从对应的分支解码
func (d *Descriptor[T]) FromStructured(row field.StructuredColumnAndValue, path ...string) (T, error) {
	var out T
	section, ok := row.Section(path...)
	if !ok {
		return out, errors.WithMessagef(ErrDecode, "model %s: section %v not found", d.Name, path)
	}
	err := d.decodeInto(reflect.ValueOf(&out).Elem(), section)
	return out, err
}

// NewValue 把一行解码为 s.Type 的新值，用于关联加载时按反射构造目标
func (s *Schema) NewValue(row field.ColumnAndValue) (reflect.Value, error) {
	v := reflect.New(s.Type).Elem()
	return v, s.decodeInto(v, row)
}

func (s *Schema) decodeInto(rv reflect.Value, row field.ColumnAndValue) error {
	for _, f := range s.Fields {
		v, ok := row[f.Column]
		if !ok || v.IsNotSet() {
			continue
		}
		dst, err := rv.FieldByIndexErr(f.Index)
		if err != nil {
			return errors.Wrapf(ErrDecode, "model %s field %s: %v", s.Name, f.Name, err)
		}
		if err := v.AssignTo(dst); err != nil {
			return errors.Wrapf(ErrDecode, "model %s column %s: %v", s.Name, f.Column, err)
		}
	}
	return nil
}

// PrepareInsert 生成 ULID/UUID 主键并填充时间戳，写回 v 并返回最终的列值
func (d *Descriptor[T]) PrepareInsert(v *T, now time.Time) field.ColumnAndValue {
	rv := reflect.ValueOf(v).Elem()
	for _, f := range d.Fields {
		fv := rv.FieldByIndex(f.Index)
		if !fv.IsZero() {
			continue
		}
		switch {
		case f.Generated():
			_ = generate(f).AssignTo(fv)
		case f.Column == d.CreatedAt || f.Column == d.UpdatedAt:
			_ = field.Timestamp(now).AssignTo(fv)
		}
	}
	return d.ToColumnValue(v)
}

// PrepareUpdate 刷新 updated_at，写回 v 并返回最终的列值
func (d *Descriptor[T]) PrepareUpdate(v *T, now time.Time) field.ColumnAndValue {
	if d.UpdatedAt != "" {
		if f, ok := d.Field(d.UpdatedAt); ok {
			_ = field.Timestamp(now).AssignTo(reflect.ValueOf(v).Elem().FieldByIndex(f.Index))
		}
	}
	return d.ToColumnValue(v)
}

// SetColumn 把值写入列对应的字段，用于回填自增主键
func (d *Descriptor[T]) SetColumn(v *T, column string, value field.FieldValue) error {
	f, ok := d.Field(column)
	if !ok {
		return errors.WithMessagef(ErrDefinition, "model %s has no column %s", d.Name, column)
	}
	if err := value.AssignTo(reflect.ValueOf(v).Elem().FieldByIndex(f.Index)); err != nil {
		return errors.Wrapf(ErrDecode, "model %s column %s: %v", d.Name, column, err)
	}
	return nil
}

// Get 读取列对应字段的值
func (d *Descriptor[T]) Get(v *T, column string) field.FieldValue {
	f, ok := d.Field(column)
	if !ok {
		return field.NotSet()
	}
	fv := reflect.ValueOf(v).Elem().FieldByIndex(f.Index)
	if fv.Kind() == reflect.Ptr && fv.IsNil() {
		return field.Null()
	}
	return fieldValue(fv, f)
}

func generate(f *Field) field.FieldValue {
	if f.Default.Kind == schema.DefaultUUID {
		u := uid.NewUUID()
		if f.Type.Kind() == reflect.String {
			return field.String(u.String())
		}
		return field.UUID(u)
	}
	return field.String(uid.NewULID())
}
