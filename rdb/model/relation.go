package model

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"
	"github.com/pkg/errors"
)

// RelationKind 关联的种类
type RelationKind string

const (
	HasOne         RelationKind = "has_one"
	HasMany        RelationKind = "has_many"
	BelongsTo      RelationKind = "belongs_to"
	HasOneThrough  RelationKind = "has_one_through"
	HasManyThrough RelationKind = "has_many_through"
	BelongsToMany  RelationKind = "belongs_to_many"
	MorphOne       RelationKind = "morph_one"
	MorphMany      RelationKind = "morph_many"
)

// Many 是否为一对多，结果字段为切片
func (k RelationKind) Many() bool {
	return k == HasMany || k == HasManyThrough || k == BelongsToMany || k == MorphMany
}

// Relation 结构体上声明的关联。键名未指定时按双方的模型推导：
//
//	has_one / has_many     foreign_key 子表上指向父表的列，默认 <父表单数>_<主键>；local_key 父表列，默认主键
//	belongs_to             foreign_key 本表上指向目标的列，默认 <目标单数>_<主键>；owner_key 目标列，默认主键
//	has_*_through          pivot 中间表；pivot_parent_key 中间表上指向父表的列；pivot_child_key 中间表上指向目标的列
//	belongs_to_many        pivot 默认为两张表单数名按字典序以 _ 连接
//	morph_one / morph_many morph 多态名，对应 <morph>_type 与 <morph>_id；morph_type 默认为父模型名
type Relation struct {
	Name  string
	Field string
	Index []int
	Kind  RelationKind

	// Target 目标模型的结构体类型；Pointer 表示一对一字段为指针
	Target  reflect.Type
	Pointer bool

	ForeignKey string
	LocalKey   string
	OwnerKey   string

	Pivot          string
	PivotParentKey string
	PivotChildKey  string

	Morph     string
	MorphType string

	parent *Schema
	once   sync.Once
	target *Schema
	err    error
}

func newRelation(parent *Schema, sf reflect.StructField, index []int, name string, kind string, opts map[string]string) (*Relation, error) {
	r := &Relation{
		Name:           name,
		Field:          sf.Name,
		Index:          index,
		Kind:           RelationKind(kind),
		ForeignKey:     opts["foreign_key"],
		LocalKey:       opts["local_key"],
		OwnerKey:       opts["owner_key"],
		Pivot:          opts["pivot"],
		PivotParentKey: opts["pivot_parent_key"],
		PivotChildKey:  opts["pivot_child_key"],
		Morph:          opts["morph"],
		MorphType:      opts["morph_type"],
		parent:         parent,
	}
	if r.Name == "" {
		r.Name = SnakeCase(sf.Name)
	}
	switch r.Kind {
	case HasOne, HasMany, BelongsTo, HasOneThrough, HasManyThrough, BelongsToMany, MorphOne, MorphMany:
	default:
		return nil, errors.WithMessagef(ErrDefinition, "relation %s: unknown kind %q", r.Name, kind)
	}

	t := sf.Type
	if r.Kind.Many() {
		if t.Kind() != reflect.Slice {
			return nil, errors.WithMessagef(ErrDefinition, "relation %s: %s requires a slice field", r.Name, r.Kind)
		}
		t = t.Elem()
	} else if t.Kind() == reflect.Ptr {
		r.Pointer = true
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.WithMessagef(ErrDefinition, "relation %s: target must be a struct, got %s", r.Name, t)
	}
	r.Target = t

	if (r.Kind == HasOneThrough || r.Kind == HasManyThrough) && r.Pivot == "" {
		return nil, errors.WithMessagef(ErrDefinition, "relation %s: %s requires pivot", r.Name, r.Kind)
	}
	if (r.Kind == MorphOne || r.Kind == MorphMany) && r.Morph == "" {
		return nil, errors.WithMessagef(ErrDefinition, "relation %s: %s requires morph", r.Name, r.Kind)
	}
	return r, nil
}

// Resolve 解析目标模型并补全默认键名。目标模型在首次使用时才解析，允许模型之间互相引用
func (r *Relation) Resolve() (*Schema, error) {
	r.once.Do(func() {
		r.target, r.err = r.resolve()
	})
	return r.target, r.err
}

func (r *Relation) resolve() (*Schema, error) {
	target, err := Parse(r.Target)
	if err != nil {
		return nil, err
	}
	parent := r.parent
	need := func(s *Schema) error {
		if len(s.PrimaryKey) == 0 {
			return errors.WithMessagef(ErrDefinition, "relation %s: model %s has no primary key", r.Name, s.Name)
		}
		return nil
	}

	switch r.Kind {
	case HasOne, HasMany:
		if err := need(parent); err != nil && (r.LocalKey == "" || r.ForeignKey == "") {
			return nil, err
		}
		r.LocalKey = or(r.LocalKey, first(parent.PrimaryKey))
		r.ForeignKey = or(r.ForeignKey, parent.ForeignKey)
	case BelongsTo:
		if err := need(target); err != nil && (r.OwnerKey == "" || r.ForeignKey == "") {
			return nil, err
		}
		r.OwnerKey = or(r.OwnerKey, first(target.PrimaryKey))
		r.ForeignKey = or(r.ForeignKey, target.ForeignKey)
	case HasOneThrough, HasManyThrough, BelongsToMany:
		if err := need(parent); err != nil && r.LocalKey == "" {
			return nil, err
		}
		if err := need(target); err != nil && r.OwnerKey == "" {
			return nil, err
		}
		r.LocalKey = or(r.LocalKey, first(parent.PrimaryKey))
		r.OwnerKey = or(r.OwnerKey, first(target.PrimaryKey))
		r.PivotParentKey = or(r.PivotParentKey, parent.ForeignKey)
		r.PivotChildKey = or(r.PivotChildKey, target.ForeignKey)
		if r.Pivot == "" {
			names := []string{inflection.Singular(parent.Table), inflection.Singular(target.Table)}
			sort.Strings(names)
			r.Pivot = strings.Join(names, "_")
		}
	case MorphOne, MorphMany:
		if err := need(parent); err != nil && r.LocalKey == "" {
			return nil, err
		}
		r.LocalKey = or(r.LocalKey, first(parent.PrimaryKey))
		r.MorphType = or(r.MorphType, parent.MorphName)
	}
	return target, nil
}

// ParentTable 声明关联的模型的表名
func (r *Relation) ParentTable() string {
	return r.parent.Table
}

// MorphTypeColumn <morph>_type
func (r *Relation) MorphTypeColumn() string {
	return r.Morph + "_type"
}

// MorphIDColumn <morph>_id
func (r *Relation) MorphIDColumn() string {
	return r.Morph + "_id"
}

func or(s string, def string) string {
	if s != "" {
		return s
	}
	return def
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
