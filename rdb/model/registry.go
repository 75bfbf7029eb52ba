package model

import (
	"reflect"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var registry = struct {
	sync.RWMutex
	byName map[string]*Schema
}{byName: map[string]*Schema{}}

// Register 在启动时登记模型并校验全部关联，模型名重复时返回错误
func Register[T any]() (*Descriptor[T], error) {
	d, err := Describe[T]()
	if err != nil {
		return nil, err
	}
	for _, r := range d.Relations {
		if _, err := r.Resolve(); err != nil {
			return nil, errors.WithMessagef(err, "model %s", d.Name)
		}
	}

	registry.Lock()
	defer registry.Unlock()
	if s, ok := registry.byName[d.Name]; ok && s.Type != d.Type {
		return nil, errors.WithMessagef(ErrDefinition, "model %s already registered as %s", d.Name, s.Type)
	}
	registry.byName[d.Name] = d.Schema
	return d, nil
}

func MustRegister[T any]() *Descriptor[T] {
	d, err := Register[T]()
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup 按模型名查找已登记的模型
func Lookup(name string) (*Schema, bool) {
	registry.RLock()
	defer registry.RUnlock()
	s, ok := registry.byName[name]
	return s, ok
}

// Registered 已登记的全部模型，按表名排序
func Registered() []*Schema {
	registry.RLock()
	defer registry.RUnlock()
	schemas := make([]*Schema, 0, len(registry.byName))
	for _, s := range registry.byName {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Table < schemas[j].Table
	})
	return schemas
}

// TypeOf 模型的结构体类型
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
