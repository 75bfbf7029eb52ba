package field

import (
	"sort"
	"strings"
)

// ColumnAndValue 列名到值的扁平映射。
// 来自连表查询的键形如 "<tableAlias>.<column>"。
type ColumnAndValue map[string]FieldValue

// NewColumnAndValue 由 key/value 交替的参数构造，value 经 From 转换
func NewColumnAndValue(kv ...any) ColumnAndValue {
	c := make(ColumnAndValue, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		c[key] = From(kv[i+1])
	}
	return c
}

// Set 写入任意 Go 值
func (c ColumnAndValue) Set(key string, v any) ColumnAndValue {
	c[key] = From(v)
	return c
}

// Get 缺失的键返回 NotSet
func (c ColumnAndValue) Get(key string) FieldValue {
	return c[key]
}

func (c ColumnAndValue) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// Keys 有序的键列表
func (c ColumnAndValue) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c ColumnAndValue) Clone() ColumnAndValue {
	out := make(ColumnAndValue, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// WithoutNotSet 去掉未设置的列，用于 INSERT/UPDATE
func (c ColumnAndValue) WithoutNotSet() ColumnAndValue {
	out := make(ColumnAndValue, len(c))
	for k, v := range c {
		if !v.IsNotSet() {
			out[k] = v
		}
	}
	return out
}

// WithPrefix 为每个键加上 "<prefix>." 前缀
func (c ColumnAndValue) WithPrefix(prefix string) ColumnAndValue {
	out := make(ColumnAndValue, len(c))
	for k, v := range c {
		out[prefix+"."+k] = v
	}
	return out
}

// StripPrefix 只保留以 "<prefix>." 开头的键并去掉前缀
func (c ColumnAndValue) StripPrefix(prefix string) ColumnAndValue {
	p := prefix + "."
	out := make(ColumnAndValue)
	for k, v := range c {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = v
		}
	}
	return out
}

func (c ColumnAndValue) Equal(o ColumnAndValue) bool {
	if len(c) != len(o) {
		return false
	}
	for k, v := range c {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
