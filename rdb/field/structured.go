package field

import (
	"hash/fnv"
	"sort"
	"strings"
)

// HashKey 结构化行上保存行哈希的键
const HashKey = "__hash"

type node struct {
	value    FieldValue
	children map[string]*node
}

func (n *node) isBranch() bool {
	return n.children != nil
}

// StructuredColumnAndValue ColumnAndValue 的层级提升。
// "a.b.c" 提升为 a -> b -> c 的嵌套 Object，无前缀的键留在根上。
type StructuredColumnAndValue struct {
	root   map[string]*node
	extras map[string]FieldValue
	hash   uint64
}

// FromResults 按输入顺序提升多行，pk 为根实体主键对应的扁平键
func FromResults(rows []ColumnAndValue, pk ...string) []StructuredColumnAndValue {
	out := make([]StructuredColumnAndValue, len(rows))
	for i, row := range rows {
		out[i] = FromAResult(row, pk...)
	}
	return out
}

// FromAResult 提升单行。
// 排序后处理键，保证结果确定；与已有叶子冲突的带点键原样留在根上，以便 Flatten 可逆。
func FromAResult(flat ColumnAndValue, pk ...string) StructuredColumnAndValue {
	s := StructuredColumnAndValue{root: map[string]*node{}}

	for _, key := range flat.Keys() {
		if key == HashKey {
			continue
		}
		value := flat[key]
		parts := strings.Split(key, ".")
		if !s.insert(parts, value) {
			if s.extras == nil {
				s.extras = map[string]FieldValue{}
			}
			s.extras[key] = value
		}
	}

	s.hash = RowHash(flat, pk...)
	return s
}

func (s *StructuredColumnAndValue) insert(parts []string, value FieldValue) bool {
	level := s.root
	for i, part := range parts {
		last := i == len(parts)-1
		n, ok := level[part]
		if last {
			if ok {
				return false
			}
			level[part] = &node{value: value}
			return true
		}
		if !ok {
			n = &node{children: map[string]*node{}}
			level[part] = n
		} else if !n.isBranch() {
			return false
		}
		level = n.children
	}
	return true
}

// RowHash 根实体主键列的稳定 64 位哈希。
// 未给出 pk 时依次尝试 "id"，否则对整行排序后的键值求哈希。
func RowHash(flat ColumnAndValue, pk ...string) uint64 {
	h := fnv.New64a()
	if len(pk) == 0 {
		if _, ok := flat["id"]; ok {
			pk = []string{"id"}
		}
	}
	if len(pk) == 0 {
		for _, k := range flat.Keys() {
			if k == HashKey {
				continue
			}
			h.Write([]byte(k))
			h.Write([]byte{0})
			h.Write([]byte(flat[k].Key()))
			h.Write([]byte{0})
		}
		return h.Sum64()
	}
	for _, k := range pk {
		h.Write([]byte(flat[k].Key()))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Hash 行哈希，即 Fields()[HashKey]
func (s StructuredColumnAndValue) Hash() uint64 {
	return s.hash
}

// Fields 返回层级视图，含 HashKey
func (s StructuredColumnAndValue) Fields() map[string]FieldValue {
	out := make(map[string]FieldValue, len(s.root)+len(s.extras)+1)
	for k, n := range s.root {
		out[k] = n.fieldValue()
	}
	for k, v := range s.extras {
		out[k] = v
	}
	out[HashKey] = U64(s.hash)
	return out
}

func (n *node) fieldValue() FieldValue {
	if !n.isBranch() {
		return n.value
	}
	m := make(map[string]FieldValue, len(n.children))
	for k, c := range n.children {
		m[k] = c.fieldValue()
	}
	return Object(m)
}

// Get 读取根上的值，提升出的分支以 Object 返回
func (s StructuredColumnAndValue) Get(key string) FieldValue {
	if key == HashKey {
		return U64(s.hash)
	}
	if n, ok := s.root[key]; ok {
		return n.fieldValue()
	}
	return s.extras[key]
}

// Section 返回 path 处分支的直接子项，用于把某个表前缀下的列取出来解码
func (s StructuredColumnAndValue) Section(path ...string) (ColumnAndValue, bool) {
	level := s.root
	var n *node
	for _, part := range path {
		var ok bool
		n, ok = level[part]
		if !ok || !n.isBranch() {
			return nil, false
		}
		level = n.children
	}
	out := make(ColumnAndValue, len(level))
	for k, c := range level {
		out[k] = c.fieldValue()
	}
	return out, true
}

// Sections 根上所有提升出的分支名，有序
func (s StructuredColumnAndValue) Sections() []string {
	var names []string
	for k, n := range s.root {
		if n.isBranch() {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// Flatten 提升的逆操作，不包含 HashKey
func (s StructuredColumnAndValue) Flatten() ColumnAndValue {
	out := make(ColumnAndValue)
	for k, n := range s.root {
		n.flatten(k, out)
	}
	for k, v := range s.extras {
		out[k] = v
	}
	return out
}

func (n *node) flatten(prefix string, out ColumnAndValue) {
	if !n.isBranch() {
		out[prefix] = n.value
		return
	}
	for k, c := range n.children {
		c.flatten(prefix+"."+k, out)
	}
}
