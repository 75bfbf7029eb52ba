package field

import (
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// FieldValue 带类型标签的领域值。
// 零值为 NotSet；Object 的键天然唯一。
type FieldValue struct {
	kind Kind
	v    any
}

func NotSet() FieldValue {
	return FieldValue{}
}

func Null() FieldValue {
	return FieldValue{kind: KindNull}
}

func U64(v uint64) FieldValue { return FieldValue{kind: KindU64, v: v} }
func U32(v uint32) FieldValue { return FieldValue{kind: KindU32, v: v} }
func I64(v int64) FieldValue  { return FieldValue{kind: KindI64, v: v} }
func I32(v int32) FieldValue  { return FieldValue{kind: KindI32, v: v} }
func I16(v int16) FieldValue  { return FieldValue{kind: KindI16, v: v} }
func I8(v int8) FieldValue    { return FieldValue{kind: KindI8, v: v} }
func F64(v float64) FieldValue {
	return FieldValue{kind: KindF64, v: v}
}

func String(v string) FieldValue {
	return FieldValue{kind: KindString, v: v}
}

func Boolean(v bool) FieldValue {
	return FieldValue{kind: KindBoolean, v: v}
}

// Binary 保存字节的副本
func Binary(v []byte) FieldValue {
	if v == nil {
		return FieldValue{kind: KindBinary, v: []byte{}}
	}
	return FieldValue{kind: KindBinary, v: append([]byte(nil), v...)}
}

func UUID(v uuid.UUID) FieldValue {
	return FieldValue{kind: KindUUID, v: v}
}

// DateTime 统一转为 UTC
func DateTime(v time.Time) FieldValue {
	return FieldValue{kind: KindDateTime, v: v.UTC()}
}

func Timestamp(v time.Time) FieldValue {
	return FieldValue{kind: KindTimestamp, v: v.UTC()}
}

// Date 只保留年月日
func Date(v time.Time) FieldValue {
	y, m, d := v.Date()
	return FieldValue{kind: KindDate, v: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Time 只保留时分秒与纳秒
func Time(v time.Time) FieldValue {
	return FieldValue{kind: KindTime, v: time.Date(0, 1, 1, v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), time.UTC)}
}

func Array(items ...FieldValue) FieldValue {
	if items == nil {
		items = []FieldValue{}
	}
	return FieldValue{kind: KindArray, v: items}
}

func Object(m map[string]FieldValue) FieldValue {
	if m == nil {
		m = map[string]FieldValue{}
	}
	return FieldValue{kind: KindObject, v: m}
}

func (f FieldValue) Kind() Kind {
	return f.kind
}

func (f FieldValue) IsNotSet() bool {
	return f.kind == KindNotSet
}

func (f FieldValue) IsNull() bool {
	return f.kind == KindNull
}

// IsNullish Null 或 NotSet
func (f FieldValue) IsNullish() bool {
	return f.kind == KindNull || f.kind == KindNotSet
}

// Raw 返回内部保存的 Go 值
func (f FieldValue) Raw() any {
	return f.v
}

// String 诊断用的展示格式，不要用于拼接 SQL
func (f FieldValue) String() string {
	switch f.kind {
	case KindNotSet:
		return ""
	case KindNull:
		return "NULL"
	case KindBoolean:
		if f.v.(bool) {
			return "1"
		}
		return "0"
	case KindU64:
		return strconv.FormatUint(f.v.(uint64), 10)
	case KindU32:
		return strconv.FormatUint(uint64(f.v.(uint32)), 10)
	case KindI64, KindI32, KindI16, KindI8:
		return strconv.FormatInt(f.int64(), 10)
	case KindF64:
		return strconv.FormatFloat(f.v.(float64), 'f', -1, 64)
	case KindString:
		return f.v.(string)
	case KindBinary:
		return hex.EncodeToString(f.v.([]byte))
	case KindUUID:
		return f.v.(uuid.UUID).String()
	case KindDateTime, KindTimestamp:
		return f.v.(time.Time).Format(time.RFC3339Nano)
	case KindDate:
		return f.v.(time.Time).Format(DateLayout)
	case KindTime:
		return f.v.(time.Time).Format(TimeLayout)
	case KindArray:
		items := f.v.([]FieldValue)
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindObject:
		data, err := f.MarshalJSON()
		if err != nil {
			return "{}"
		}
		return string(data)
	}
	return ""
}

// int64 仅在 kind 为整数时调用
func (f FieldValue) int64() int64 {
	switch v := f.v.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case uint64:
		return int64(v)
	case uint32:
		return int64(v)
	}
	return 0
}

// Key 规范化的比较键：整数不区分宽度，UUID 与其字符串形式相同。
// 用于关联加载时匹配父子键值。
func (f FieldValue) Key() string {
	switch f.kind {
	case KindNotSet, KindNull:
		return "null"
	case KindU64:
		return "n:" + strconv.FormatUint(f.v.(uint64), 10)
	case KindU32, KindI64, KindI32, KindI16, KindI8:
		return "n:" + strconv.FormatInt(f.int64(), 10)
	case KindF64:
		fv := f.v.(float64)
		if fv == math.Trunc(fv) && math.Abs(fv) < 1<<53 {
			return "n:" + strconv.FormatInt(int64(fv), 10)
		}
		return "f:" + strconv.FormatFloat(fv, 'g', -1, 64)
	case KindBoolean:
		if f.v.(bool) {
			return "n:1"
		}
		return "n:0"
	case KindString:
		return "s:" + f.v.(string)
	case KindUUID:
		return "s:" + f.v.(uuid.UUID).String()
	case KindDateTime, KindTimestamp, KindDate, KindTime:
		return "t:" + strconv.FormatInt(f.v.(time.Time).UnixNano(), 10)
	}
	return f.kind.String() + ":" + f.String()
}

// Equal 严格比较，变体与值都必须相同
func (f FieldValue) Equal(o FieldValue) bool {
	if f.kind != o.kind {
		return false
	}
	switch f.kind {
	case KindNotSet, KindNull:
		return true
	case KindBinary:
		return string(f.v.([]byte)) == string(o.v.([]byte))
	case KindDateTime, KindTimestamp, KindDate, KindTime:
		return f.v.(time.Time).Equal(o.v.(time.Time))
	case KindArray:
		a, b := f.v.([]FieldValue), o.v.([]FieldValue)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindObject:
		a, b := f.v.(map[string]FieldValue), o.v.(map[string]FieldValue)
		if len(a) != len(b) {
			return false
		}
		for k, av := range a {
			bv, ok := b[k]
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	}
	return f.v == o.v
}

// ObjectKeys 返回 Object 的有序键
func (f FieldValue) ObjectKeys() []string {
	m, ok := f.v.(map[string]FieldValue)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
