package field

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
)

var ErrMismatch = errors.New("field value variant mismatch")

var (
	timeType        = reflect.TypeOf(time.Time{})
	uuidType        = reflect.TypeOf(uuid.UUID{})
	fieldValueType  = reflect.TypeOf(FieldValue{})
	bytesType       = reflect.TypeOf([]byte(nil))
	valuerType      = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
)

// From 把任意 Go 值转换为 FieldValue，不会失败。
// nil 指针视为未设置（NotSet），无类型 nil 视为 Null。
func From(v any) FieldValue {
	switch x := v.(type) {
	case nil:
		return Null()
	case FieldValue:
		return x
	case *FieldValue:
		if x == nil {
			return NotSet()
		}
		return *x
	case bool:
		return Boolean(x)
	case int:
		return I64(int64(x))
	case int64:
		return I64(x)
	case int32:
		return I32(x)
	case int16:
		return I16(x)
	case int8:
		return I8(x)
	case uint:
		return U64(uint64(x))
	case uint64:
		return U64(x)
	case uint32:
		return U32(x)
	case uint16:
		return U32(uint32(x))
	case uint8:
		return U32(uint32(x))
	case float64:
		return F64(x)
	case float32:
		return F64(float64(x))
	case string:
		return String(x)
	case []byte:
		if x == nil {
			return Null()
		}
		return Binary(x)
	case json.RawMessage:
		return FromJSON(x)
	case uuid.UUID:
		return UUID(x)
	case time.Time:
		return DateTime(x)
	case ColumnAndValue:
		return Object(map[string]FieldValue(x.Clone()))
	case map[string]FieldValue:
		return Object(x)
	case []FieldValue:
		return Array(x...)
	case error:
		return NotSet()
	}

	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) FieldValue {
	if !rv.IsValid() {
		return Null()
	}

	if rv.Type().Implements(valuerType) {
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			return NotSet()
		}
		dv, err := rv.Interface().(driver.Valuer).Value()
		if err != nil {
			return NotSet()
		}
		return From(dv)
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return NotSet()
		}
		return From(rv.Elem().Interface())
	case reflect.Bool:
		return Boolean(rv.Bool())
	case reflect.Int, reflect.Int64:
		return I64(rv.Int())
	case reflect.Int32:
		return I32(int32(rv.Int()))
	case reflect.Int16:
		return I16(int16(rv.Int()))
	case reflect.Int8:
		return I8(int8(rv.Int()))
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return U64(rv.Uint())
	case reflect.Uint32, reflect.Uint16, reflect.Uint8:
		return U32(uint32(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return F64(rv.Float())
	case reflect.String:
		return String(rv.String())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return NotSet()
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Binary(b)
		}
		items := make([]FieldValue, rv.Len())
		for i := range items {
			items[i] = From(rv.Index(i).Interface())
		}
		return Array(items...)
	case reflect.Map:
		if rv.IsNil() {
			return NotSet()
		}
		m := make(map[string]FieldValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[keyString(iter.Key())] = From(iter.Value().Interface())
		}
		return Object(m)
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return DateTime(rv.Convert(timeType).Interface().(time.Time))
		}
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return NotSet()
		}
		return FromJSON(data)
	}
	return NotSet()
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return From(k.Interface()).String()
}

// FromResult 错误时返回 NotSet
func FromResult[T any](v T, err error) FieldValue {
	if err != nil {
		return NotSet()
	}
	return From(v)
}

// Into 宽松地把 FieldValue 转换为 T，变体不匹配时返回 T 的零值并记录日志
func Into[T any](f FieldValue) T {
	var out T
	if err := f.AssignTo(reflect.ValueOf(&out).Elem()); err != nil {
		log.Default().Warn("field value conversion fallback to default", "kind", f.kind.String(), "target", reflect.TypeOf(&out).Elem().String(), "error", err)
		var zero T
		return zero
	}
	return out
}

// FromOptionalRefInto 克隆并转换，缺失时返回 T 的零值
func FromOptionalRefInto[T any](f *FieldValue) T {
	if f == nil {
		var zero T
		return zero
	}
	return Into[T](*f)
}

// Decode 严格转换，变体不匹配时返回错误
func Decode[T any](f FieldValue) (T, error) {
	var out T
	if err := f.AssignTo(reflect.ValueOf(&out).Elem()); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (f FieldValue) mismatch(target reflect.Type) error {
	return errors.Wrapf(ErrMismatch, "cannot assign %s to %s", f.kind, target)
}

// AssignTo 把值写入 dst。
// 数值之间可以互相转换（溢出视为不匹配），Null/NotSet 写入零值或 nil 指针。
func (f FieldValue) AssignTo(dst reflect.Value) error {
	if !dst.CanSet() {
		return errors.New("destination is not settable")
	}
	t := dst.Type()

	if t == fieldValueType {
		dst.Set(reflect.ValueOf(f))
		return nil
	}

	if f.IsNullish() {
		dst.Set(reflect.Zero(t))
		return nil
	}

	switch t.Kind() {
	case reflect.Ptr:
		elem := reflect.New(t.Elem())
		if err := f.AssignTo(elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	case reflect.Interface:
		if t.NumMethod() == 0 {
			dst.Set(reflect.ValueOf(f.Native()))
			return nil
		}
	}

	if reflect.PointerTo(t).Implements(scannerType) {
		scanner := reflect.New(t)
		dv, err := f.Value()
		if err != nil {
			return err
		}
		if err := scanner.Interface().(interface{ Scan(any) error }).Scan(dv); err != nil {
			return errors.Wrapf(ErrMismatch, "scan %s into %s: %v", f.kind, t, err)
		}
		dst.Set(scanner.Elem())
		return nil
	}

	switch {
	case t == timeType:
		tm, ok := f.timeValue()
		if !ok {
			return f.mismatch(t)
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case t == uuidType:
		u, ok := f.uuidValue()
		if !ok {
			return f.mismatch(t)
		}
		dst.Set(reflect.ValueOf(u))
		return nil
	case t == bytesType:
		switch f.kind {
		case KindBinary:
			dst.SetBytes(append([]byte(nil), f.v.([]byte)...))
		case KindString:
			dst.SetBytes([]byte(f.v.(string)))
		default:
			return f.mismatch(t)
		}
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		b, ok := f.boolValue()
		if !ok {
			return f.mismatch(t)
		}
		dst.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := f.int64Value()
		if !ok || dst.OverflowInt(i) {
			return f.mismatch(t)
		}
		dst.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := f.uint64Value()
		if !ok || dst.OverflowUint(u) {
			return f.mismatch(t)
		}
		dst.SetUint(u)
		return nil
	case reflect.Float32, reflect.Float64:
		fl, ok := f.float64Value()
		if !ok {
			return f.mismatch(t)
		}
		dst.SetFloat(fl)
		return nil
	case reflect.String:
		switch f.kind {
		case KindArray, KindObject, KindBinary:
			return f.mismatch(t)
		}
		dst.SetString(f.String())
		return nil
	case reflect.Slice:
		items, ok := f.arrayValue()
		if !ok {
			return f.mismatch(t)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if err := item.AssignTo(out.Index(i)); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
		dst.Set(out)
		return nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return f.mismatch(t)
		}
		m, ok := f.objectValue()
		if !ok {
			return f.mismatch(t)
		}
		out := reflect.MakeMapWithSize(t, len(m))
		for k, item := range m {
			v := reflect.New(t.Elem()).Elem()
			if err := item.AssignTo(v); err != nil {
				return errors.WithMessagef(err, "key %s", k)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), v)
		}
		dst.Set(out)
		return nil
	case reflect.Struct:
		// 结构体按 JSON 解码，适用于以 JSON 存储的嵌入对象
		var data []byte
		switch f.kind {
		case KindObject, KindArray:
			var err error
			if data, err = f.MarshalJSON(); err != nil {
				return err
			}
		case KindString:
			data = []byte(f.v.(string))
		default:
			return f.mismatch(t)
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return errors.Wrapf(ErrMismatch, "decode %s into %s: %v", f.kind, t, err)
		}
		dst.Set(ptr.Elem())
		return nil
	}
	return f.mismatch(t)
}

var scannerType = reflect.TypeOf((*interface{ Scan(any) error })(nil)).Elem()

// Native 返回最贴近的 Go 原生值，Array/Object 递归展开
func (f FieldValue) Native() any {
	switch f.kind {
	case KindNotSet, KindNull:
		return nil
	case KindArray:
		items := f.v.([]FieldValue)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		m := f.v.(map[string]FieldValue)
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = item.Native()
		}
		return out
	case KindBinary:
		return append([]byte(nil), f.v.([]byte)...)
	}
	return f.v
}

func (f FieldValue) int64Value() (int64, bool) {
	switch f.kind {
	case KindU64:
		u := f.v.(uint64)
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case KindU32, KindI64, KindI32, KindI16, KindI8:
		return f.int64(), true
	case KindF64:
		fv := f.v.(float64)
		if fv != math.Trunc(fv) || fv > math.MaxInt64 || fv < math.MinInt64 {
			return 0, false
		}
		return int64(fv), true
	case KindBoolean:
		if f.v.(bool) {
			return 1, true
		}
		return 0, true
	case KindString:
		i, err := strconv.ParseInt(strings.TrimSpace(f.v.(string)), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (f FieldValue) uint64Value() (uint64, bool) {
	if f.kind == KindU64 {
		return f.v.(uint64), true
	}
	if f.kind == KindString {
		u, err := strconv.ParseUint(strings.TrimSpace(f.v.(string)), 10, 64)
		return u, err == nil
	}
	i, ok := f.int64Value()
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func (f FieldValue) float64Value() (float64, bool) {
	switch f.kind {
	case KindF64:
		return f.v.(float64), true
	case KindU64:
		return float64(f.v.(uint64)), true
	case KindString:
		fv, err := strconv.ParseFloat(strings.TrimSpace(f.v.(string)), 64)
		return fv, err == nil
	}
	i, ok := f.int64Value()
	return float64(i), ok
}

func (f FieldValue) boolValue() (bool, bool) {
	switch f.kind {
	case KindBoolean:
		return f.v.(bool), true
	case KindString:
		b, err := strconv.ParseBool(strings.TrimSpace(f.v.(string)))
		return b, err == nil
	}
	if f.kind.IsNumeric() {
		fv, _ := f.float64Value()
		return fv != 0, true
	}
	return false, false
}

func (f FieldValue) timeValue() (time.Time, bool) {
	switch f.kind {
	case KindDateTime, KindTimestamp, KindDate, KindTime:
		return f.v.(time.Time), true
	case KindString:
		return parseTime(f.v.(string))
	case KindI64, KindI32, KindU64, KindU32:
		i, ok := f.int64Value()
		return time.Unix(i, 0).UTC(), ok
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		DateTimeLayout,
		"2006-01-02T15:04:05",
		DateLayout,
		TimeLayout,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (f FieldValue) uuidValue() (uuid.UUID, bool) {
	switch f.kind {
	case KindUUID:
		return f.v.(uuid.UUID), true
	case KindString:
		u, err := uuid.Parse(f.v.(string))
		return u, err == nil
	case KindBinary:
		u, err := uuid.FromBytes(f.v.([]byte))
		return u, err == nil
	}
	return uuid.UUID{}, false
}

func (f FieldValue) arrayValue() ([]FieldValue, bool) {
	switch f.kind {
	case KindArray:
		return f.v.([]FieldValue), true
	case KindString:
		parsed := FromJSON([]byte(f.v.(string)))
		if parsed.kind == KindArray {
			return parsed.v.([]FieldValue), true
		}
	}
	return nil, false
}

func (f FieldValue) objectValue() (map[string]FieldValue, bool) {
	switch f.kind {
	case KindObject:
		return f.v.(map[string]FieldValue), true
	case KindString:
		parsed := FromJSON([]byte(f.v.(string)))
		if parsed.kind == KindObject {
			return parsed.v.(map[string]FieldValue), true
		}
	}
	return nil, false
}

func (f FieldValue) warn(target string) {
	if f.IsNullish() {
		return
	}
	log.Default().Warn("field value conversion fallback to default", "kind", f.kind.String(), "target", target)
}

// AsInt64 宽松读取，失败时返回 0 并记录日志
func (f FieldValue) AsInt64() int64 {
	i, ok := f.int64Value()
	if !ok {
		f.warn("int64")
	}
	return i
}

func (f FieldValue) AsUint64() uint64 {
	u, ok := f.uint64Value()
	if !ok {
		f.warn("uint64")
	}
	return u
}

func (f FieldValue) AsFloat64() float64 {
	fv, ok := f.float64Value()
	if !ok {
		f.warn("float64")
	}
	return fv
}

func (f FieldValue) AsBool() bool {
	b, ok := f.boolValue()
	if !ok {
		f.warn("bool")
	}
	return b
}

// AsString String 变体原样返回，其它变体返回展示格式
func (f FieldValue) AsString() string {
	return f.String()
}

func (f FieldValue) AsBytes() []byte {
	switch f.kind {
	case KindBinary:
		return append([]byte(nil), f.v.([]byte)...)
	case KindString:
		return []byte(f.v.(string))
	}
	f.warn("[]byte")
	return nil
}

func (f FieldValue) AsUUID() uuid.UUID {
	u, ok := f.uuidValue()
	if !ok {
		f.warn("uuid")
	}
	return u
}

func (f FieldValue) AsTime() time.Time {
	t, ok := f.timeValue()
	if !ok {
		f.warn("time")
	}
	return t
}

func (f FieldValue) AsArray() []FieldValue {
	items, ok := f.arrayValue()
	if !ok {
		f.warn("array")
	}
	return items
}

func (f FieldValue) AsObject() map[string]FieldValue {
	m, ok := f.objectValue()
	if !ok {
		f.warn("object")
	}
	return m
}
