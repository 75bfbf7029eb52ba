package cfg

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

// Bind 把解码后的 map 绑定到结构体指针上。
// 字段名取 cfg tag，没有 tag 时按字段名大小写不敏感匹配。
func Bind(data map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}
	return convertValue(data, rv.Elem())
}

func convertValue(src any, dst reflect.Value) error {
	if src == nil {
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return convertValue(src, dst.Elem())
	}

	srcValue := reflect.ValueOf(src)
	if srcValue.Type().AssignableTo(dst.Type()) && dst.Kind() != reflect.Struct {
		dst.Set(srcValue)
		return nil
	}

	switch dst.Type() {
	case durationType:
		return convertToDuration(srcValue, dst)
	case timeType:
		return convertToTime(srcValue, dst)
	}

	switch dst.Kind() {
	case reflect.Struct:
		return convertToStruct(srcValue, dst)
	case reflect.Map:
		return convertToMap(srcValue, dst)
	case reflect.Slice:
		return convertToSlice(srcValue, dst)
	case reflect.Interface:
		if dst.NumMethod() == 0 {
			dst.Set(srcValue)
			return nil
		}
	case reflect.String:
		dst.SetString(toString(src))
		return nil
	case reflect.Bool:
		if srcValue.Kind() == reflect.String {
			b, err := strconv.ParseBool(srcValue.String())
			if err != nil {
				return errors.Wrapf(err, "parse bool %q", srcValue.String())
			}
			dst.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if s, ok := numberString(src); ok {
			i, err := strconv.ParseInt(s, 10, dst.Type().Bits())
			if err != nil {
				return errors.Wrapf(err, "parse int %q", s)
			}
			dst.SetInt(i)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if s, ok := numberString(src); ok {
			u, err := strconv.ParseUint(s, 10, dst.Type().Bits())
			if err != nil {
				return errors.Wrapf(err, "parse uint %q", s)
			}
			dst.SetUint(u)
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if s, ok := numberString(src); ok {
			f, err := strconv.ParseFloat(s, dst.Type().Bits())
			if err != nil {
				return errors.Wrapf(err, "parse float %q", s)
			}
			dst.SetFloat(f)
			return nil
		}
	}

	if srcValue.Type().ConvertibleTo(dst.Type()) {
		dst.Set(srcValue.Convert(dst.Type()))
		return nil
	}
	return errors.Errorf("cannot convert %v to %v", srcValue.Type(), dst.Type())
}

func numberString(src any) (string, bool) {
	switch v := src.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func toString(src any) string {
	switch v := src.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return fmt.Sprint(src)
}

// 字符串按 time.ParseDuration 解析，数字视为秒
func convertToDuration(src, dst reflect.Value) error {
	if s, ok := numberString(src.Interface()); ok {
		if d, err := time.ParseDuration(s); err == nil {
			dst.Set(reflect.ValueOf(d))
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Errorf("failed to parse duration %q", s)
		}
		dst.Set(reflect.ValueOf(time.Duration(f * float64(time.Second))))
		return nil
	}

	switch src.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.Set(reflect.ValueOf(time.Duration(src.Int()) * time.Second))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		dst.Set(reflect.ValueOf(time.Duration(src.Uint()) * time.Second))
		return nil
	case reflect.Float32, reflect.Float64:
		dst.Set(reflect.ValueOf(time.Duration(src.Float() * float64(time.Second))))
		return nil
	}
	return errors.Errorf("cannot convert %v to time.Duration", src.Type())
}

func convertToTime(src, dst reflect.Value) error {
	if t, ok := src.Interface().(time.Time); ok {
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	if src.Kind() != reflect.String {
		return errors.Errorf("cannot convert %v to time.Time", src.Type())
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, src.String()); err == nil {
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return errors.Errorf("failed to parse time %q", src.String())
}

func convertToMap(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("source %v is not a map", src.Type())
	}
	if dst.IsNil() {
		dst.Set(reflect.MakeMap(dst.Type()))
	}
	for _, key := range src.MapKeys() {
		item := reflect.New(dst.Type().Elem()).Elem()
		if err := convertValue(src.MapIndex(key).Interface(), item); err != nil {
			return errors.WithMessagef(err, "key %v", key.Interface())
		}
		k := reflect.ValueOf(toString(key.Interface()))
		if !k.Type().AssignableTo(dst.Type().Key()) {
			k = k.Convert(dst.Type().Key())
		}
		dst.SetMapIndex(k, item)
	}
	return nil
}

// 字符串源按逗号切分，便于从环境变量或 ini 中给出列表
func convertToSlice(src, dst reflect.Value) error {
	if src.Kind() == reflect.String {
		parts := strings.Split(src.String(), ",")
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = strings.TrimSpace(p)
		}
		src = reflect.ValueOf(items)
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return errors.Errorf("source %v is not a slice", src.Type())
	}

	out := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
	for i := 0; i < src.Len(); i++ {
		if err := convertValue(src.Index(i).Interface(), out.Index(i)); err != nil {
			return errors.WithMessagef(err, "index %d", i)
		}
	}
	dst.Set(out)
	return nil
}

func convertToStruct(src, dst reflect.Value) error {
	if src.Kind() != reflect.Map {
		return errors.Errorf("source %v is not a map", src.Type())
	}

	values := make(map[string]reflect.Value, src.Len())
	for _, key := range src.MapKeys() {
		values[strings.ToLower(toString(key.Interface()))] = src.MapIndex(key)
	}

	dstType := dst.Type()
	for i := 0; i < dstType.NumField(); i++ {
		field := dstType.Field(i)
		fieldValue := dst.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		name := field.Name
		if tag := field.Tag.Get("cfg"); tag != "" {
			name = strings.Split(tag, ",")[0]
			if name == "-" {
				continue
			}
		}

		value, ok := values[strings.ToLower(name)]
		if !ok {
			continue
		}
		if err := convertValue(value.Interface(), fieldValue); err != nil {
			return errors.WithMessagef(err, "field %s", name)
		}
	}
	return nil
}
