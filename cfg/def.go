package cfg

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SetDefaults 为结构体设置默认值，基于 def tag。
// 只有零值字段会被填充；需要区分 "未配置" 与 "false/0" 的字段应使用指针类型。
func SetDefaults(object any) error {
	if object == nil {
		return errors.New("object cannot be nil")
	}

	rv := reflect.ValueOf(object)
	if rv.Kind() != reflect.Ptr {
		return errors.New("object must be a pointer")
	}
	if rv.IsNil() {
		return errors.New("object cannot be nil")
	}

	return setDefaults(rv.Elem())
}

func setDefaults(rv reflect.Value) error {
	if !rv.IsValid() {
		return nil
	}

	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return setDefaults(rv.Elem())
	}

	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fieldValue := rv.Field(i)
		if !fieldValue.CanSet() {
			continue
		}

		defTag := field.Tag.Get("def")

		// 嵌套结构体递归处理，nil 的结构体指针保持为 nil
		if fieldValue.Kind() == reflect.Struct && fieldValue.Type() != timeType {
			if err := setDefaults(fieldValue); err != nil {
				return errors.WithMessagef(err, "field %s", field.Name)
			}
		}
		if fieldValue.Kind() == reflect.Ptr && !fieldValue.IsNil() && fieldValue.Type().Elem().Kind() == reflect.Struct {
			if err := setDefaults(fieldValue.Elem()); err != nil {
				return errors.WithMessagef(err, "field %s", field.Name)
			}
		}

		if defTag == "" || !fieldValue.IsZero() {
			continue
		}

		if fieldValue.Kind() == reflect.Ptr {
			fieldValue.Set(reflect.New(fieldValue.Type().Elem()))
			fieldValue = fieldValue.Elem()
		}

		if err := setDefaultValue(fieldValue, defTag); err != nil {
			return errors.WithMessagef(err, "field %s", field.Name)
		}
	}

	return nil
}

func setDefaultValue(rv reflect.Value, defValue string) error {
	switch rv.Kind() {
	case reflect.String:
		rv.SetString(defValue)
		return nil

	case reflect.Bool:
		val, err := strconv.ParseBool(defValue)
		if err != nil {
			return errors.Errorf("invalid bool value %q", defValue)
		}
		rv.SetBool(val)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Type() == durationType {
			d, err := time.ParseDuration(defValue)
			if err != nil {
				return errors.Errorf("invalid duration value %q", defValue)
			}
			rv.SetInt(int64(d))
			return nil
		}
		val, err := strconv.ParseInt(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid int value %q", defValue)
		}
		rv.SetInt(val)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := strconv.ParseUint(defValue, 0, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid uint value %q", defValue)
		}
		rv.SetUint(val)
		return nil

	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(defValue, rv.Type().Bits())
		if err != nil {
			return errors.Errorf("invalid float value %q", defValue)
		}
		rv.SetFloat(val)
		return nil

	case reflect.Slice:
		parts := strings.Split(defValue, ",")
		slice := reflect.MakeSlice(rv.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setDefaultValue(slice.Index(i), strings.TrimSpace(part)); err != nil {
				return errors.WithMessagef(err, "index %d", i)
			}
		}
		rv.Set(slice)
		return nil
	}

	return errors.Errorf("unsupported type %v", rv.Type())
}
