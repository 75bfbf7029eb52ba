package ref

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/cfg"
)

var ErrNotRegistered = errors.New("constructor not registered")

// TypeOptions 按名称选择实现，Options 为构造函数的参数，
// 从配置文件加载时是 map[string]any，构造前会绑定到参数类型上
type TypeOptions struct {
	Namespace string `cfg:"namespace"`
	Type      string `cfg:"type"`
	Options   any    `cfg:"options"`
}

type constructor struct {
	fn           reflect.Value
	param        reflect.Type
	returnsError bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newConstructor(fn any) (*constructor, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func {
		return nil, errors.Errorf("constructor must be a function, got %T", fn)
	}
	ft := fv.Type()
	if ft.NumIn() > 1 {
		return nil, errors.Errorf("constructor must have 0 or 1 parameter, got %d", ft.NumIn())
	}
	if ft.NumOut() != 1 && ft.NumOut() != 2 {
		return nil, errors.Errorf("constructor must return 1 or 2 values, got %d", ft.NumOut())
	}
	if ft.NumOut() == 2 && !ft.Out(1).Implements(errorType) {
		return nil, errors.New("second return value of constructor must be error")
	}

	c := &constructor{fn: fv, returnsError: ft.NumOut() == 2}
	if ft.NumIn() == 1 {
		c.param = ft.In(0)
	}
	return c, nil
}

func (c *constructor) call(options any) (any, error) {
	var args []reflect.Value
	if c.param != nil {
		arg, err := c.convert(options)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	out := c.fn.Call(args)
	if c.returnsError && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	return out[0].Interface(), nil
}

// convert 把 options 转换成构造函数的参数：类型相同直接传入，
// map 先绑定再填充默认值并校验，nil 使用参数类型的默认值
func (c *constructor) convert(options any) (reflect.Value, error) {
	if options != nil {
		ov := reflect.ValueOf(options)
		if ov.Type().AssignableTo(c.param) {
			return ov, nil
		}
	}

	ptr := c.param.Kind() == reflect.Ptr
	elem := c.param
	if ptr {
		elem = c.param.Elem()
	}
	target := reflect.New(elem)

	switch o := options.(type) {
	case nil:
	case map[string]any:
		if err := cfg.Bind(o, target.Interface()); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "bind options to %v", c.param)
		}
	default:
		return reflect.Value{}, errors.Errorf("options %T cannot be converted to %v", options, c.param)
	}

	if elem.Kind() == reflect.Struct {
		if err := cfg.SetDefaults(target.Interface()); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "set defaults for %v", c.param)
		}
		if err := cfg.Validate(target.Interface()); err != nil {
			return reflect.Value{}, errors.WithMessagef(err, "validate options %v", c.param)
		}
	}

	if ptr {
		return target, nil
	}
	return target.Elem(), nil
}

var constructors sync.Map

// Register 注册构造函数，构造函数形如 func() T、func(O) T、func(O) (T, error)。
// 同一名称重复注册同一个函数会被忽略，注册不同的函数返回错误
func Register(namespace string, typ string, fn any) error {
	key := namespace + ":" + typ
	if v, ok := constructors.Load(key); ok {
		if fv := reflect.ValueOf(fn); fv.Kind() == reflect.Func && v.(*constructor).fn.Pointer() == fv.Pointer() {
			return nil
		}
		return errors.Errorf("constructor %s already registered with a different function", key)
	}

	c, err := newConstructor(fn)
	if err != nil {
		return errors.WithMessagef(err, "register %s", key)
	}
	constructors.Store(key, c)
	return nil
}

func MustRegister(namespace string, typ string, fn any) {
	if err := Register(namespace, typ, fn); err != nil {
		panic(err)
	}
}

// RegisterT 以 T 的包路径与类型名注册
func RegisterT[T any](fn any) error {
	namespace, typ, err := nameOf[T]()
	if err != nil {
		return err
	}
	return Register(namespace, typ, fn)
}

func MustRegisterT[T any](fn any) {
	if err := RegisterT[T](fn); err != nil {
		panic(err)
	}
}

func New(namespace string, typ string, options any) (any, error) {
	key := namespace + ":" + typ
	v, ok := constructors.Load(key)
	if !ok {
		return nil, errors.WithMessage(ErrNotRegistered, key)
	}
	obj, err := v.(*constructor).call(options)
	if err != nil {
		return nil, errors.WithMessagef(err, "new %s", key)
	}
	return obj, nil
}

// NewWithOptions 按 TypeOptions 构造
func NewWithOptions(options *TypeOptions) (any, error) {
	if options == nil {
		return nil, errors.New("type options is nil")
	}
	return New(options.Namespace, options.Type, options.Options)
}

// NewT 以 T 的包路径与类型名查找构造函数
func NewT[T any](options any) (T, error) {
	var zero T
	namespace, typ, err := nameOf[T]()
	if err != nil {
		return zero, err
	}
	obj, err := New(namespace, typ, options)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errors.Errorf("constructor returned %T, want %T", obj, zero)
	}
	return t, nil
}

func nameOf[T any]() (string, string, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return "", "", errors.Errorf("cannot name type %v", t)
	}
	return t.PkgPath(), t.Name(), nil
}
