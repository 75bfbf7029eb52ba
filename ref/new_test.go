package ref

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Backend struct {
	Addr    string
	Timeout time.Duration
}

type BackendOptions struct {
	Addr    string        `cfg:"addr" validate:"required"`
	Timeout time.Duration `cfg:"timeout" def:"3s"`
}

func NewBackendWithOptions(options *BackendOptions) (*Backend, error) {
	if options.Addr == "bad" {
		return nil, errors.New("bad addr")
	}
	return &Backend{Addr: options.Addr, Timeout: options.Timeout}, nil
}

func NewDefaultBackend() *Backend {
	return &Backend{Addr: "default"}
}

func TestRegister(t *testing.T) {
	require.NoError(t, Register("test", "Backend", NewBackendWithOptions))
	require.NoError(t, Register("test", "Backend", NewBackendWithOptions))
	assert.Error(t, Register("test", "Backend", NewDefaultBackend))
	assert.Error(t, Register("test", "NotFunc", 1))
	assert.Error(t, Register("test", "TooMany", func(a, b int) int { return a + b }))
	assert.Error(t, Register("test", "BadOut", func() (int, int) { return 1, 2 }))
	assert.Panics(t, func() { MustRegister("test", "NoOut", func() {}) })
}

func TestNew(t *testing.T) {
	Convey("测试按名称构造", t, func() {
		MustRegister("test", "Backend", NewBackendWithOptions)
		MustRegister("test", "DefaultBackend", NewDefaultBackend)

		Convey("直接传入参数类型", func() {
			v, err := New("test", "Backend", &BackendOptions{Addr: "localhost:6379"})
			So(err, ShouldBeNil)
			So(v.(*Backend).Addr, ShouldEqual, "localhost:6379")
		})

		Convey("map 绑定后填充默认值", func() {
			v, err := NewWithOptions(&TypeOptions{
				Namespace: "test",
				Type:      "Backend",
				Options:   map[string]any{"addr": "127.0.0.1:6379"},
			})
			So(err, ShouldBeNil)
			So(v.(*Backend).Addr, ShouldEqual, "127.0.0.1:6379")
			So(v.(*Backend).Timeout, ShouldEqual, 3*time.Second)

			v, err = New("test", "Backend", map[string]any{"addr": "a", "timeout": "1s"})
			So(err, ShouldBeNil)
			So(v.(*Backend).Timeout, ShouldEqual, time.Second)
		})

		Convey("校验失败与构造失败", func() {
			_, err := New("test", "Backend", map[string]any{})
			So(err, ShouldNotBeNil)
			_, err = New("test", "Backend", &BackendOptions{Addr: "bad"})
			So(err, ShouldNotBeNil)
			_, err = New("test", "Backend", 42)
			So(err, ShouldNotBeNil)
		})

		Convey("无参构造", func() {
			v, err := New("test", "DefaultBackend", nil)
			So(err, ShouldBeNil)
			So(v.(*Backend).Addr, ShouldEqual, "default")
		})

		Convey("未注册", func() {
			_, err := New("test", "Missing", nil)
			So(errors.Is(err, ErrNotRegistered), ShouldBeTrue)
			_, err = NewWithOptions(nil)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestNewT(t *testing.T) {
	require.NoError(t, RegisterT[*Backend](NewDefaultBackend))
	b, err := NewT[*Backend](nil)
	require.NoError(t, err)
	assert.Equal(t, "default", b.Addr)

	_, err = NewT[*BackendOptions](nil)
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = NewT[[]int](nil)
	assert.Error(t, err)
}
