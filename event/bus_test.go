package event

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestBus(t *testing.T) {
	Convey("测试事件总线", t, func() {
		ctx := context.Background()
		bus := NewBus()

		Convey("按类型分发", func() {
			var got []SchemaWritten
			var others int32
			Subscribe(bus, func(_ context.Context, e SchemaWritten) error {
				got = append(got, e)
				return nil
			})
			Subscribe(bus, func(_ context.Context, _ string) error {
				atomic.AddInt32(&others, 1)
				return nil
			})

			So(Publish(ctx, bus, SchemaWritten{Dialect: "sqlite", Kind: WriteDDL, Table: "users"}), ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(got[0].Table, ShouldEqual, "users")
			So(got[0].IsDDL(), ShouldBeTrue)
			So(atomic.LoadInt32(&others), ShouldEqual, 0)
		})

		Convey("取消订阅", func() {
			var n int32
			cancel := Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				atomic.AddInt32(&n, 1)
				return nil
			})
			So(Publish(ctx, bus, SchemaWritten{}), ShouldBeNil)
			cancel()
			So(Publish(ctx, bus, SchemaWritten{}), ShouldBeNil)
			So(atomic.LoadInt32(&n), ShouldEqual, 1)
		})

		Convey("错误与 panic", func() {
			var after int32
			Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				return errors.New("boom")
			})
			Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				panic("bad handler")
			})
			Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				atomic.AddInt32(&after, 1)
				return nil
			})

			err := Publish(ctx, bus, SchemaWritten{})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldEqual, "boom")
			So(atomic.LoadInt32(&after), ShouldEqual, 1)
		})

		Convey("StopOnError", func() {
			bus := NewBusWithOptions(&BusOptions{StopOnError: true})
			var after int32
			Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				return errors.New("boom")
			})
			Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
				atomic.AddInt32(&after, 1)
				return nil
			})
			So(Publish(ctx, bus, SchemaWritten{}), ShouldNotBeNil)
			So(atomic.LoadInt32(&after), ShouldEqual, 0)
		})

		Convey("超时", func() {
			bus := NewBusWithOptions(&BusOptions{Timeout: 20 * time.Millisecond})
			Subscribe(bus, func(ctx context.Context, _ SchemaWritten) error {
				<-ctx.Done()
				time.Sleep(50 * time.Millisecond)
				return nil
			})
			err := Publish(ctx, bus, SchemaWritten{})
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("异步执行", func() {
			bus := NewBusWithOptions(&BusOptions{Async: true, Timeout: time.Second})
			var n int32
			for i := 0; i < 5; i++ {
				Subscribe(bus, func(_ context.Context, _ SchemaWritten) error {
					atomic.AddInt32(&n, 1)
					return nil
				})
			}
			So(Publish(ctx, bus, SchemaWritten{}), ShouldBeNil)
			So(atomic.LoadInt32(&n), ShouldEqual, 5)
		})

		Convey("nil bus", func() {
			var b *Bus
			So(Publish(ctx, b, SchemaWritten{}), ShouldBeNil)
		})
	})
}
