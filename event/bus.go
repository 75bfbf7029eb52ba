package event

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/hatlonely/rdbx/log"
	"github.com/pkg/errors"
)

// BusOptions 事件总线配置
type BusOptions struct {
	// 异步执行时每个 handler 在独立 goroutine 中运行，Publish 等待全部完成
	Async bool `cfg:"async"`

	// 单个 handler 的超时时间，0 表示不限制
	Timeout time.Duration `cfg:"timeout" def:"5s"`

	// 为 true 时某个 handler 出错后不再执行后续 handler（仅同步模式）
	StopOnError bool `cfg:"stopOnError"`
}

type subscription struct {
	id      uint64
	handler func(context.Context, any) error
}

// Bus 进程内的类型化事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]subscription
	nextID   uint64

	options *BusOptions
	logger  log.Logger
}

func NewBusWithOptions(options *BusOptions) *Bus {
	if options == nil {
		options = &BusOptions{Timeout: 5 * time.Second}
	}
	return &Bus{
		handlers: map[reflect.Type][]subscription{},
		options:  options,
		logger:   log.Default().WithGroup("event"),
	}
}

func NewBus() *Bus {
	return NewBusWithOptions(nil)
}

func (b *Bus) SetLogger(l log.Logger) {
	if l != nil {
		b.logger = l
	}
}

// Subscribe 注册 E 类型事件的处理函数，返回取消订阅函数
func Subscribe[E any](b *Bus, fn func(context.Context, E) error) func() {
	key := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[key] = append(b.handlers[key], subscription{
		id: id,
		handler: func(ctx context.Context, e any) error {
			return fn(ctx, e.(E))
		},
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[key]
		for i, s := range subs {
			if s.id == id {
				b.handlers[key] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish 把事件分发给所有订阅者，返回第一个出错 handler 的错误
func Publish[E any](ctx context.Context, b *Bus, e E) error {
	if b == nil {
		return nil
	}
	key := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[key]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if b.options.Async {
		errs := make([]error, len(subs))
		var wg sync.WaitGroup
		for i, s := range subs {
			wg.Add(1)
			go func(i int, s subscription) {
				defer wg.Done()
				errs[i] = b.execute(ctx, key, i, s, e)
			}(i, s)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}

	var first error
	for i, s := range subs {
		if err := b.execute(ctx, key, i, s, e); err != nil {
			if first == nil {
				first = err
			}
			if b.options.StopOnError {
				b.logger.Warn("handler execution stopped due to error", "event", key.String(), "stoppedAtIndex", i)
				break
			}
		}
	}
	return first
}

// execute 执行单个 handler，带超时与 panic 保护
func (b *Bus) execute(ctx context.Context, key reflect.Type, index int, s subscription, e any) error {
	if b.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.options.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("handler panic: %v", r)
			}
		}()
		done <- s.handler(ctx, e)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.logger.ErrorContext(ctx, "event handler failed", "event", key.String(), "index", index, "duration", time.Since(start), "error", err)
		}
		return err
	case <-ctx.Done():
		b.logger.ErrorContext(ctx, "event handler timeout", "event", key.String(), "index", index, "duration", time.Since(start))
		return errors.Wrap(ctx.Err(), "event handler")
	}
}
