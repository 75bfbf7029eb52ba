package pool

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/dialect"
)

type route struct {
	write  *Pool
	read   *Pool
	sticky StickyPolicy

	// 最近一次写入成功的时间，UnixNano，只增不减
	lastWrite atomic.Int64
}

// Router 按方言持有读写连接池，并根据最近写入时间决定读请求的去向
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route
	def    string

	now    func() time.Time
	logger log.Logger
}

type RouterOption func(*Router)

// WithClock 替换时钟，测试粘滞窗口时使用
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l log.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter 创建空的路由，连接池通过 Register 添加
func NewRouter(defaultDialect string, opts ...RouterOption) *Router {
	r := &Router{
		routes: map[string]*route{},
		def:    defaultDialect,
		now:    time.Now,
		logger: log.Default().WithGroup("pool"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRouterWithOptions 按配置打开全部连接池
func NewRouterWithOptions(ctx context.Context, options *Options, opts ...RouterOption) (*Router, error) {
	if options == nil {
		options = &Options{}
	}
	if err := options.Prepare(); err != nil {
		return nil, err
	}

	r := NewRouter(options.Default, opts...)
	for _, name := range []string{dialect.SQLite, dialect.MySQL, dialect.Postgres} {
		readOptions, writeOptions := options.Clients(name)
		if writeOptions == nil {
			continue
		}
		write, err := NewPoolWithOptions(ctx, Write, writeOptions)
		if err != nil {
			_ = r.Close()
			return nil, errors.WithMessagef(err, "open %s write pool", name)
		}
		var read *Pool
		if readOptions != nil {
			read, err = NewPoolWithOptions(ctx, Read, readOptions)
			if err != nil {
				_ = write.Close()
				_ = r.Close()
				return nil, errors.WithMessagef(err, "open %s read pool", name)
			}
		}
		if err := r.Register(name, write, read, readOptions.stickyPolicy()); err != nil {
			_ = r.Close()
			return nil, err
		}
		r.logger.Info("pool opened", "dialect", name, "read", read != nil)
	}
	return r, nil
}

// Register 注册方言的读写连接池，read 可以为 nil
func (r *Router) Register(name string, write *Pool, read *Pool, sticky StickyPolicy) error {
	if write == nil {
		return errors.WithMessagef(ErrConfig, "%s write pool is nil", name)
	}
	emitter, err := dialect.New(name)
	if err != nil {
		return errors.WithMessage(ErrConfig, err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[emitter.Name()]; ok {
		return errors.WithMessagef(ErrConfig, "%s already registered", emitter.Name())
	}
	r.routes[emitter.Name()] = &route{write: write, read: read, sticky: sticky}
	if r.def == "" {
		r.def = emitter.Name()
	}
	return nil
}

// Default 未指定方言时使用的方言
func (r *Router) Default() string {
	return r.def
}

// Dialects 已注册的方言
func (r *Router) Dialects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) lookup(name string) (string, *route, error) {
	if name == "" {
		name = r.def
	}
	emitter, err := dialect.New(name)
	if err != nil {
		return "", nil, errors.WithMessage(ErrConfig, err.Error())
	}
	r.mu.RLock()
	rt, ok := r.routes[emitter.Name()]
	r.mu.RUnlock()
	if !ok {
		return "", nil, errors.WithMessagef(ErrConfig, "dialect %s is not configured", emitter.Name())
	}
	return emitter.Name(), rt, nil
}

// Route 选择连接池。显式要求 Write 时使用写库；
// 否则在粘滞窗口内使用写库，窗口外使用读库，没有读库时使用写库
func (r *Router) Route(name string, client ClientType) (*Pool, error) {
	_, rt, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	if client == Write || rt.read == nil {
		return rt.write, nil
	}
	if rt.sticky.Enabled {
		if last := rt.lastWrite.Load(); last != 0 {
			if r.now().Sub(time.Unix(0, last)) <= rt.sticky.Duration {
				return rt.write, nil
			}
		}
	}
	return rt.read, nil
}

// MarkWritten 记录一次成功的写入，返回记录的时间
func (r *Router) MarkWritten(name string) time.Time {
	_, rt, err := r.lookup(name)
	if err != nil {
		return time.Time{}
	}
	now := r.now()
	ts := now.UnixNano()
	for {
		last := rt.lastWrite.Load()
		if last >= ts {
			return time.Unix(0, last)
		}
		if rt.lastWrite.CompareAndSwap(last, ts) {
			return now
		}
	}
}

// LastWrite 最近一次写入的时间，从未写入时返回零值
func (r *Router) LastWrite(name string) time.Time {
	_, rt, err := r.lookup(name)
	if err != nil {
		return time.Time{}
	}
	last := rt.lastWrite.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, rt := range r.routes {
		if rt.read != nil {
			if err := rt.read.Close(); err != nil {
				errs = append(errs, errors.WithMessagef(err, "close %s read pool", name))
			}
		}
		if err := rt.write.Close(); err != nil {
			errs = append(errs, errors.WithMessagef(err, "close %s write pool", name))
		}
	}
	r.routes = map[string]*route{}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
