package rdb

import (
	"context"
	"time"

	"github.com/coocood/freecache"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/event"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/pool"
	"github.com/hatlonely/rdbx/rdb/query"
)

// ErrRecordNotFound One 没有查到记录
var ErrRecordNotFound = errors.New("record not found")

type HasTableCacheOptions struct {
	// Size 缓存大小，单位字节，freecache 最小 512KB
	Size int           `cfg:"size" def:"1048576"`
	TTL  time.Duration `cfg:"ttl" def:"1m"`
}

// ManagerOptions Manager 的完整配置
type ManagerOptions struct {
	Pool pool.Options `cfg:"pool"`

	Logger *log.SLogOptions `cfg:"logger"`

	EventBus event.BusOptions `cfg:"eventBus"`

	HasTableCache HasTableCacheOptions `cfg:"hasTableCache"`

	// Name 指标名前缀与 tracer 名称
	Name string `cfg:"name" def:"rdbx"`

	EnableMetrics bool `cfg:"enableMetrics"`
	EnableTracing bool `cfg:"enableTracing"`
}

// Result 写语句的执行结果
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Manager 数据访问的入口：按方言路由连接，渲染并执行语句
type Manager struct {
	router   *pool.Router
	bus      *event.Bus
	tables   *freecache.Cache
	tableTTL time.Duration
	logger   log.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	dialect string
	client  pool.ClientType

	unsubscribe func()
}

type Option func(*Manager)

func WithBus(bus *event.Bus) Option {
	return func(m *Manager) {
		if bus != nil {
			m.bus = bus
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithHasTableCache HasTable 结果缓存的大小与过期时间
func WithHasTableCache(size int, ttl time.Duration) Option {
	return func(m *Manager) {
		m.tables = freecache.NewCache(size)
		m.tableTTL = ttl
	}
}

// NewManager 基于已创建的路由构造 Manager
func NewManager(router *pool.Router, opts ...Option) *Manager {
	m := &Manager{
		router:   router,
		logger:   log.Default().WithGroup("rdb"),
		tableTTL: time.Minute,
		client:   pool.Read,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = event.NewBus()
	}
	if m.tables == nil {
		m.tables = freecache.NewCache(1024 * 1024)
	}
	tables := m.tables
	m.unsubscribe = event.Subscribe(m.bus, func(ctx context.Context, e event.SchemaWritten) error {
		if e.IsDDL() {
			tables.Clear()
		}
		return nil
	})
	return m
}

func NewManagerWithOptions(ctx context.Context, options *ManagerOptions, opts ...Option) (*Manager, error) {
	if options == nil {
		options = &ManagerOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(pool.ErrConfig, err.Error())
	}
	router, err := pool.NewRouterWithOptions(ctx, &options.Pool)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithBus(event.NewBusWithOptions(&options.EventBus)),
		WithHasTableCache(max(options.HasTableCache.Size, 512*1024), options.HasTableCache.TTL),
	}
	if options.Logger != nil {
		l, err := log.NewSLogWithOptions(options.Logger)
		if err != nil {
			_ = router.Close()
			return nil, errors.WithMessage(err, "failed to create logger")
		}
		base = append(base, WithLogger(l.WithGroup("rdb")))
	}
	name := options.Name
	if name == "" {
		name = "rdbx"
	}
	if options.EnableMetrics {
		base = append(base, WithMetrics(NewMetrics(name)))
	}
	if options.EnableTracing {
		base = append(base, WithTracer(newTracer(name)))
	}
	return NewManager(router, append(base, opts...)...), nil
}

// Use 返回使用指定方言的 Manager，共享连接与缓存
func (m *Manager) Use(name string) *Manager {
	c := *m
	c.dialect = name
	return &c
}

// UseWrite 返回读请求也走写库的 Manager
func (m *Manager) UseWrite() *Manager {
	c := *m
	c.client = pool.Write
	return &c
}

func (m *Manager) Router() *pool.Router {
	return m.router
}

func (m *Manager) Bus() *event.Bus {
	return m.bus
}

func (m *Manager) Logger() log.Logger {
	return m.logger
}

// Dialect 当前使用的方言
func (m *Manager) Dialect() (dialect.Emitter, error) {
	name := m.dialect
	if name == "" {
		name = m.router.Default()
	}
	return dialect.New(name)
}

func (m *Manager) Close() error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m.router.Close()
}

func (m *Manager) pool(write bool) (*pool.Pool, error) {
	client := m.client
	if write {
		client = pool.Write
	}
	return m.router.Route(m.dialect, client)
}

// retry 在可重试错误上按 10ms 起、上限 500ms 的指数退避重试
func (m *Manager) retry(ctx context.Context, p *pool.Pool, op *operation, fn func(context.Context) (int64, error)) error {
	backoff := 10 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := m.observe(ctx, op, fn)
		if err == nil || attempt >= p.MaxRetries || !pool.IsRetryable(err) {
			return err
		}
		if m.metrics != nil {
			m.metrics.retryCounter.WithLabelValues(op.dialect, op.name).Inc()
		}
		select {
		case <-ctx.Done():
			return pool.Classify(op.dialect, op.sql, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
}

func newOperation(p *pool.Pool, name string, table string, sql string) *operation {
	return &operation{
		name:    name,
		table:   table,
		dialect: p.Name(),
		client:  p.Client.String(),
		sql:     sql,
	}
}

// execStatement 执行写语句，成功后记录写入时间并发布事件
func (m *Manager) execStatement(ctx context.Context, p *pool.Pool, name string, table string, stmt dialect.Statement, kind event.WriteKind) (Result, error) {
	var result Result
	err := m.retry(ctx, p, newOperation(p, name, table, stmt.SQL), func(ctx context.Context) (int64, error) {
		ctx, conn, release, err := p.Conn(ctx)
		if err != nil {
			return 0, err
		}
		defer release()
		if stmt.Returning {
			return returning(ctx, conn, p.Name(), stmt, &result)
		}
		res, err := conn.ExecContext(ctx, stmt.SQL, stmt.Params()...)
		if err != nil {
			return 0, pool.Classify(p.Name(), stmt.SQL, err)
		}
		result.RowsAffected, _ = res.RowsAffected()
		// pgx 不支持 LastInsertId，自增主键通过 RETURNING 取回
		if id, err := res.LastInsertId(); err == nil {
			result.LastInsertID = id
		}
		return result.RowsAffected, nil
	})
	if err != nil {
		return result, err
	}
	m.written(ctx, p.Name(), kind, table)
	return result, nil
}

// returning 执行带 RETURNING 的插入，LastInsertID 取最后一行的返回值，被忽略的插入不返回行
func returning(ctx context.Context, conn *sqlx.Conn, name string, stmt dialect.Statement, result *Result) (int64, error) {
	rows, err := conn.QueryContext(ctx, stmt.SQL, stmt.Params()...)
	if err != nil {
		return 0, pool.Classify(name, stmt.SQL, err)
	}
	defer rows.Close()
	*result = Result{}
	for rows.Next() {
		if err := rows.Scan(&result.LastInsertID); err != nil {
			return 0, pool.Classify(name, stmt.SQL, err)
		}
		result.RowsAffected++
	}
	if err := rows.Err(); err != nil {
		return 0, pool.Classify(name, stmt.SQL, err)
	}
	return result.RowsAffected, nil
}

// queryStatement 执行查询并读取全部结果
func (m *Manager) queryStatement(ctx context.Context, p *pool.Pool, name string, table string, stmt dialect.Statement) ([]field.ColumnAndValue, error) {
	var rows []field.ColumnAndValue
	err := m.retry(ctx, p, newOperation(p, name, table, stmt.SQL), func(ctx context.Context) (int64, error) {
		rows = rows[:0]
		ctx, conn, release, err := p.Conn(ctx)
		if err != nil {
			return 0, err
		}
		defer release()
		r, err := conn.QueryxContext(ctx, stmt.SQL, stmt.Params()...)
		if err != nil {
			return 0, pool.Classify(p.Name(), stmt.SQL, err)
		}
		defer r.Close()
		scanner, err := newRowScanner(r)
		if err != nil {
			return 0, pool.Classify(p.Name(), stmt.SQL, err)
		}
		for r.Next() {
			row, err := scanner.scan(r)
			if err != nil {
				return 0, pool.Classify(p.Name(), stmt.SQL, err)
			}
			rows = append(rows, row)
		}
		if err := r.Err(); err != nil {
			return 0, pool.Classify(p.Name(), stmt.SQL, err)
		}
		return int64(len(rows)), nil
	})
	return rows, err
}

// written 写入成功：刷新粘滞时间戳并发布 SchemaWritten
func (m *Manager) written(ctx context.Context, name string, kind event.WriteKind, table string) {
	at := m.router.MarkWritten(name)
	if err := event.Publish(ctx, m.bus, event.SchemaWritten{Dialect: name, Kind: kind, Table: table, At: at}); err != nil {
		m.logger.WarnContext(ctx, "publish schema written event failed", "dialect", name, "table", table, "error", err.Error())
	}
}

// Exec 执行任意写语句
func (m *Manager) Exec(ctx context.Context, b *query.Builder) (Result, error) {
	p, err := m.pool(true)
	if err != nil {
		return Result{}, err
	}
	stmt, err := p.Dialect.Build(b)
	if err != nil {
		return Result{}, err
	}
	return m.execStatement(ctx, p, b.Action().String(), b.TableName(), stmt, writeKind(b.Action()))
}

func writeKind(action query.Action) event.WriteKind {
	switch action {
	case query.ActionInsert:
		return event.WriteInsert
	case query.ActionUpdate:
		return event.WriteUpdate
	case query.ActionDelete:
		return event.WriteDelete
	case query.ActionUpsert:
		return event.WriteUpsert
	}
	return event.WriteDDL
}
