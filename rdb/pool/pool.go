package pool

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/dialect"
)

// ClientType 连接池的读写角色
type ClientType int

const (
	Read ClientType = iota
	Write
)

func (c ClientType) String() string {
	if c == Write {
		return "write"
	}
	return "read"
}

// Pool 一个方言的一个读写角色上的连接池
type Pool struct {
	Dialect dialect.Emitter
	Client  ClientType
	DB      *sqlx.DB

	CheckoutTimeout  time.Duration
	StatementTimeout time.Duration
	MaxRetries       int
}

// NewPoolWithOptions 打开连接池并探活
func NewPoolWithOptions(ctx context.Context, client ClientType, options *ClientOptions) (*Pool, error) {
	if options == nil {
		return nil, errors.WithMessage(ErrConfig, "options is nil")
	}
	emitter, err := dialect.New(SchemeOf(options.URL))
	if err != nil {
		return nil, errors.WithMessage(ErrConfig, err.Error())
	}
	dsn, err := DSN(options)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(emitter.Driver(), dsn)
	if err != nil {
		return nil, errors.WithMessagef(ErrConfig, "open %s failed. err: [%v]", emitter.Name(), err)
	}
	if IsMemory(options.URL) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(options.MaxConnections)
		db.SetMaxIdleConns(min(options.MaxIdle, options.MaxConnections))
	}

	p := NewPool(emitter, client, db)
	p.CheckoutTimeout = options.CheckoutTimeout
	p.StatementTimeout = options.StatementTimeout
	p.MaxRetries = options.MaxRetries

	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPool 包装已经打开的连接
func NewPool(emitter dialect.Emitter, client ClientType, db *sqlx.DB) *Pool {
	return &Pool{Dialect: emitter, Client: client, DB: db}
}

func (p *Pool) Name() string {
	return p.Dialect.Name()
}

// checkout 带超时地获取连接
func (p *Pool) checkout(ctx context.Context) (*sqlx.Conn, error) {
	cctx := ctx
	if p.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.CheckoutTimeout)
		defer cancel()
	}
	conn, err := p.DB.Connx(cctx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &kindError{kind: ErrTimeout, err: errors.Wrap(err, "checkout connection")}
		}
		return nil, Classify(p.Name(), "", err)
	}
	return conn, nil
}

// Conn 获取连接并设置语句超时，返回的 release 需要在用完之后调用
func (p *Pool) Conn(ctx context.Context) (context.Context, *sqlx.Conn, func(), error) {
	conn, err := p.checkout(ctx)
	if err != nil {
		return ctx, nil, nil, err
	}
	cancel := func() {}
	if p.StatementTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.StatementTimeout)
	}
	return ctx, conn, func() {
		cancel()
		_ = conn.Close()
	}, nil
}

func (p *Pool) Ping(ctx context.Context) error {
	_, conn, release, err := p.Conn(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := conn.PingContext(ctx); err != nil {
		return Classify(p.Name(), "", err)
	}
	return nil
}

func (p *Pool) Close() error {
	return p.DB.Close()
}
