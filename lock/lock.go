package lock

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hatlonely/rdbx/cfg"
	"github.com/hatlonely/rdbx/log"
	"github.com/hatlonely/rdbx/ref"
	"github.com/hatlonely/rdbx/uid"
)

const Namespace = "github.com/hatlonely/rdbx/lock"

var (
	ErrNotFound = errors.New("lock not found")
	ErrOwner    = errors.New("malformed lock owner")
)

// ownerSeparator owner 的格式为 <key>||<随机串>，Restore 依此找回 key
const ownerSeparator = "||"

func init() {
	ref.MustRegister(Namespace, "RedisStore", NewRedisStoreWithOptions)
	ref.MustRegister(Namespace, "MemoryStore", NewMemoryStoreWithOptions)
}

// Store 锁状态的存储后端，所有方法都必须是原子的。
// 同一个 key 同一时刻只记录一个持有者，独占持有时其他 owner 无法获取；
// 共享持有时任何 owner 都可以覆盖
type Store interface {
	Acquire(ctx context.Context, key string, owner string, shared bool, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string, owner string) (bool, error)
	Share(ctx context.Context, key string, owner string) (bool, error)
	Extend(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Load 不存在时返回 ErrNotFound
	Load(ctx context.Context, key string) ([]byte, error)
}

type Options struct {
	// Store 存储后端，为空时使用进程内存
	Store *ref.TypeOptions `cfg:"store"`

	MinBackoff time.Duration `cfg:"minBackoff" def:"10ms"`
	MaxBackoff time.Duration `cfg:"maxBackoff" def:"500ms"`
}

// Coordinator 创建与恢复锁
type Coordinator struct {
	store      Store
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     log.Logger
}

func NewCoordinatorWithOptions(options *Options) (*Coordinator, error) {
	if options == nil {
		options = &Options{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if options.MaxBackoff < options.MinBackoff {
		return nil, errors.Errorf("maxBackoff %v is less than minBackoff %v", options.MaxBackoff, options.MinBackoff)
	}

	typeOptions := options.Store
	if typeOptions == nil || typeOptions.Type == "" {
		typeOptions = &ref.TypeOptions{Namespace: Namespace, Type: "MemoryStore"}
	}
	if typeOptions.Namespace == "" {
		typeOptions = &ref.TypeOptions{Namespace: Namespace, Type: typeOptions.Type, Options: typeOptions.Options}
	}
	obj, err := ref.NewWithOptions(typeOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "new lock store")
	}
	store, ok := obj.(Store)
	if !ok {
		return nil, errors.Errorf("%T is not a lock store", obj)
	}

	return &Coordinator{
		store:      store,
		minBackoff: options.MinBackoff,
		maxBackoff: options.MaxBackoff,
		logger:     log.Default(),
	}, nil
}

// NewCoordinator 使用给定的存储后端与默认退避
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		store:      store,
		minBackoff: 10 * time.Millisecond,
		maxBackoff: 500 * time.Millisecond,
		logger:     log.Default(),
	}
}

func (c *Coordinator) SetLogger(logger log.Logger) {
	c.logger = log.OrDefault(logger)
}

// Make 创建一把尚未获取的锁，ttl 为持有的最长时间
func (c *Coordinator) Make(key string, ttl time.Duration) *Lock {
	return &Lock{
		coordinator: c,
		key:         key,
		owner:       key + ownerSeparator + uid.NewULID(),
		ttl:         ttl,
	}
}

// Restore 按 owner 找回之前 Store 过的锁，owner 必须仍然持有记录
func (c *Coordinator) Restore(ctx context.Context, owner string) (*Lock, error) {
	key, _, ok := strings.Cut(owner, ownerSeparator)
	if !ok || key == "" {
		return nil, errors.WithMessagef(ErrOwner, "owner %q", owner)
	}

	data, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	var s state
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "msgpack.Unmarshal lock %s", key)
	}
	if s.Owner != owner {
		return nil, errors.WithMessagef(ErrNotFound, "lock %s is stored by another owner", key)
	}

	return &Lock{
		coordinator: c,
		key:         s.Key,
		owner:       s.Owner,
		ttl:         time.Duration(s.TTL) * time.Millisecond,
		shared:      s.Shared,
	}, nil
}

// state Store 持久化的锁信息
type state struct {
	Key    string `msgpack:"key"`
	Owner  string `msgpack:"owner"`
	TTL    int64  `msgpack:"ttl"`
	Shared bool   `msgpack:"shared"`
}

// Lock 一把命名锁，非并发安全，同一个 Lock 不应在多个 goroutine 中使用
type Lock struct {
	coordinator *Coordinator
	key         string
	owner       string
	ttl         time.Duration
	shared      bool
}

func (l *Lock) Key() string {
	return l.key
}

func (l *Lock) Owner() string {
	return l.owner
}

func (l *Lock) TTL() time.Duration {
	return l.ttl
}

func (l *Lock) Shared() bool {
	return l.shared
}

// Acquire 独占获取，在 wait 内按指数退避重试，wait 为 0 时只尝试一次
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) (bool, error) {
	return l.acquire(ctx, wait, false)
}

// AcquireShared 共享获取，只有被其他 owner 独占时失败
func (l *Lock) AcquireShared(ctx context.Context, wait time.Duration) (bool, error) {
	return l.acquire(ctx, wait, true)
}

func (l *Lock) acquire(ctx context.Context, wait time.Duration, shared bool) (bool, error) {
	c := l.coordinator
	deadline := time.Now().Add(wait)
	backoff := c.minBackoff

	for {
		ok, err := c.store.Acquire(ctx, l.key, l.owner, shared, l.ttl)
		if err != nil {
			return false, errors.WithMessagef(err, "acquire lock %s", l.key)
		}
		if ok {
			l.shared = shared
			c.logger.DebugContext(ctx, "lock acquired", "key", l.key, "owner", l.owner, "shared", shared)
			return true, nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return false, nil
		}
		if backoff > remain {
			backoff = remain
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Release 释放锁，锁已被他人持有或已过期时什么也不做
func (l *Lock) Release(ctx context.Context) error {
	ok, err := l.coordinator.store.Release(ctx, l.key, l.owner)
	if err != nil {
		return errors.WithMessagef(err, "release lock %s", l.key)
	}
	if !ok {
		l.coordinator.logger.WarnContext(ctx, "lock not held on release", "key", l.key, "owner", l.owner)
	}
	return nil
}

// MakeShare 把自己持有的独占锁降级为共享锁
func (l *Lock) MakeShare(ctx context.Context) (bool, error) {
	ok, err := l.coordinator.store.Share(ctx, l.key, l.owner)
	if err != nil {
		return false, errors.WithMessagef(err, "share lock %s", l.key)
	}
	if ok {
		l.shared = true
	}
	return ok, nil
}

// Extend 把自己持有的锁的过期时间重置为 ttl
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.coordinator.store.Extend(ctx, l.key, l.owner, ttl)
	if err != nil {
		return false, errors.WithMessagef(err, "extend lock %s", l.key)
	}
	if ok {
		l.ttl = ttl
	}
	return ok, nil
}

// Store 持久化锁信息，之后可以在其他进程中用 Owner() 调用 Coordinator.Restore 找回
func (l *Lock) Store(ctx context.Context) error {
	data, err := msgpack.Marshal(&state{
		Key:    l.key,
		Owner:  l.owner,
		TTL:    l.ttl.Milliseconds(),
		Shared: l.shared,
	})
	if err != nil {
		return errors.Wrapf(err, "msgpack.Marshal lock %s", l.key)
	}
	if err := l.coordinator.store.Save(ctx, l.key, data, l.ttl); err != nil {
		return errors.WithMessagef(err, "store lock %s", l.key)
	}
	return nil
}
