package lock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStoreOptions struct {
	// host:port 地址
	Endpoint string `cfg:"endpoint"`

	// 集群节点的 host:port 地址列表，Endpoint 为空时使用
	Endpoints []string `cfg:"endpoints"`

	// 锁与锁状态的 key 前缀
	Prefix string `cfg:"prefix" def:"rdbx:lock:"`

	Username string `cfg:"username"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db" def:"0"`

	// 放弃前的最大重试次数，-1 禁用重试
	MaxRetries      int           `cfg:"maxRetries" def:"3"`
	MinRetryBackoff time.Duration `cfg:"minRetryBackoff" def:"8ms"`
	MaxRetryBackoff time.Duration `cfg:"maxRetryBackoff" def:"512ms"`

	DialTimeout  time.Duration `cfg:"dialTimeout" def:"5s"`
	ReadTimeout  time.Duration `cfg:"readTimeout" def:"3s"`
	WriteTimeout time.Duration `cfg:"writeTimeout" def:"3s"`

	PoolSize     int           `cfg:"poolSize" def:"10"`
	PoolTimeout  time.Duration `cfg:"poolTimeout" def:"4s"`
	MinIdleConns int           `cfg:"minIdleConns" def:"0"`
	MaxRedirects int           `cfg:"maxRedirects" def:"3"`
}

// 锁的值为 <模式>|<owner>，模式 x 为独占，s 为共享。ttl 不大于 0 时不过期
var (
	acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v then
	local mode = string.sub(v, 1, 1)
	local holder = string.sub(v, 3)
	if mode == 'x' and holder ~= ARGV[2] then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2])
end
return 1
`)

	releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v ~= 'x|' .. ARGV[1] and v ~= 's|' .. ARGV[1] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

	shareScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v ~= 'x|' .. ARGV[1] and v ~= 's|' .. ARGV[1] then
	return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], 's|' .. ARGV[1], 'PX', ttl)
else
	redis.call('SET', KEYS[1], 's|' .. ARGV[1])
end
return 1
`)

	extendScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v ~= 'x|' .. ARGV[1] and v ~= 's|' .. ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`)
)

type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStoreWithOptions(options *RedisStoreOptions) (*RedisStore, error) {
	var client redis.Cmdable
	if options.Endpoint != "" {
		client = redis.NewClient(&redis.Options{
			Addr:            options.Endpoint,
			Username:        options.Username,
			Password:        options.Password,
			DB:              options.DB,
			MaxRetries:      options.MaxRetries,
			MinRetryBackoff: options.MinRetryBackoff,
			MaxRetryBackoff: options.MaxRetryBackoff,
			DialTimeout:     options.DialTimeout,
			ReadTimeout:     options.ReadTimeout,
			WriteTimeout:    options.WriteTimeout,
			PoolSize:        options.PoolSize,
			PoolTimeout:     options.PoolTimeout,
			MinIdleConns:    options.MinIdleConns,
		})
	} else if len(options.Endpoints) > 0 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           options.Endpoints,
			Username:        options.Username,
			Password:        options.Password,
			MaxRetries:      options.MaxRetries,
			MinRetryBackoff: options.MinRetryBackoff,
			MaxRetryBackoff: options.MaxRetryBackoff,
			DialTimeout:     options.DialTimeout,
			ReadTimeout:     options.ReadTimeout,
			WriteTimeout:    options.WriteTimeout,
			PoolSize:        options.PoolSize,
			PoolTimeout:     options.PoolTimeout,
			MinIdleConns:    options.MinIdleConns,
			MaxRedirects:    options.MaxRedirects,
		})
	} else {
		return nil, errors.New("endpoint or endpoints is required")
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.WithMessage(err, "redis.client.Ping failed")
	}

	return &RedisStore{client: client, prefix: options.Prefix}, nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string, owner string, shared bool, ttl time.Duration) (bool, error) {
	mode := "x"
	if shared {
		mode = "s"
	}
	return s.run(ctx, acquireScript, key, mode, owner, ttl.Milliseconds())
}

func (s *RedisStore) Release(ctx context.Context, key string, owner string) (bool, error) {
	return s.run(ctx, releaseScript, key, owner)
}

func (s *RedisStore) Share(ctx context.Context, key string, owner string) (bool, error) {
	return s.run(ctx, shareScript, key, owner)
}

func (s *RedisStore) Extend(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	return s.run(ctx, extendScript, key, owner, ttl.Milliseconds())
}

func (s *RedisStore) run(ctx context.Context, script *redis.Script, key string, args ...any) (bool, error) {
	n, err := script.Run(ctx, s.client, []string{s.prefix + key}, args...).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis.Script.Run failed")
	}
	return n == 1, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.stateKey(key), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis.client.Set failed")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.stateKey(key)).Bytes()
	if err == redis.Nil {
		return nil, errors.WithMessagef(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis.client.Get failed")
	}
	return data, nil
}

func (s *RedisStore) stateKey(key string) string {
	return s.prefix + key + ":state"
}

// Close 关闭底层客户端
func (s *RedisStore) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
