package lock

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/pkg/errors"
)

type MemoryStoreOptions struct {
	// Size 缓存大小，单位字节，freecache 最小 512KB
	Size int `cfg:"size" def:"1048576"`
}

// MemoryStore 进程内的锁存储，过期精度为秒，只在单进程内有效
type MemoryStore struct {
	mu    sync.Mutex
	cache *freecache.Cache
}

func NewMemoryStoreWithOptions(options *MemoryStoreOptions) *MemoryStore {
	return &MemoryStore{cache: freecache.NewCache(options.Size)}
}

func newMemoryStoreWithTimer(size int, timer freecache.Timer) *MemoryStore {
	return &MemoryStore{cache: freecache.NewCacheCustomTimer(size, timer)}
}

func (s *MemoryStore) Acquire(ctx context.Context, key string, owner string, shared bool, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, err := s.cache.Get([]byte(key)); err == nil {
		mode, holder, _ := strings.Cut(string(v), "|")
		if mode == "x" && holder != owner {
			return false, nil
		}
	}

	mode := "x"
	if shared {
		mode = "s"
	}
	return true, s.set(key, mode+"|"+owner, seconds(ttl))
}

func (s *MemoryStore) Release(ctx context.Context, key string, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held(key, owner) {
		return false, nil
	}
	return s.cache.Del([]byte(key)), nil
}

func (s *MemoryStore) Share(ctx context.Context, key string, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held(key, owner) {
		return false, nil
	}
	ttl, err := s.cache.TTL([]byte(key))
	if err != nil {
		return false, nil
	}
	return true, s.set(key, "s|"+owner, int(ttl))
}

func (s *MemoryStore) Extend(ctx context.Context, key string, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held(key, owner) {
		return false, nil
	}
	v, err := s.cache.Get([]byte(key))
	if err != nil {
		return false, nil
	}
	return true, s.set(key, string(v), seconds(ttl))
}

func (s *MemoryStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := s.cache.Set([]byte(key+":state"), data, seconds(ttl)); err != nil {
		return errors.Wrap(err, "freecache.Set failed")
	}
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.cache.Get([]byte(key + ":state"))
	if err == freecache.ErrNotFound {
		return nil, errors.WithMessagef(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "freecache.Get failed")
	}
	return data, nil
}

func (s *MemoryStore) held(key string, owner string) bool {
	v, err := s.cache.Get([]byte(key))
	if err != nil {
		return false
	}
	_, holder, _ := strings.Cut(string(v), "|")
	return holder == owner
}

func (s *MemoryStore) set(key string, value string, expire int) error {
	if err := s.cache.Set([]byte(key), []byte(value), expire); err != nil {
		return errors.Wrap(err, "freecache.Set failed")
	}
	return nil
}

// seconds 向上取整到秒，0 表示不过期
func seconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds()))
}
