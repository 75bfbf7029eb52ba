package uid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// Generator 生成字符串形式的唯一 ID
type Generator interface {
	Generate() string
}

// Options 生成器配置
type Options struct {
	// uuid 或 ulid
	Type string `cfg:"type" def:"uuid" validate:"omitempty,oneof=uuid ulid"`

	// UUID 版本：v1, v4, v6, v7
	Version string `cfg:"version" def:"v7" validate:"omitempty,oneof=v1 v4 v6 v7"`

	// UUID 是否保留连字符
	WithHyphens bool `cfg:"withHyphens"`
}

// NewGeneratorWithOptions 按配置创建生成器
func NewGeneratorWithOptions(options *Options) (Generator, error) {
	if options == nil {
		options = &Options{}
	}
	switch strings.ToLower(options.Type) {
	case "", "uuid":
		return NewUUIDGeneratorWithOptions(options), nil
	case "ulid":
		return NewULIDGenerator(), nil
	default:
		return nil, errors.Errorf("unknown generator type %q", options.Type)
	}
}

type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *Options) *UUIDGenerator {
	version := "v7"
	withHyphens := false
	if options != nil {
		if options.Version != "" {
			version = options.Version
		}
		withHyphens = options.WithHyphens
	}
	return &UUIDGenerator{version: version, withHyphens: withHyphens}
}

// New 按配置的版本生成 uuid.UUID
func (g *UUIDGenerator) New() uuid.UUID {
	switch g.version {
	case "v1":
		if u, err := uuid.NewUUID(); err == nil {
			return u
		}
	case "v6":
		if u, err := uuid.NewV6(); err == nil {
			return u
		}
	case "v7":
		if u, err := uuid.NewV7(); err == nil {
			return u
		}
	}
	return uuid.New()
}

func (g *UUIDGenerator) Generate() string {
	u := g.New()
	if g.withHyphens {
		return u.String()
	}
	return hex.EncodeToString(u[:])
}

// ULIDGenerator 生成单调递增的 ULID，可并发调用
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDGenerator) New() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// Generate 返回 26 位小写 ULID
func (g *ULIDGenerator) Generate() string {
	return strings.ToLower(g.New().String())
}

var (
	defaultUUID = NewUUIDGeneratorWithOptions(nil)
	defaultULID = NewULIDGenerator()
)

// NewUUID 生成 v7 UUID
func NewUUID() uuid.UUID {
	return defaultUUID.New()
}

// NewULID 生成小写 ULID 字符串
func NewULID() string {
	return defaultULID.Generate()
}
