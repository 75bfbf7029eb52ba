package cfg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

type loadOptions struct {
	envPrefix string
	environ   []string
}

type LoadOption func(*loadOptions)

// WithEnvPrefix 启用环境变量覆盖。
// PREFIX_KEY 覆盖根上的 key，PREFIX_SECTION__KEY 覆盖 section 下的 key。
func WithEnvPrefix(prefix string) LoadOption {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithEnviron 指定环境变量来源，默认为 os.Environ()
func WithEnviron(environ []string) LoadOption {
	return func(o *loadOptions) {
		o.environ = environ
	}
}

// Load 读取配置文件，按扩展名解码，然后绑定、填充默认值并校验
func Load(path string, out any, opts ...LoadOption) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return LoadBytes(data, filepath.Ext(path), out, opts...)
}

// LoadBytes 与 Load 相同，但直接从内存读取
func LoadBytes(data []byte, format string, out any, opts ...LoadOption) error {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	decoder, err := DecoderFor(format)
	if err != nil {
		return err
	}
	m, err := decoder.Decode(data)
	if err != nil {
		return err
	}

	if options.envPrefix != "" {
		environ := options.environ
		if environ == nil {
			environ = os.Environ()
		}
		applyEnv(m, options.envPrefix, environ)
	}

	if err := Bind(m, out); err != nil {
		return errors.WithMessage(err, "bind config")
	}
	if err := SetDefaults(out); err != nil {
		return errors.WithMessage(err, "set defaults")
	}
	if err := Validate(out); err != nil {
		return errors.WithMessage(err, "validate config")
	}
	return nil
}

func applyEnv(m map[string]any, prefix string, environ []string) {
	prefix = strings.ToUpper(prefix) + "_"
	for _, kv := range environ {
		idx := strings.Index(kv, "=")
		if idx <= 0 || !strings.HasPrefix(kv[:idx], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(kv[:idx], prefix))
		value := kv[idx+1:]

		path := strings.Split(key, "__")
		target := m
		for _, section := range path[:len(path)-1] {
			sub, ok := target[section].(map[string]any)
			if !ok {
				sub = map[string]any{}
				target[section] = sub
			}
			target = sub
		}
		target[path[len(path)-1]] = value
	}
}
