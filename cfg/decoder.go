package cfg

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Decoder 把配置文件内容解码为通用的 map 结构
type Decoder interface {
	Decode(data []byte) (map[string]any, error)
}

// DecoderFor 根据文件扩展名或格式名选择解码器
func DecoderFor(format string) (Decoder, error) {
	if ext := filepath.Ext(format); ext != "" {
		format = ext
	}
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	switch format {
	case "yaml", "yml":
		return YAMLDecoder{}, nil
	case "json":
		return JSONDecoder{}, nil
	case "toml":
		return TOMLDecoder{}, nil
	case "ini":
		return INIDecoder{}, nil
	default:
		return nil, errors.Errorf("unsupported config format: %q", format)
	}
}

type YAMLDecoder struct{}

func (YAMLDecoder) Decode(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	return result, nil
}

type JSONDecoder struct{}

func (JSONDecoder) Decode(data []byte) (map[string]any, error) {
	result := map[string]any{}
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&result); err != nil {
		return nil, errors.Wrap(err, "decode json")
	}
	return result, nil
}

type TOMLDecoder struct{}

func (TOMLDecoder) Decode(data []byte) (map[string]any, error) {
	result := map[string]any{}
	if _, err := toml.Decode(string(data), &result); err != nil {
		return nil, errors.Wrap(err, "decode toml")
	}
	return result, nil
}

// INIDecoder 默认 section 的键放在根上，其余 section 作为子 map
type INIDecoder struct{}

func (INIDecoder) Decode(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "decode ini")
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			sub := map[string]any{}
			result[section.Name()] = sub
			target = sub
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.Value()
		}
	}
	return result, nil
}
