package field

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// MarshalJSON Object 的键按字典序输出，结果是规范 JSON
func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case KindNotSet, KindNull:
		return []byte("null"), nil
	case KindBinary:
		return json.Marshal(hex.EncodeToString(f.v.([]byte)))
	case KindUUID:
		return json.Marshal(f.v.(uuid.UUID).String())
	case KindDateTime, KindTimestamp:
		return json.Marshal(f.v.(time.Time).Format(time.RFC3339Nano))
	case KindDate, KindTime:
		return json.Marshal(f.String())
	case KindArray:
		items := f.v.([]FieldValue)
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		m := f.v.(map[string]FieldValue)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return json.Marshal(f.v)
}

func (f *FieldValue) UnmarshalJSON(data []byte) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var raw any
	if err := d.Decode(&raw); err != nil {
		return err
	}
	*f = fromJSONValue(raw)
	return nil
}

// FromJSON 解析 JSON 文本，非法输入返回 NotSet
func FromJSON(data []byte) FieldValue {
	var f FieldValue
	if err := f.UnmarshalJSON(data); err != nil {
		return NotSet()
	}
	return f
}

func fromJSONValue(raw any) FieldValue {
	switch v := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Boolean(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return I64(i)
		}
		f, _ := v.Float64()
		return F64(f)
	case string:
		return String(v)
	case []any:
		items := make([]FieldValue, len(v))
		for i, item := range v {
			items[i] = fromJSONValue(item)
		}
		return Array(items...)
	case map[string]any:
		m := make(map[string]FieldValue, len(v))
		for k, item := range v {
			m[k] = fromJSONValue(item)
		}
		return Object(m)
	}
	return NotSet()
}
