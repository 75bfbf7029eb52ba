package field

import (
	"database/sql/driver"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Value 实现 driver.Valuer，SQL 参数统一经由此处绑定
func (f FieldValue) Value() (driver.Value, error) {
	switch f.kind {
	case KindNotSet, KindNull:
		return nil, nil
	case KindU64:
		u := f.v.(uint64)
		// 超出 int64 的值以十进制字符串绑定，适用于 BIGINT UNSIGNED 和 NUMERIC 列，
		// sqlite 会按 REAL 存储而丢失精度
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10), nil
		}
		return int64(u), nil
	case KindU32, KindI64, KindI32, KindI16, KindI8:
		return f.int64(), nil
	case KindF64:
		return f.v.(float64), nil
	case KindString:
		return f.v.(string), nil
	case KindBoolean:
		return f.v.(bool), nil
	case KindBinary:
		return f.v.([]byte), nil
	case KindUUID:
		return f.v.(uuid.UUID).String(), nil
	case KindDateTime, KindTimestamp:
		return f.v.(time.Time), nil
	case KindDate:
		return f.v.(time.Time).Format(DateLayout), nil
	case KindTime:
		return f.v.(time.Time).Format(TimeLayout), nil
	case KindArray, KindObject:
		data, err := f.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return nil, nil
}

// FromDriver 把驱动返回的原生值映射为唯一的变体。
// dbType 为 ColumnType.DatabaseTypeName()，用于区分文本与二进制、日期与时间等。
func FromDriver(src any, dbType string) FieldValue {
	dbType = strings.ToUpper(dbType)
	if i := strings.IndexByte(dbType, '('); i >= 0 {
		dbType = dbType[:i]
	}

	switch v := src.(type) {
	case nil:
		return Null()
	case int64:
		if isBoolType(dbType) {
			return Boolean(v != 0)
		}
		if strings.HasPrefix(dbType, "UNSIGNED") && v >= 0 {
			return U64(uint64(v))
		}
		return I64(v)
	case uint64:
		return U64(v)
	case float64:
		return F64(v)
	case float32:
		return F64(float64(v))
	case bool:
		return Boolean(v)
	case time.Time:
		return temporal(v, dbType)
	case [16]byte:
		return UUID(uuid.UUID(v))
	case string:
		return fromText(v, dbType)
	case []byte:
		if isBinaryType(dbType) {
			return Binary(v)
		}
		return fromText(string(v), dbType)
	}
	return From(src)
}

func temporal(t time.Time, dbType string) FieldValue {
	switch dbType {
	case "DATE":
		return Date(t)
	case "TIME", "TIMETZ":
		return Time(t)
	case "TIMESTAMP", "TIMESTAMPTZ":
		return Timestamp(t)
	}
	return DateTime(t)
}

func fromText(s string, dbType string) FieldValue {
	switch {
	case dbType == "UUID":
		if u, err := uuid.Parse(s); err == nil {
			return UUID(u)
		}
	case dbType == "JSON" || dbType == "JSONB":
		if parsed := FromJSON([]byte(s)); !parsed.IsNotSet() {
			return parsed
		}
	case isBoolType(dbType):
		if b, err := strconv.ParseBool(s); err == nil {
			return Boolean(b)
		}
	case isIntegerType(dbType):
		if strings.HasPrefix(dbType, "UNSIGNED") {
			if u, err := strconv.ParseUint(s, 10, 64); err == nil {
				return U64(u)
			}
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return I64(i)
		}
	case isFloatType(dbType):
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return F64(f)
		}
	case dbType == "DATE" || dbType == "DATETIME" || dbType == "TIMESTAMP" || dbType == "TIME":
		if t, ok := parseTime(s); ok {
			return temporal(t, dbType)
		}
	}
	return String(s)
}

func isBoolType(dbType string) bool {
	return dbType == "BOOL" || dbType == "BOOLEAN"
}

func isBinaryType(dbType string) bool {
	switch dbType {
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA", "BIT":
		return true
	}
	return false
}

func isIntegerType(dbType string) bool {
	switch strings.TrimPrefix(dbType, "UNSIGNED ") {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return true
	}
	return false
}

func isFloatType(dbType string) bool {
	switch dbType {
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC", "FLOAT4", "FLOAT8":
		return true
	}
	return false
}
