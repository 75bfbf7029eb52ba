package field

// Kind FieldValue 的变体
type Kind uint8

const (
	// KindNotSet 未设置，零值 FieldValue 即为 NotSet，与 Null 不同
	KindNotSet Kind = iota
	KindNull
	KindU64
	KindU32
	KindI64
	KindI32
	KindI16
	KindI8
	KindF64
	KindString
	KindBoolean
	KindBinary
	KindUUID
	KindDateTime
	KindTimestamp
	KindDate
	KindTime
	KindArray
	KindObject
)

var kindNames = [...]string{
	KindNotSet:    "not_set",
	KindNull:      "null",
	KindU64:       "u64",
	KindU32:       "u32",
	KindI64:       "i64",
	KindI32:       "i32",
	KindI16:       "i16",
	KindI8:        "i8",
	KindF64:       "f64",
	KindString:    "string",
	KindBoolean:   "boolean",
	KindBinary:    "binary",
	KindUUID:      "uuid",
	KindDateTime:  "datetime",
	KindTimestamp: "timestamp",
	KindDate:      "date",
	KindTime:      "time",
	KindArray:     "array",
	KindObject:    "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsInteger 是否为有符号或无符号整数
func (k Kind) IsInteger() bool {
	return k >= KindU64 && k <= KindI8
}

func (k Kind) IsUnsigned() bool {
	return k == KindU64 || k == KindU32
}

// IsNumeric 整数或浮点数
func (k Kind) IsNumeric() bool {
	return k.IsInteger() || k == KindF64
}

// IsTemporal 时间类变体
func (k Kind) IsTemporal() bool {
	return k >= KindDateTime && k <= KindTime
}
