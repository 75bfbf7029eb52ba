package event

import "time"

// WriteKind 写操作类型
type WriteKind string

const (
	WriteInsert WriteKind = "insert"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
	WriteUpsert WriteKind = "upsert"
	WriteDDL    WriteKind = "ddl"
)

// SchemaWritten 在任意写语句成功后发布，用于让依赖表结构或数据的缓存失效
type SchemaWritten struct {
	Dialect string
	Kind    WriteKind
	Table   string
	At      time.Time
}

// IsDDL 表结构是否可能已改变
func (e SchemaWritten) IsDDL() bool {
	return e.Kind == WriteDDL
}
