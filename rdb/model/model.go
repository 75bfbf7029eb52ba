package model

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/schema"
)

var (
	// ErrDecode 行中的值与字段类型不匹配
	ErrDecode = errors.New("decode row failed")
	// ErrDefinition 结构体标签或关联定义错误
	ErrDefinition = errors.New("invalid model definition")
)

const (
	DefaultCreatedAt  = "created_at"
	DefaultUpdatedAt  = "updated_at"
	DefaultSoftDelete = "deleted_at"
)

// Tabler 自定义表名
type Tabler interface {
	TableName() string
}

// Morpher 自定义多态类型名，默认为结构体名
type Morpher interface {
	MorphName() string
}

// Field 结构体字段与列的映射
type Field struct {
	Name   string
	Column string
	Index  []int
	Type   reflect.Type

	ColumnType schema.ColumnType
	Size       int
	Nullable   bool
	Primary    bool
	Unique     bool
	Indexes    []string
	Uniques    []string
	Default    *schema.Default
	References *schema.ForeignKey

	SkipSelect bool
	SkipInsert bool
}

// AutoIncrement 由数据库生成的整数主键
func (f *Field) AutoIncrement() bool {
	return f.ColumnType == schema.AutoIncrementID
}

// Generated 插入时由应用生成的主键
func (f *Field) Generated() bool {
	return f.Default != nil && (f.Default.Kind == schema.DefaultULID || f.Default.Kind == schema.DefaultUUID)
}

// Schema 从结构体标签解析出的模型定义
//
// 支持的 tag 格式：
//   - `rdb:"column,primary,unique,index,nullable,size=255,type=text,default=0"`
//   - `rdb:"id,primary,ulid"` / `rdb:"id,primary,uuid"` 插入时生成主键
//   - `rdb:"column,skip_select"` / `rdb:"column,skip_insert"`
//   - `rdb:"prefix_,flatten"` 把嵌入结构体的列内联，列名加 prefix_ 前缀
//   - `rdb:"name,relation=has_many,foreign_key=company_id"` 关联，见 Relation
//   - `rdb:"-"` 忽略
type Schema struct {
	Type       reflect.Type
	Name       string
	Table      string
	PrimaryKey []string
	ForeignKey string
	MorphName  string

	Fields    []*Field
	Relations []*Relation

	CreatedAt  string
	UpdatedAt  string
	SoftDelete string

	byColumn   map[string]*Field
	byName     map[string]*Field
	byRelation map[string]*Relation
}

var schemas sync.Map

// Parse 解析 t 对应的模型，结果按类型缓存
func Parse(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if s, ok := schemas.Load(t); ok {
		return s.(*Schema), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.WithMessagef(ErrDefinition, "expected struct, got %s", t)
	}

	s, err := parse(t)
	if err != nil {
		return nil, err
	}
	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

func parse(t reflect.Type) (*Schema, error) {
	s := &Schema{
		Type:       t,
		Name:       t.Name(),
		byColumn:   map[string]*Field{},
		byName:     map[string]*Field{},
		byRelation: map[string]*Relation{},
	}
	zero := reflect.New(t).Interface()
	if tabler, ok := zero.(Tabler); ok {
		s.Table = tabler.TableName()
	} else {
		s.Table = inflection.Plural(SnakeCase(t.Name()))
	}
	s.MorphName = s.Name
	if morpher, ok := zero.(Morpher); ok {
		s.MorphName = morpher.MorphName()
	}

	if err := s.parseFields(t, nil, ""); err != nil {
		return nil, errors.WithMessagef(err, "model %s", t.Name())
	}
	for _, f := range s.Fields {
		if f.Primary {
			s.PrimaryKey = append(s.PrimaryKey, f.Column)
		}
	}
	if len(s.PrimaryKey) > 0 {
		s.ForeignKey = inflection.Singular(s.Table) + "_" + s.PrimaryKey[0]
	}
	if s.CreatedAt == "" && s.byColumn[DefaultCreatedAt] != nil {
		s.CreatedAt = DefaultCreatedAt
	}
	if s.UpdatedAt == "" && s.byColumn[DefaultUpdatedAt] != nil {
		s.UpdatedAt = DefaultUpdatedAt
	}
	if s.SoftDelete == "" && s.byColumn[DefaultSoftDelete] != nil {
		s.SoftDelete = DefaultSoftDelete
	}
	for _, name := range []string{s.CreatedAt, s.UpdatedAt} {
		if f := s.byColumn[name]; f != nil && f.Default == nil {
			f.Nullable = true
			kind := schema.DefaultCreatedAt
			if name == s.UpdatedAt {
				kind = schema.DefaultUpdatedAt
			}
			f.Default = &schema.Default{Kind: kind}
		}
	}
	if f := s.byColumn[s.SoftDelete]; f != nil {
		f.Nullable = true
	}
	return s, nil
}

func (s *Schema) parseFields(t reflect.Type, index []int, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("rdb")
		if tag == "-" {
			continue
		}
		path := append(append([]int{}, index...), i)
		name, opts := parseTag(tag)

		if rel, ok := opts["relation"]; ok {
			r, err := newRelation(s, sf, path, name, rel, opts)
			if err != nil {
				return err
			}
			if _, dup := s.byRelation[r.Name]; dup {
				return errors.WithMessagef(ErrDefinition, "duplicate relation %s", r.Name)
			}
			s.Relations = append(s.Relations, r)
			s.byRelation[r.Name] = r
			continue
		}

		_, flatten := opts["flatten"]
		if flatten || (sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct) {
			if sf.Type.Kind() != reflect.Struct {
				return errors.WithMessagef(ErrDefinition, "field %s: flatten requires a struct", sf.Name)
			}
			if err := s.parseFields(sf.Type, path, prefix+name); err != nil {
				return err
			}
			continue
		}

		if name == "" {
			name = SnakeCase(sf.Name)
		}
		f, err := newField(sf, path, prefix+name, opts)
		if err != nil {
			return errors.WithMessagef(err, "field %s", sf.Name)
		}
		if _, dup := s.byColumn[f.Column]; dup {
			return errors.WithMessagef(ErrDefinition, "duplicate column %s", f.Column)
		}
		s.Fields = append(s.Fields, f)
		s.byColumn[f.Column] = f
		s.byName[f.Name] = f

		if _, ok := opts["created"]; ok {
			s.CreatedAt = f.Column
		}
		if _, ok := opts["updated"]; ok {
			s.UpdatedAt = f.Column
		}
		if _, ok := opts["soft_delete"]; ok {
			s.SoftDelete = f.Column
		}
	}
	return nil
}

func parseTag(tag string) (string, map[string]string) {
	opts := map[string]string{}
	if tag == "" {
		return "", opts
	}
	parts := strings.Split(tag, ",")
	name := ""
	if !strings.Contains(parts[0], "=") {
		name = strings.TrimSpace(parts[0])
		parts = parts[1:]
	}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		} else {
			opts[part] = ""
		}
	}
	return name, opts
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	uuidType  = reflect.TypeOf(uuid.UUID{})
	bytesType = reflect.TypeOf([]byte(nil))
)

var columnTypes = map[string]schema.ColumnType{
	"string":    schema.String,
	"char":      schema.Char,
	"text":      schema.Text,
	"integer":   schema.Integer,
	"int":       schema.Integer,
	"float":     schema.Float,
	"number":    schema.Number,
	"bool":      schema.Boolean,
	"boolean":   schema.Boolean,
	"date":      schema.Date,
	"time":      schema.Time,
	"datetime":  schema.Datetime,
	"timestamp": schema.Timestamp,
	"json":      schema.JSON,
	"binary":    schema.Binary,
	"uuid":      schema.UUID,
}

func newField(sf reflect.StructField, index []int, column string, opts map[string]string) (*Field, error) {
	f := &Field{
		Name:   sf.Name,
		Column: column,
		Index:  index,
		Type:   sf.Type,
	}
	t := sf.Type
	if t.Kind() == reflect.Ptr {
		f.Nullable = true
		t = t.Elem()
	}
	f.ColumnType = inferColumnType(t)

	for k, v := range opts {
		switch k {
		case "primary", "pk":
			f.Primary = true
		case "unique":
			if v == "" {
				f.Unique = true
			} else {
				f.Uniques = append(f.Uniques, v)
			}
		case "index":
			if v == "" {
				v = "idx_" + column
			}
			f.Indexes = append(f.Indexes, v)
		case "nullable":
			f.Nullable = true
		case "not_null", "required":
			f.Nullable = false
		case "size":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, errors.WithMessagef(ErrDefinition, "invalid size %q", v)
			}
			f.Size = n
		case "type":
			ct, ok := columnTypes[v]
			if !ok {
				return nil, errors.WithMessagef(ErrDefinition, "unknown column type %q", v)
			}
			f.ColumnType = ct
		case "default":
			f.Default = &schema.Default{Kind: schema.DefaultCustom, Value: strings.Trim(v, `'"`)}
		case "ulid":
			f.ColumnType = schema.Char
			f.Size = schema.ULIDLength
			f.Default = &schema.Default{Kind: schema.DefaultULID}
		case "uuid":
			f.ColumnType = schema.UUID
			f.Default = &schema.Default{Kind: schema.DefaultUUID}
		case "references":
			table, col, ok := strings.Cut(v, ".")
			if !ok {
				col = "id"
			}
			f.References = &schema.ForeignKey{Table: table, Column: col}
		case "skip_select":
			f.SkipSelect = true
		case "skip_insert":
			f.SkipInsert = true
		}
	}
	if v, ok := opts["on_delete"]; ok {
		if f.References == nil {
			return nil, errors.WithMessage(ErrDefinition, "on_delete requires references")
		}
		f.References.OnDelete = schema.OnDelete(strings.ToUpper(strings.ReplaceAll(v, "_", " ")))
	}
	if _, explicit := opts["type"]; f.Primary && !explicit && f.ColumnType == schema.Integer && f.Default == nil {
		f.ColumnType = schema.AutoIncrementID
	}
	return f, nil
}

func inferColumnType(t reflect.Type) schema.ColumnType {
	switch {
	case t == timeType:
		return schema.Timestamp
	case t == uuidType:
		return schema.UUID
	case t == bytesType:
		return schema.Binary
	}
	switch t.Kind() {
	case reflect.String:
		return schema.String
	case reflect.Bool:
		return schema.Boolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return schema.Integer
	case reflect.Float32, reflect.Float64:
		return schema.Float
	}
	return schema.JSON
}

// Field 按列名或字段名查找
func (s *Schema) Field(name string) (*Field, bool) {
	if f, ok := s.byColumn[name]; ok {
		return f, true
	}
	f, ok := s.byName[name]
	return f, ok
}

func (s *Schema) Relation(name string) (*Relation, bool) {
	r, ok := s.byRelation[name]
	return r, ok
}

// Columns 全部列
func (s *Schema) Columns() []string {
	columns := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		columns = append(columns, f.Column)
	}
	return columns
}

// SelectColumns 查询时选出的列，不含 skip_select
func (s *Schema) SelectColumns() []string {
	columns := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.SkipSelect {
			columns = append(columns, f.Column)
		}
	}
	return columns
}

// Blueprint 按字段定义填充建表蓝图
func (s *Schema) Blueprint(bp *schema.TableBlueprint) {
	for _, f := range s.Fields {
		c := bp.Column(f.Column, f.ColumnType)
		if f.Size > 0 {
			c.SetLength(f.Size)
		}
		if f.Primary && f.ColumnType != schema.AutoIncrementID && len(s.PrimaryKey) == 1 {
			c.Primary()
		}
		if f.Nullable {
			c.SetNullable()
		}
		if f.Unique {
			c.Unique()
		}
		if f.Default != nil {
			if f.Default.Kind == schema.DefaultCustom {
				c.Default(f.Default.Value)
			} else {
				c.DefaultOf(f.Default.Kind)
			}
		}
		if f.References != nil {
			c.References(f.References.Table, f.References.Column).OnDelete(f.References.OnDelete)
		}
	}
	if len(s.PrimaryKey) > 1 {
		bp.PrimaryIndex(s.PrimaryKey...)
	}
	plain, unique := map[string][]string{}, map[string][]string{}
	var plainNames, uniqueNames []string
	for _, f := range s.Fields {
		for _, name := range f.Indexes {
			if _, ok := plain[name]; !ok {
				plainNames = append(plainNames, name)
			}
			plain[name] = append(plain[name], f.Column)
		}
		for _, name := range f.Uniques {
			if _, ok := unique[name]; !ok {
				uniqueNames = append(uniqueNames, name)
			}
			unique[name] = append(unique[name], f.Column)
		}
	}
	for _, name := range plainNames {
		bp.NamedIndex(name, schema.IndexPlain, plain[name]...)
	}
	for _, name := range uniqueNames {
		bp.NamedIndex(name, schema.IndexUnique, unique[name]...)
	}
}

// SnakeCase UserProfile -> user_profile，连续大写视为一个词：HTTPServer -> http_server
func SnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
