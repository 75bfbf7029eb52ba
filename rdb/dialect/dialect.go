package dialect

import (
	"database/sql/driver"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
)

var (
	ErrUnknownDialect = errors.New("unknown dialect")
	ErrUnsupported    = errors.New("unsupported statement")
)

// Statement 渲染后的语句与按占位符顺序排列的参数
type Statement struct {
	SQL  string
	Args []field.FieldValue
	// Returning 语句以 RETURNING 返回行，需要用查询执行
	Returning bool
}

// Params 转换为 database/sql 接受的参数
func (s Statement) Params() []any {
	params := make([]any, len(s.Args))
	for i, a := range s.Args {
		params[i] = driver.Valuer(a)
	}
	return params
}

func (s Statement) String() string {
	return s.SQL
}

// Emitter 把方言无关的语句渲染成具体方言的 SQL
type Emitter interface {
	// Name 方言名称 sqlite / mysql / postgres
	Name() string
	// Driver database/sql 驱动名
	Driver() string
	// Quote 引用标识符，带点的标识符逐段引用
	Quote(ident string) string
	// Literal 把值渲染成 SQL 字面量，用于不能绑定参数的语句
	Literal(v field.FieldValue) string
	Build(b *query.Builder) (Statement, error)
	CreateTable(bp *schema.TableBlueprint) ([]Statement, error)
	AlterTable(bp *schema.TableBlueprint) ([]Statement, error)
	HasTable(table string) Statement
}

type registration struct {
	newFunc func() Emitter
	emitter Emitter
}

var registry sync.Map

func isSameFunc(func1, func2 any) bool {
	if func1 == nil || func2 == nil {
		return func1 == nil && func2 == nil
	}
	return reflect.ValueOf(func1).Pointer() == reflect.ValueOf(func2).Pointer()
}

// Register 注册方言，names 中的每个名字都指向同一个构造函数。
// 相同名字重复注册相同的函数会被忽略，注册不同的函数返回错误
func Register(newFunc func() Emitter, names ...string) error {
	if newFunc == nil {
		return errors.New("newFunc cannot be nil")
	}
	for _, name := range names {
		key := strings.ToLower(name)
		if existing, ok := registry.Load(key); ok {
			if isSameFunc(existing.(*registration).newFunc, newFunc) {
				continue
			}
			return errors.Errorf("dialect %s already registered with different function", name)
		}
		registry.Store(key, &registration{newFunc: newFunc, emitter: newFunc()})
	}
	return nil
}

func MustRegister(newFunc func() Emitter, names ...string) {
	if err := Register(newFunc, names...); err != nil {
		panic(err)
	}
}

// New 按名称获取方言，名称不区分大小写
func New(name string) (Emitter, error) {
	value, ok := registry.Load(strings.ToLower(name))
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownDialect, "dialect [%s]", name)
	}
	return value.(*registration).emitter, nil
}

// Names 已注册的全部名称
func Names() []string {
	var names []string
	registry.Range(func(key, value any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func init() {
	MustRegister(NewSQLite, SQLite, "sqlite3")
	MustRegister(NewMySQL, MySQL, "mariadb")
	MustRegister(NewPostgres, Postgres, "postgresql", "pgx", "pg")
}
