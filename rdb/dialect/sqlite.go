package dialect

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type sqlite struct{}

// NewSQLite SQLite 方言，驱动为 mattn/go-sqlite3
func NewSQLite() Emitter {
	return &emitter{f: sqlite{}}
}

func (sqlite) name() string             { return SQLite }
func (sqlite) driver() string           { return "sqlite3" }
func (sqlite) quoteChar() byte          { return '"' }
func (sqlite) placeholder(n int) string { return "?" }
func (sqlite) ignoreSuffix() string     { return "" }
func (sqlite) returning() bool          { return true }
func (sqlite) random() string           { return "RANDOM()" }
func (sqlite) createView() string       { return "CREATE VIEW IF NOT EXISTS" }

func (sqlite) insertInto(ignore bool) string {
	if ignore {
		return "INSERT OR IGNORE INTO"
	}
	return "INSERT INTO"
}

func (s sqlite) upsert(w *writer, columns []string, conflict []string, update []string) error {
	return onConflict(w, "excluded", conflict, update)
}

// onConflict SQLite 与 Postgres 共用的 ON CONFLICT 子句
func onConflict(w *writer, excluded string, conflict []string, update []string) error {
	if len(conflict) == 0 {
		return errors.New("upsert requires conflict columns")
	}
	w.write(" ON CONFLICT (")
	w.identList(conflict)
	w.write(")")
	if len(update) == 0 {
		w.write(" DO NOTHING")
		return nil
	}
	w.write(" DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			w.write(", ")
		}
		w.part(c)
		w.write(" = ", excluded, ".")
		w.part(c)
	}
	return nil
}

// limitOffset SQLite 的 OFFSET 必须跟在 LIMIT 之后，-1 表示不限制
func (sqlite) limitOffset(limit *int64, offset *int64) string {
	var sb strings.Builder
	if limit != nil {
		sb.WriteString(" LIMIT " + strconv.FormatInt(*limit, 10))
	} else if offset != nil {
		sb.WriteString(" LIMIT -1")
	}
	if offset != nil {
		sb.WriteString(" OFFSET " + strconv.FormatInt(*offset, 10))
	}
	return sb.String()
}

func (sqlite) boolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (sqlite) binaryLiteral(b []byte) string {
	return "X'" + binaryHex(b) + "'"
}

func (sqlite) escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (sqlite) hasTable() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name = "
}

func (sqlite) columnType(c *schema.ColumnBlueprint) string {
	switch c.Type {
	case schema.Boolean, schema.Integer:
		return "INTEGER"
	case schema.Char, schema.String:
		return "VARCHAR(" + sizeOr(c.Length, 255) + ")"
	case schema.UUID:
		return "CHAR(36)"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Datetime:
		return "DATETIME"
	case schema.Timestamp:
		return "TIMESTAMP"
	case schema.Float:
		return "REAL"
	case schema.Number:
		return "NUMERIC"
	case schema.Binary:
		return "BLOB"
	}
	return "TEXT"
}

func (sqlite) autoIncrement(c *schema.ColumnBlueprint) string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"
}

const sqliteUUID = "lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' || substr(lower(hex(randomblob(2))), 2) || '-' || substr('89ab', abs(random()) % 4 + 1, 1) || substr(lower(hex(randomblob(2))), 2) || '-' || lower(hex(randomblob(6)))"

func (s sqlite) defaultValue(c *schema.ColumnBlueprint) (string, bool) {
	if c.DefaultValue == nil {
		return "", false
	}
	switch c.DefaultValue.Kind {
	case schema.DefaultUUID:
		return "(" + sqliteUUID + ")", true
	case schema.DefaultULID:
		return "", false
	}
	return commonDefault(s, c)
}

func (s sqlite) createIndex(table string, idx *schema.IndexBlueprint) string {
	prefix := "CREATE INDEX IF NOT EXISTS "
	if idx.Kind == schema.IndexUnique {
		prefix = "CREATE UNIQUE INDEX IF NOT EXISTS "
	}
	return prefix + quotePart(s, idx.Name) + " ON " + quoteIdent(s, table) + " (" + quoteList(s, idx.Columns) + ")"
}

func (s sqlite) dropIndex(table string, name string) string {
	return "DROP INDEX IF EXISTS " + quotePart(s, name)
}

// alterTable SQLite 只能逐列 ADD COLUMN，唯一约束改为唯一索引
func (s sqlite) alterTable(bp *schema.TableBlueprint) ([]string, error) {
	if hasPrimaryIndex(bp) {
		return nil, errors.WithMessage(ErrUnsupported, "sqlite cannot add primary key to an existing table")
	}
	var sqls []string
	var uniques []string
	for _, c := range bp.Columns {
		if c.Type == schema.AutoIncrementID || c.IsPrimary {
			return nil, errors.WithMessagef(ErrUnsupported, "sqlite cannot add primary key column %s", c.Name)
		}
		sqls = append(sqls, "ALTER TABLE "+quoteIdent(s, bp.Name)+" ADD COLUMN "+addColumn(s, c))
		if c.IsUnique {
			uniques = append(uniques, s.createIndex(bp.Name, &schema.IndexBlueprint{
				Name:    schema.IndexName(bp.Name, schema.IndexUnique, []string{c.Name}),
				Columns: []string{c.Name},
				Kind:    schema.IndexUnique,
			}))
		}
	}
	return append(sqls, uniques...), nil
}

// addColumn ADD COLUMN 使用的列定义，外键与检查约束内联
func addColumn(f flavor, c *schema.ColumnBlueprint) string {
	def := columnDefinition(f, c, c.IsPrimary)
	if c.ForeignKey != nil {
		def += " REFERENCES " + quoteIdent(f, c.ForeignKey.Table) + " (" + quotePart(f, c.ForeignKey.Column) + ")"
		if c.ForeignKey.OnDelete != schema.NoAction {
			def += " ON DELETE " + string(c.ForeignKey.OnDelete)
		}
	}
	if check := checkExpr(f, c); check != "" {
		def += " CHECK (" + check + ")"
	}
	return def
}
