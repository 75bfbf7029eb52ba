package dialect

import (
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type postgres struct{}

// NewPostgres Postgres 方言，驱动为 jackc/pgx 的 database/sql 适配
func NewPostgres() Emitter {
	return &emitter{f: postgres{}}
}

func (postgres) name() string             { return Postgres }
func (postgres) driver() string           { return "pgx" }
func (postgres) quoteChar() byte          { return '"' }
func (postgres) placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgres) insertInto(bool) string   { return "INSERT INTO" }
func (postgres) ignoreSuffix() string     { return " ON CONFLICT DO NOTHING" }
func (postgres) returning() bool          { return true }
func (postgres) random() string           { return "RANDOM()" }
func (postgres) createView() string       { return "CREATE OR REPLACE VIEW" }
func (postgres) escape(s string) string   { return strings.ReplaceAll(s, "'", "''") }

func (postgres) binaryLiteral(b []byte) string {
	return "'\\x" + binaryHex(b) + "'::bytea"
}

func (postgres) upsert(w *writer, columns []string, conflict []string, update []string) error {
	return onConflict(w, "EXCLUDED", conflict, update)
}

func (postgres) limitOffset(limit *int64, offset *int64) string {
	var sb strings.Builder
	if limit != nil {
		sb.WriteString(" LIMIT " + strconv.FormatInt(*limit, 10))
	}
	if offset != nil {
		sb.WriteString(" OFFSET " + strconv.FormatInt(*offset, 10))
	}
	return sb.String()
}

func (postgres) boolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (postgres) hasTable() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = "
}

func (postgres) columnType(c *schema.ColumnBlueprint) string {
	switch c.Type {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "BIGINT"
	case schema.Char:
		return "CHAR(" + sizeOr(c.Length, 1) + ")"
	case schema.String:
		return "VARCHAR(" + sizeOr(c.Length, 255) + ")"
	case schema.Enum:
		return "VARCHAR(255)"
	case schema.UUID:
		return "UUID"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Datetime:
		return "TIMESTAMP"
	case schema.Timestamp:
		return "TIMESTAMPTZ"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Number:
		if c.Precision > 0 {
			return "NUMERIC(" + strconv.Itoa(c.Precision) + ", " + strconv.Itoa(c.Scale) + ")"
		}
		return "NUMERIC"
	case schema.JSON:
		return "JSONB"
	case schema.Binary:
		return "BYTEA"
	}
	return "TEXT"
}

func (postgres) autoIncrement(c *schema.ColumnBlueprint) string {
	return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (p postgres) defaultValue(c *schema.ColumnBlueprint) (string, bool) {
	if c.DefaultValue == nil {
		return "", false
	}
	switch c.DefaultValue.Kind {
	case schema.DefaultUUID:
		return "gen_random_uuid()", true
	case schema.DefaultULID:
		return "", false
	}
	return commonDefault(p, c)
}

func (p postgres) createIndex(table string, idx *schema.IndexBlueprint) string {
	prefix := "CREATE INDEX IF NOT EXISTS "
	if idx.Kind == schema.IndexUnique {
		prefix = "CREATE UNIQUE INDEX IF NOT EXISTS "
	}
	return prefix + quotePart(p, idx.Name) + " ON " + quoteIdent(p, table) + " (" + quoteList(p, idx.Columns) + ")"
}

func (p postgres) dropIndex(table string, name string) string {
	return "DROP INDEX IF EXISTS " + quotePart(p, name)
}

func (p postgres) alterTable(bp *schema.TableBlueprint) ([]string, error) {
	table := quoteIdent(p, bp.Name)
	var sqls []string
	for _, c := range bp.Columns {
		def := addColumn(p, c)
		if c.IsUnique {
			def += " UNIQUE"
		}
		sqls = append(sqls, "ALTER TABLE "+table+" ADD COLUMN IF NOT EXISTS "+def)
	}
	for _, idx := range bp.Indexes {
		if idx.Kind == schema.IndexPrimary && !idx.Drop {
			sqls = append(sqls, "ALTER TABLE "+table+" ADD PRIMARY KEY ("+quoteList(p, idx.Columns)+")")
		}
	}
	return sqls, nil
}
