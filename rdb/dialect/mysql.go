package dialect

import (
	"strconv"
	"strings"

	"github.com/hatlonely/rdbx/rdb/schema"
)

type mysql struct{}

// NewMySQL MySQL/MariaDB 方言，驱动为 go-sql-driver/mysql
func NewMySQL() Emitter {
	return &emitter{f: mysql{}}
}

func (mysql) name() string             { return MySQL }
func (mysql) driver() string           { return "mysql" }
func (mysql) quoteChar() byte          { return '`' }
func (mysql) placeholder(n int) string { return "?" }
func (mysql) ignoreSuffix() string     { return "" }
func (mysql) returning() bool          { return false }
func (mysql) random() string           { return "RAND()" }
func (mysql) createView() string       { return "CREATE OR REPLACE VIEW" }

func (mysql) insertInto(ignore bool) string {
	if ignore {
		return "INSERT IGNORE INTO"
	}
	return "INSERT INTO"
}

// upsert MySQL 依据表上任意唯一键判断冲突，conflict 列不参与渲染
func (mysql) upsert(w *writer, columns []string, conflict []string, update []string) error {
	w.write(" ON DUPLICATE KEY UPDATE ")
	if len(update) == 0 {
		w.part(columns[0])
		w.write(" = ")
		w.part(columns[0])
		return nil
	}
	for i, c := range update {
		if i > 0 {
			w.write(", ")
		}
		w.part(c)
		w.write(" = VALUES(")
		w.part(c)
		w.write(")")
	}
	return nil
}

// mysqlMaxLimit MySQL 不支持单独的 OFFSET，用最大值代替不限制
const mysqlMaxLimit = "18446744073709551615"

func (mysql) limitOffset(limit *int64, offset *int64) string {
	var sb strings.Builder
	if limit != nil {
		sb.WriteString(" LIMIT " + strconv.FormatInt(*limit, 10))
	} else if offset != nil {
		sb.WriteString(" LIMIT " + mysqlMaxLimit)
	}
	if offset != nil {
		sb.WriteString(" OFFSET " + strconv.FormatInt(*offset, 10))
	}
	return sb.String()
}

func (mysql) boolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (mysql) binaryLiteral(b []byte) string {
	return "X'" + binaryHex(b) + "'"
}

func (mysql) escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "'", "''").Replace(s)
}

func (mysql) hasTable() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = "
}

func (m mysql) columnType(c *schema.ColumnBlueprint) string {
	switch c.Type {
	case schema.Boolean:
		return "TINYINT(1)"
	case schema.Integer:
		return "BIGINT"
	case schema.Char:
		return "CHAR(" + sizeOr(c.Length, 1) + ")"
	case schema.String:
		return "VARCHAR(" + sizeOr(c.Length, 255) + ")"
	case schema.Enum:
		options := make([]string, len(c.Options))
		for i, o := range c.Options {
			options[i] = "'" + m.escape(o) + "'"
		}
		return "ENUM(" + strings.Join(options, ", ") + ")"
	case schema.UUID:
		return "CHAR(36)"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.Datetime:
		return "DATETIME(6)"
	case schema.Timestamp:
		return "TIMESTAMP(6)"
	case schema.Float:
		return "DOUBLE"
	case schema.Number:
		return "DECIMAL(" + sizeOr(c.Precision, 20) + ", " + strconv.Itoa(c.Scale) + ")"
	case schema.JSON:
		return "JSON"
	case schema.Binary:
		return "LONGBLOB"
	}
	return "TEXT"
}

func (mysql) autoIncrement(c *schema.ColumnBlueprint) string {
	return "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
}

// defaultValue TEXT/JSON/BLOB 列只能使用表达式默认值
func (m mysql) defaultValue(c *schema.ColumnBlueprint) (string, bool) {
	d := c.DefaultValue
	if d == nil {
		return "", false
	}
	switch d.Kind {
	case schema.DefaultUUID:
		return "(UUID())", true
	case schema.DefaultULID:
		return "", false
	case schema.DefaultCreatedAt:
		return "CURRENT_TIMESTAMP(6)", true
	case schema.DefaultUpdatedAt:
		return "CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)", true
	}
	def, ok := commonDefault(m, c)
	if ok && (c.Type == schema.JSON || c.Type == schema.Text || c.Type == schema.Binary) && strings.HasPrefix(def, "'") {
		def = "(" + def + ")"
	}
	return def, ok
}

func (m mysql) createIndex(table string, idx *schema.IndexBlueprint) string {
	prefix := "CREATE INDEX "
	if idx.Kind == schema.IndexUnique {
		prefix = "CREATE UNIQUE INDEX "
	}
	return prefix + quotePart(m, idx.Name) + " ON " + quoteIdent(m, table) + " (" + quoteList(m, idx.Columns) + ")"
}

func (m mysql) dropIndex(table string, name string) string {
	return "DROP INDEX " + quotePart(m, name) + " ON " + quoteIdent(m, table)
}

// alterTable 外键与检查约束以独立的 ADD CONSTRAINT 追加
func (m mysql) alterTable(bp *schema.TableBlueprint) ([]string, error) {
	table := quoteIdent(m, bp.Name)
	var sqls []string
	for _, c := range bp.Columns {
		def := columnDefinition(m, c, c.IsPrimary)
		if c.IsUnique {
			def += " UNIQUE"
		}
		sqls = append(sqls, "ALTER TABLE "+table+" ADD COLUMN "+def)
		if c.ForeignKey != nil {
			sqls = append(sqls, "ALTER TABLE "+table+" ADD CONSTRAINT "+quotePart(m, bp.Name+"_"+c.Name+"_foreign")+" "+foreignKeyClause(m, c))
		}
		if check := checkExpr(m, c); check != "" {
			sqls = append(sqls, "ALTER TABLE "+table+" ADD CONSTRAINT "+quotePart(m, bp.Name+"_"+c.Name+"_check")+" CHECK ("+check+")")
		}
	}
	for _, idx := range bp.Indexes {
		if idx.Kind == schema.IndexPrimary && !idx.Drop {
			sqls = append(sqls, "ALTER TABLE "+table+" ADD PRIMARY KEY ("+quoteList(m, idx.Columns)+")")
		}
	}
	return sqls, nil
}
