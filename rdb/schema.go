package rdb

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/event"
	"github.com/hatlonely/rdbx/rdb/dialect"
	"github.com/hatlonely/rdbx/rdb/query"
	"github.com/hatlonely/rdbx/rdb/schema"
)

func tableCacheKey(name string, table string) []byte {
	return []byte(name + "\x00" + table)
}

// HasTable 表是否存在，结果按方言缓存，任意 DDL 之后失效
func (m *Manager) HasTable(ctx context.Context, table string) (bool, error) {
	p, err := m.pool(true)
	if err != nil {
		return false, err
	}
	key := tableCacheKey(p.Name(), table)
	if v, err := m.tables.Get(key); err == nil && len(v) == 1 {
		return v[0] == 1, nil
	}

	rows, err := m.queryStatement(ctx, p, "has_table", table, p.Dialect.HasTable(table))
	if err != nil {
		return false, err
	}
	exists := len(rows) > 0
	v := []byte{0}
	if exists {
		v[0] = 1
	}
	ttl := int(m.tableTTL / time.Second)
	if ttl <= 0 {
		ttl = 1
	}
	if err := m.tables.Set(key, v, ttl); err != nil {
		m.logger.WarnContext(ctx, "cache has table failed", "table", table, "error", err.Error())
	}
	return exists, nil
}

// execDDL 依次执行 DDL 语句，全部成功后发布一次事件
func (m *Manager) execDDL(ctx context.Context, name string, table string, stmts []dialect.Statement) error {
	p, err := m.pool(true)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := m.execStatement(ctx, p, name, table, stmt, event.WriteDDL); err != nil {
			return err
		}
	}
	return nil
}

// CreateTableSchema 按蓝图建表，表已存在时什么也不做
func (m *Manager) CreateTableSchema(ctx context.Context, table string, fn func(*schema.TableBlueprint)) error {
	exists, err := m.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	bp := schema.NewTableBlueprint(table, true)
	fn(bp)
	emitter, err := m.Dialect()
	if err != nil {
		return err
	}
	stmts, err := emitter.CreateTable(bp)
	if err != nil {
		return errors.WithMessagef(err, "create table %s", table)
	}
	return m.execDDL(ctx, "create_table", table, stmts)
}

// UpdateTableSchema 按蓝图修改表，表不存在时什么也不做
func (m *Manager) UpdateTableSchema(ctx context.Context, table string, fn func(*schema.TableBlueprint)) error {
	exists, err := m.HasTable(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	bp := schema.NewTableBlueprint(table, false)
	fn(bp)
	emitter, err := m.Dialect()
	if err != nil {
		return err
	}
	stmts, err := emitter.AlterTable(bp)
	if err != nil {
		return errors.WithMessagef(err, "alter table %s", table)
	}
	return m.execDDL(ctx, "alter_table", table, stmts)
}

// CreateViewFromTable 以 table 上的查询创建视图
func (m *Manager) CreateViewFromTable(ctx context.Context, view string, table string, fn func(*query.Builder)) error {
	b := query.New(table)
	if fn != nil {
		fn(b)
	}
	_, err := m.Exec(ctx, query.NewCreateView(view, b))
	return err
}

func (m *Manager) DropTable(ctx context.Context, table string) error {
	_, err := m.Exec(ctx, query.NewDropTable(table))
	return err
}

func (m *Manager) RenameTable(ctx context.Context, table string, to string) error {
	_, err := m.Exec(ctx, query.NewRenameTable(table, to))
	return err
}

func (m *Manager) DropColumn(ctx context.Context, table string, column string) error {
	_, err := m.Exec(ctx, query.NewDropColumn(table, column))
	return err
}

func (m *Manager) RenameColumn(ctx context.Context, table string, column string, to string) error {
	_, err := m.Exec(ctx, query.NewRenameColumn(table, column, to))
	return err
}

// RawStatement 执行任意 DDL 语句
func (m *Manager) RawStatement(ctx context.Context, sql string) error {
	p, err := m.pool(true)
	if err != nil {
		return err
	}
	_, err = m.execStatement(ctx, p, "raw_statement", "", dialect.Statement{SQL: sql}, event.WriteDDL)
	return err
}
