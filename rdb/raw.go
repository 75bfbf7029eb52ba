package rdb

import (
	"context"

	"github.com/hatlonely/rdbx/event"
	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/query"
)

// 原生语句的占位符统一写作 ?，渲染时按方言改写

func rawParams(params []any) []field.FieldValue {
	values := make([]field.FieldValue, len(params))
	for i, p := range params {
		values[i] = field.From(p)
	}
	return values
}

// RawSelect 执行原生查询
func (m *Manager) RawSelect(ctx context.Context, sql string, params ...any) ([]field.ColumnAndValue, error) {
	p, err := m.pool(false)
	if err != nil {
		return nil, err
	}
	stmt, err := p.Dialect.Build(query.NewRaw(sql, rawParams(params)...))
	if err != nil {
		return nil, err
	}
	return m.queryStatement(ctx, p, "raw_select", "", stmt)
}

func (m *Manager) rawExec(ctx context.Context, name string, kind event.WriteKind, sql string, params []any) (Result, error) {
	p, err := m.pool(true)
	if err != nil {
		return Result{}, err
	}
	stmt, err := p.Dialect.Build(query.NewRaw(sql, rawParams(params)...))
	if err != nil {
		return Result{}, err
	}
	return m.execStatement(ctx, p, name, "", stmt, kind)
}

// RawInsert 每组参数执行一次，返回累计影响行数与最后一次的自增 id
func (m *Manager) RawInsert(ctx context.Context, sql string, rows ...[]any) (Result, error) {
	if len(rows) == 0 {
		return m.rawExec(ctx, "raw_insert", event.WriteInsert, sql, nil)
	}
	var total Result
	for _, params := range rows {
		r, err := m.rawExec(ctx, "raw_insert", event.WriteInsert, sql, params)
		if err != nil {
			return total, err
		}
		total.RowsAffected += r.RowsAffected
		total.LastInsertID = r.LastInsertID
	}
	return total, nil
}

func (m *Manager) RawUpdate(ctx context.Context, sql string, params ...any) (Result, error) {
	return m.rawExec(ctx, "raw_update", event.WriteUpdate, sql, params)
}

func (m *Manager) RawDelete(ctx context.Context, sql string, params ...any) (Result, error) {
	return m.rawExec(ctx, "raw_delete", event.WriteDelete, sql, params)
}
