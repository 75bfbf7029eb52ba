package rdb

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/query"
)

func (m *Manager) Insert(ctx context.Context, table string, row field.ColumnAndValue) (Result, error) {
	return m.Exec(ctx, query.NewInsert(table, row))
}

// InsertMulti 单条语句插入多行，列取第一行中已设置的列，后续行缺失的列绑定 NULL
func (m *Manager) InsertMulti(ctx context.Context, table string, rows []field.ColumnAndValue) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	return m.Exec(ctx, query.NewInsert(table, rows...))
}

// SoftInsert 冲突时忽略
func (m *Manager) SoftInsert(ctx context.Context, table string, row field.ColumnAndValue) (Result, error) {
	return m.Exec(ctx, query.NewSoftInsert(table, row))
}

func (m *Manager) SoftInsertMulti(ctx context.Context, table string, rows []field.ColumnAndValue) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	return m.Exec(ctx, query.NewSoftInsert(table, rows...))
}

// Upsert 按 unique 列冲突时更新 update 列，update 为空时更新全部非冲突列，
// 插入的列全部是冲突列时冲突的行保持不变
func (m *Manager) Upsert(ctx context.Context, table string, row field.ColumnAndValue, update []string, unique []string) (Result, error) {
	return m.UpsertMulti(ctx, table, []field.ColumnAndValue{row}, update, unique)
}

func (m *Manager) UpsertMulti(ctx context.Context, table string, rows []field.ColumnAndValue, update []string, unique []string) (Result, error) {
	if len(rows) == 0 {
		return Result{}, nil
	}
	if len(unique) == 0 {
		return Result{}, errors.Errorf("upsert on [%s] requires unique columns", table)
	}
	return m.Exec(ctx, query.NewUpsert(table, rows, update, unique))
}

// Update 更新满足条件的行，set 中 NotSet 的列被忽略
func (m *Manager) Update(ctx context.Context, table string, set field.ColumnAndValue, fn func(*query.Builder)) (Result, error) {
	b := query.NewUpdate(table, set)
	if fn != nil {
		fn(b)
	}
	return m.Exec(ctx, b)
}

func (m *Manager) Delete(ctx context.Context, table string, fn func(*query.Builder)) (Result, error) {
	b := query.NewDelete(table)
	if fn != nil {
		fn(b)
	}
	return m.Exec(ctx, b)
}
