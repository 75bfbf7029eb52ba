package rdb

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/field"
	"github.com/hatlonely/rdbx/rdb/pool"
	"github.com/hatlonely/rdbx/rdb/query"
)

// StreamBuffer 流式读取时生产者与消费者之间的缓冲大小
const StreamBuffer = 100

// Query 一次待执行的查询
type Query struct {
	m *Manager
	b *query.Builder
}

// SelectFromTable 构造针对 table 的查询，fn 可以为 nil
func (m *Manager) SelectFromTable(table string, fn func(*query.Builder)) *Query {
	b := query.New(table)
	if fn != nil {
		fn(b)
	}
	return &Query{m: m, b: b}
}

// Select 使用已经构造好的查询
func (m *Manager) Select(b *query.Builder) *Query {
	return &Query{m: m, b: b}
}

func (q *Query) Builder() *query.Builder {
	return q.b
}

// All 读取全部结果
func (q *Query) All(ctx context.Context) ([]field.ColumnAndValue, error) {
	return q.run(ctx, "select", q.b)
}

func (q *Query) run(ctx context.Context, name string, b *query.Builder) ([]field.ColumnAndValue, error) {
	p, err := q.m.pool(false)
	if err != nil {
		return nil, err
	}
	stmt, err := p.Dialect.Build(b)
	if err != nil {
		return nil, err
	}
	return q.m.queryStatement(ctx, p, name, b.TableName(), stmt)
}

// Structured 读取全部结果并按 "." 拆分为层级结构，pk 用于计算每行的 hash
func (q *Query) Structured(ctx context.Context, pk ...string) ([]field.StructuredColumnAndValue, error) {
	rows, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	return field.FromResults(rows, pk...), nil
}

// One 第一条记录，没有时返回 ErrRecordNotFound
func (q *Query) One(ctx context.Context) (field.ColumnAndValue, error) {
	rows, err := q.run(ctx, "select", q.b.Clone().Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.WithMessagef(ErrRecordNotFound, "table %s", q.b.TableName())
	}
	return rows[0], nil
}

// Count 满足条件的行数
func (q *Query) Count(ctx context.Context) (int64, error) {
	rows, err := q.run(ctx, "count", q.b.ForCount())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Get("count_all").AsInt64(), nil
}

func (q *Query) Exists(ctx context.Context) (bool, error) {
	_, err := q.One(ctx)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stream 流式读取，生产者在独立的 goroutine 中把行写入容量为 StreamBuffer 的 channel。
// 调用方必须 Close，否则连接不会归还
func (q *Query) Stream(ctx context.Context) (*RowStream, error) {
	p, err := q.m.pool(false)
	if err != nil {
		return nil, err
	}
	stmt, err := p.Dialect.Build(q.b)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, conn, release, err := p.Conn(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	rows, err := conn.QueryxContext(ctx, stmt.SQL, stmt.Params()...)
	if err != nil {
		release()
		cancel()
		return nil, pool.Classify(p.Name(), stmt.SQL, err)
	}
	scanner, err := newRowScanner(rows)
	if err != nil {
		_ = rows.Close()
		release()
		cancel()
		return nil, pool.Classify(p.Name(), stmt.SQL, err)
	}

	ch := make(chan field.ColumnAndValue, StreamBuffer)
	s := &RowStream{ch: ch, cancel: cancel, done: make(chan struct{})}
	op := newOperation(p, "stream", q.b.TableName(), stmt.SQL)
	go func() {
		defer close(s.done)
		defer close(ch)
		defer release()
		defer rows.Close()
		s.err = q.m.observe(ctx, op, func(ctx context.Context) (int64, error) {
			var n int64
			for rows.Next() {
				row, err := scanner.scan(rows)
				if err != nil {
					return n, pool.Classify(p.Name(), stmt.SQL, err)
				}
				select {
				case ch <- row:
					n++
				case <-ctx.Done():
					return n, nil
				}
			}
			if err := rows.Err(); err != nil && ctx.Err() == nil {
				return n, pool.Classify(p.Name(), stmt.SQL, err)
			}
			return n, nil
		})
	}()
	return s, nil
}

// RowStream 逐行读取查询结果
type RowStream struct {
	ch     <-chan field.ColumnAndValue
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	row    field.ColumnAndValue
}

// Next 阻塞直到下一行可用，没有更多行时返回 false
func (s *RowStream) Next() bool {
	row, ok := <-s.ch
	if !ok {
		return false
	}
	s.row = row
	return true
}

func (s *RowStream) Row() field.ColumnAndValue {
	return s.row
}

// Err Next 返回 false 之后调用，返回生产者遇到的错误
func (s *RowStream) Err() error {
	<-s.done
	return s.err
}

// Close 取消生产者并等待连接归还
func (s *RowStream) Close() error {
	s.cancel()
	for range s.ch {
	}
	<-s.done
	return nil
}

// TypedStream 把行解码为 T 的流
type TypedStream[T any] struct {
	src    *RowStream
	ch     chan T
	done   chan struct{}
	err    error
	value  T
	cancel context.CancelFunc
}

// StreamTo 在 Stream 之上再起一个 goroutine，把行提升为层级结构后用 decode 解码。
// 解码失败会记录日志并结束流
func StreamTo[T any](ctx context.Context, q *Query, decode func(field.StructuredColumnAndValue) (T, error), pk ...string) (*TypedStream[T], error) {
	src, err := q.Stream(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &TypedStream[T]{src: src, ch: make(chan T, StreamBuffer), done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		for src.Next() {
			v, err := decode(field.FromAResult(src.Row(), pk...))
			if err != nil {
				s.err = err
				q.m.logger.ErrorContext(ctx, "decode row failed", "table", q.b.TableName(), "error", err.Error())
				_ = src.Close()
				return
			}
			select {
			case s.ch <- v:
			case <-ctx.Done():
				_ = src.Close()
				return
			}
		}
		s.err = src.Err()
	}()
	return s, nil
}

func (s *TypedStream[T]) Next() bool {
	v, ok := <-s.ch
	if !ok {
		return false
	}
	s.value = v
	return true
}

func (s *TypedStream[T]) Value() T {
	return s.value
}

func (s *TypedStream[T]) Err() error {
	<-s.done
	return s.err
}

func (s *TypedStream[T]) Close() error {
	s.cancel()
	for range s.ch {
	}
	<-s.done
	return s.src.Close()
}

// Collect 读取流中剩余的全部值
func (s *TypedStream[T]) Collect() ([]T, error) {
	var values []T
	for s.Next() {
		values = append(values, s.Value())
	}
	return values, s.Err()
}

// rowScanner 按列类型把驱动值转换为 FieldValue
type rowScanner struct {
	columns []string
	types   []string
}

func newRowScanner(rows *sqlx.Rows) (*rowScanner, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	s := &rowScanner{columns: columns, types: make([]string, len(types))}
	for i, t := range types {
		s.types[i] = t.DatabaseTypeName()
	}
	return s, nil
}

func (s *rowScanner) scan(rows *sqlx.Rows) (field.ColumnAndValue, error) {
	values, err := rows.SliceScan()
	if err != nil {
		return nil, err
	}
	row := make(field.ColumnAndValue, len(values))
	for i, v := range values {
		row[s.columns[i]] = field.FromDriver(v, s.types[i])
	}
	return row, nil
}
