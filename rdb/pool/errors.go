package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/dialect"
)

var (
	ErrConfig     = errors.New("config error")
	ErrConnection = errors.New("connection error")
	ErrTimeout    = errors.New("timeout")
)

// Constraint 约束冲突的种类
type Constraint string

const (
	ConstraintNone       Constraint = ""
	ConstraintUnique     Constraint = "unique"
	ConstraintForeignKey Constraint = "foreign_key"
	ConstraintNotNull    Constraint = "not_null"
	ConstraintCheck      Constraint = "check"
)

// QueryError 数据库返回的语句错误，保留方言自身的错误码
type QueryError struct {
	Dialect    string
	Code       string
	Constraint Constraint
	Retryable  bool
	SQL        string
	Err        error
}

func (e *QueryError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Dialect)
	sb.WriteString(" query error")
	if e.Code != "" {
		sb.WriteString(" [" + e.Code + "]")
	}
	if e.Constraint != ConstraintNone {
		sb.WriteString(" " + string(e.Constraint) + " constraint violated")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// kindError 把驱动错误归类到 ErrConnection / ErrTimeout，同时保留原始错误
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.err
}

// Classify 把驱动返回的错误归类，nil 原样返回
func Classify(name string, query string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection) {
		return err
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &kindError{kind: ErrTimeout, err: err}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &kindError{kind: ErrConnection, err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &kindError{kind: ErrTimeout, err: err}
		}
		return &kindError{kind: ErrConnection, err: err}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlError(query, myErr)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return postgresError(query, pgErr)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return sqliteError(query, liteErr)
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &kindError{kind: ErrConnection, err: err}
	}
	return &QueryError{Dialect: name, SQL: query, Err: err}
}

func mysqlError(query string, err *mysql.MySQLError) error {
	qe := &QueryError{Dialect: dialect.MySQL, Code: strconv.Itoa(int(err.Number)), SQL: query, Err: err}
	switch err.Number {
	case 1062, 1586:
		qe.Constraint = ConstraintUnique
	case 1216, 1217, 1451, 1452:
		qe.Constraint = ConstraintForeignKey
	case 1048, 1364:
		qe.Constraint = ConstraintNotNull
	case 3819:
		qe.Constraint = ConstraintCheck
	case 1205, 1213:
		qe.Retryable = true
	case 1040, 1045, 2002, 2003, 2006, 2013:
		return &kindError{kind: ErrConnection, err: err}
	}
	return qe
}

func postgresError(query string, err *pgconn.PgError) error {
	qe := &QueryError{Dialect: dialect.Postgres, Code: err.Code, SQL: query, Err: err}
	switch err.Code {
	case "23505":
		qe.Constraint = ConstraintUnique
	case "23503":
		qe.Constraint = ConstraintForeignKey
	case "23502":
		qe.Constraint = ConstraintNotNull
	case "23514":
		qe.Constraint = ConstraintCheck
	case "40001", "40P01":
		qe.Retryable = true
	case "57014":
		return &kindError{kind: ErrTimeout, err: err}
	}
	if strings.HasPrefix(err.Code, "08") || err.Code == "28P01" {
		return &kindError{kind: ErrConnection, err: err}
	}
	return qe
}

func sqliteError(query string, err sqlite3.Error) error {
	qe := &QueryError{Dialect: dialect.SQLite, Code: strconv.Itoa(int(err.ExtendedCode)), SQL: query, Err: err}
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		qe.Constraint = ConstraintUnique
	case sqlite3.ErrConstraintForeignKey:
		qe.Constraint = ConstraintForeignKey
	case sqlite3.ErrConstraintNotNull:
		qe.Constraint = ConstraintNotNull
	case sqlite3.ErrConstraintCheck:
		qe.Constraint = ConstraintCheck
	}
	switch err.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		qe.Retryable = true
	case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
		return &kindError{kind: ErrConnection, err: err}
	}
	return qe
}

// IsRetryable 死锁、锁等待超时、序列化失败等可以重试的错误
func IsRetryable(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Retryable
}

// ConstraintOf 约束冲突的种类，不是约束冲突时返回 ConstraintNone
func ConstraintOf(err error) Constraint {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Constraint
	}
	return ConstraintNone
}
