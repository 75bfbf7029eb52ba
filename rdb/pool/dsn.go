package pool

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/hatlonely/rdbx/rdb/dialect"
)

// SchemeOf 由 URL 判断方言，无法识别时返回空字符串
func SchemeOf(rawURL string) string {
	scheme, _, ok := strings.Cut(rawURL, ":")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3", "file":
		return dialect.SQLite
	case "mysql", "mariadb":
		return dialect.MySQL
	case "postgres", "postgresql", "pgx":
		return dialect.Postgres
	}
	return ""
}

// IsMemory 是否为内存 SQLite，内存库只能使用单个连接
func IsMemory(rawURL string) bool {
	return SchemeOf(rawURL) == dialect.SQLite && strings.Contains(rawURL, ":memory:")
}

// DSN 把配置中的 URL 转换成驱动可以识别的连接串
func DSN(options *ClientOptions) (string, error) {
	switch SchemeOf(options.URL) {
	case dialect.SQLite:
		return sqliteDSN(options), nil
	case dialect.MySQL:
		return mysqlDSN(options)
	case dialect.Postgres:
		return postgresDSN(options.URL), nil
	}
	return "", errors.WithMessagef(ErrConfig, "unknown url scheme [%s]", options.URL)
}

func sqliteDSN(options *ClientOptions) string {
	_, rest, _ := strings.Cut(options.URL, ":")
	rest = strings.TrimPrefix(rest, "//")
	path, query, _ := strings.Cut(rest, "?")

	values, _ := url.ParseQuery(query)
	foreignKey := options.ForeignKey == nil || *options.ForeignKey
	if foreignKey {
		values.Set("_foreign_keys", "1")
	} else {
		values.Set("_foreign_keys", "0")
	}
	values.Set("_busy_timeout", strconv.Itoa(options.BusyTimeout*1000))

	if path == ":memory:" || path == "" {
		return "file::memory:?" + values.Encode()
	}
	return "file:" + path + "?" + values.Encode()
}

func mysqlDSN(options *ClientOptions) (string, error) {
	u, err := url.Parse(options.URL)
	if err != nil {
		return "", errors.WithMessagef(ErrConfig, "parse url failed. err: [%v]", err)
	}
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = u.Host
	if u.Port() == "" {
		c.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	if u.User != nil {
		c.User = u.User.Username()
		c.Passwd, _ = u.User.Password()
	}
	c.DBName = strings.TrimPrefix(u.Path, "/")
	c.ParseTime = true
	c.Loc = time.UTC
	if options.CheckoutTimeout > 0 {
		c.Timeout = options.CheckoutTimeout
	}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if c.Params == nil {
			c.Params = map[string]string{}
		}
		c.Params[key] = values[0]
	}
	return c.FormatDSN(), nil
}

// postgresDSN pgx 直接接受 postgres:// 形式的 URL
func postgresDSN(rawURL string) string {
	scheme, rest, _ := strings.Cut(rawURL, ":")
	if strings.EqualFold(scheme, "pgx") {
		return "postgres:" + rest
	}
	return rawURL
}
