package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type testClient struct {
	URL            string        `cfg:"url" validate:"required"`
	MaxConnections int           `cfg:"max_connections" def:"2"`
	Sticky         *bool         `cfg:"sticky" def:"true"`
	StickyDuration time.Duration `cfg:"sticky_duration" def:"10s"`
	Tags           []string      `cfg:"tags"`
}

type testOptions struct {
	Default     string      `cfg:"default" def:"sqlite" validate:"oneof=sqlite mysql postgres"`
	SQLiteWrite *testClient `cfg:"sqlite_write"`
	MySQLRead   *testClient `cfg:"mysql_read"`
}

func TestLoadBytes(t *testing.T) {
	Convey("测试 LoadBytes 多种格式", t, func() {
		Convey("yaml", func() {
			data := []byte(`
default: mysql
sqlite_write:
  url: "sqlite::memory:"
  sticky: false
  sticky_duration: 5
mysql_read:
  url: mysql://root@localhost/app
  max_connections: 8
  tags: [a, b]
`)
			var options testOptions
			So(LoadBytes(data, "yaml", &options), ShouldBeNil)
			So(options.Default, ShouldEqual, "mysql")
			So(options.SQLiteWrite.URL, ShouldEqual, "sqlite::memory:")
			So(*options.SQLiteWrite.Sticky, ShouldBeFalse)
			So(options.SQLiteWrite.StickyDuration, ShouldEqual, 5*time.Second)
			So(options.SQLiteWrite.MaxConnections, ShouldEqual, 2)
			So(options.MySQLRead.MaxConnections, ShouldEqual, 8)
			So(*options.MySQLRead.Sticky, ShouldBeTrue)
			So(options.MySQLRead.StickyDuration, ShouldEqual, 10*time.Second)
			So(options.MySQLRead.Tags, ShouldResemble, []string{"a", "b"})
		})

		Convey("json", func() {
			data := []byte(`{"sqlite_write": {"url": "sqlite://app.db", "max_connections": 4}}`)
			var options testOptions
			So(LoadBytes(data, ".json", &options), ShouldBeNil)
			So(options.Default, ShouldEqual, "sqlite")
			So(options.SQLiteWrite.MaxConnections, ShouldEqual, 4)
			So(options.MySQLRead, ShouldBeNil)
		})

		Convey("toml", func() {
			data := []byte(`
default = "postgres"

[sqlite_write]
url = "sqlite::memory:"
sticky_duration = 3
`)
			var options testOptions
			So(LoadBytes(data, "toml", &options), ShouldBeNil)
			So(options.Default, ShouldEqual, "postgres")
			So(options.SQLiteWrite.StickyDuration, ShouldEqual, 3*time.Second)
		})

		Convey("ini", func() {
			data := []byte(`
default = sqlite

[sqlite_write]
url = sqlite::memory:
max_connections = 6
sticky = false
tags = x, y
`)
			var options testOptions
			So(LoadBytes(data, "ini", &options), ShouldBeNil)
			So(options.SQLiteWrite.MaxConnections, ShouldEqual, 6)
			So(*options.SQLiteWrite.Sticky, ShouldBeFalse)
			So(options.SQLiteWrite.Tags, ShouldResemble, []string{"x", "y"})
		})

		Convey("不支持的格式", func() {
			var options testOptions
			So(LoadBytes([]byte("x"), "xml", &options), ShouldNotBeNil)
		})

		Convey("校验失败", func() {
			var options testOptions
			err := LoadBytes([]byte(`default: oracle`), "yaml", &options)
			So(err, ShouldNotBeNil)

			err = LoadBytes([]byte("sqlite_write:\n  max_connections: 1\n"), "yaml", &options)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestEnvOverride(t *testing.T) {
	Convey("测试环境变量覆盖", t, func() {
		data := []byte("sqlite_write:\n  url: \"sqlite::memory:\"\n")
		var options testOptions
		err := LoadBytes(data, "yaml", &options,
			WithEnvPrefix("rdbx"),
			WithEnviron([]string{
				"RDBX_DEFAULT=mysql",
				"RDBX_SQLITE_WRITE__MAX_CONNECTIONS=12",
				"RDBX_MYSQL_READ__URL=mysql://r@replica/app",
				"OTHER_DEFAULT=postgres",
			}),
		)
		So(err, ShouldBeNil)
		So(options.Default, ShouldEqual, "mysql")
		So(options.SQLiteWrite.MaxConnections, ShouldEqual, 12)
		So(options.SQLiteWrite.URL, ShouldEqual, "sqlite::memory:")
		So(options.MySQLRead.URL, ShouldEqual, "mysql://r@replica/app")
	})
}

func TestLoad(t *testing.T) {
	Convey("测试从文件加载", t, func() {
		path := filepath.Join(t.TempDir(), "database.yaml")
		So(os.WriteFile(path, []byte("sqlite_write:\n  url: sqlite://test.db\n"), 0644), ShouldBeNil)

		var options testOptions
		So(Load(path, &options), ShouldBeNil)
		So(options.SQLiteWrite.URL, ShouldEqual, "sqlite://test.db")

		So(Load(filepath.Join(t.TempDir(), "missing.yaml"), &options), ShouldNotBeNil)

		Convey("内存库 URL 需要加引号", func() {
			path := filepath.Join(t.TempDir(), "memory.yaml")
			So(os.WriteFile(path, []byte("default: sqlite\nsqlite_write:\n  url: \"sqlite::memory:\"\n"), 0644), ShouldBeNil)

			var options testOptions
			So(Load(path, &options), ShouldBeNil)
			So(options.SQLiteWrite.URL, ShouldEqual, "sqlite::memory:")
			So(options.SQLiteWrite.MaxConnections, ShouldEqual, 2)

			So(os.WriteFile(path, []byte("sqlite_write:\n  url: sqlite::memory:\n"), 0644), ShouldBeNil)
			So(Load(path, &testOptions{}), ShouldNotBeNil)
		})
	})
}

func TestSetDefaults(t *testing.T) {
	Convey("测试 def tag 默认值", t, func() {
		type nested struct {
			Level string `def:"info"`
		}
		type config struct {
			Name    string        `def:"rdbx"`
			Port    int           `def:"3306"`
			Ratio   float64       `def:"0.5"`
			Enabled *bool         `def:"true"`
			Timeout time.Duration `def:"30s"`
			Hosts   []string      `def:"a,b"`
			Nested  nested
			Skip    *nested
		}

		c := &config{Port: 5432}
		So(SetDefaults(c), ShouldBeNil)
		So(c.Name, ShouldEqual, "rdbx")
		So(c.Port, ShouldEqual, 5432)
		So(c.Ratio, ShouldEqual, 0.5)
		So(*c.Enabled, ShouldBeTrue)
		So(c.Timeout, ShouldEqual, 30*time.Second)
		So(c.Hosts, ShouldResemble, []string{"a", "b"})
		So(c.Nested.Level, ShouldEqual, "info")
		So(c.Skip, ShouldBeNil)

		So(SetDefaults(nil), ShouldNotBeNil)
		So(SetDefaults(config{}), ShouldNotBeNil)
	})
}
