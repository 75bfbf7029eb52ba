package main

import (
	"os"

	"github.com/hatlonely/rdbx/rdb/migrate"
)

// rdbx 不带任何迁移，用于查看状态与差异；应用程序通常把 migrate.NewCommand 挂到自己的命令下
func main() {
	if err := migrate.NewCommand(nil).Execute(); err != nil {
		os.Exit(1)
	}
}
