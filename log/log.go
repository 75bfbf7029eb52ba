package log

import (
	"sync/atomic"
)

var defaultLogger atomic.Value

func init() {
	// 默认向 stderr 输出 text 格式日志
	l, err := NewSLogWithOptions(&SLogOptions{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	defaultLogger.Store(holder{l})
}

type holder struct {
	Logger
}

// Default 返回进程级默认日志器
func Default() Logger {
	return defaultLogger.Load().(holder).Logger
}

// SetDefault 替换默认日志器，nil 会被忽略
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(holder{l})
}

// Discard 返回丢弃所有输出的日志器，测试中常用
func Discard() Logger {
	l, _ := NewSLogWithOptions(&SLogOptions{Output: "discard"})
	return l
}

// OrDefault 在 l 为空时返回默认日志器
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}
