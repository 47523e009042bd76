package utils

import (
	"os"
	"strconv"
)

// EnvInt：读取正整数环境变量，非法或缺省返回 def
func EnvInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, e := strconv.Atoi(s); e == nil && n > 0 {
			return n
		}
	}
	return def
}

// EnvFloat：读取正浮点环境变量，非法或缺省返回 def
func EnvFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, e := strconv.ParseFloat(s, 64); e == nil && f > 0 {
			return f
		}
	}
	return def
}

// EnvString：读取字符串环境变量，缺省返回 def
func EnvString(key, def string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return def
}
