package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// 关键词最短长度（不含）
const minTokenLen = 2

// tokenize：小写切词，去除首尾标点，丢弃长度 ≤2 的词，去重保序
func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return unicode.IsSpace(r) || r == '_' || r == ','
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if utf8.RuneCountInString(w) <= minTokenLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
