// Package statement normalizes LLM-produced SQL text, splits it into statements
// and decides how each batch is routed. It is a set of text heuristics, not a
// SQL parser: a string literal containing "select" still counts as a read.
package statement

import (
	"regexp"
	"strings"
)

var (
	doubledQuote     = regexp.MustCompile(`''([^'])`)
	unterminatedText = regexp.MustCompile(`= '([^']+);`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Format applies the best-effort repair pass to a raw completion. The order of
// the steps is significant.
func Format(raw string) string {
	sql := strings.ReplaceAll(raw, "```sql", "")
	sql = strings.ReplaceAll(sql, "```", "")
	sql = strings.TrimSpace(sql)

	sql = strings.TrimRight(sql, ";") + ";"

	// ''Bob' -> 'Bob'
	sql = doubledQuote.ReplaceAllString(sql, "'$1")

	// lastname = 'Williams; -> lastname = 'Williams';
	sql = unterminatedText.ReplaceAllString(sql, "= '$1';")

	sql = strings.TrimSpace(strings.ReplaceAll(sql, "\n", " "))
	return whitespaceRun.ReplaceAllString(sql, " ")
}
