package cache

import (
	"fmt"
	"strings"
)

// Key joins prefix and parts with ':'. Parts are formatted with %v, so
// Key("history", "AAPL", 200) is "history:AAPL:200".
func Key(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
