package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins a prefix and parts with ':'.
func GenerateKey(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(fmt.Sprint(p))
	}
	return b.String()
}
