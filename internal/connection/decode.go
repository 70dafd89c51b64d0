// internal/connection/decode.go
package connection

import "strings"

// decodeLine drops invalid UTF-8 and trims surrounding whitespace
func decodeLine(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}
