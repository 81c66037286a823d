// Package serveui embeds the browser chat client served at "/".
package serveui

import _ "embed"

//go:embed static/index.html
var indexHTML []byte

// IndexHTML returns a copy of the embedded page.
func IndexHTML() []byte {
	out := make([]byte, len(indexHTML))
	copy(out, indexHTML)
	return out
}
