package translator

import "github.com/proxypilot/copilot-proxy/internal/stream"

// ToChatChunks relays raw upstream bytes to a chat completions client. The
// client and the backend share the schema, so chunks pass through untouched.
func ToChatChunks(raw stream.Iterator[[]byte]) stream.Iterator[[]byte] {
	return raw
}
