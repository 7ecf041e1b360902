package host

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedBytes caps decompressed bodies. Client payloads are far below this.
const maxDecodedBytes = 128 << 20

// DecodeContent reverses the Content-Encoding applied to body. Multiple
// codings are undone in reverse order of application; identity and empty
// encodings return body unchanged.
func DecodeContent(encoding string, body []byte) ([]byte, error) {
	codings := strings.Split(encoding, ",")
	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		if coding == "" || coding == "identity" {
			continue
		}
		decoded, err := decodeOne(coding, out)
		if err != nil {
			return body, err
		}
		out = decoded
	}
	return out, nil
}

func decodeOne(coding string, body []byte) ([]byte, error) {
	var r io.Reader
	switch coding {
	case "gzip", "x-gzip":
		gzr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gzr.Close()
		r = gzr
	case "deflate":
		// Most servers send zlib-wrapped deflate; some send it raw.
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			r = fr
		} else {
			defer zr.Close()
			r = zr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("invalid zstd body: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}

	decoded, err := io.ReadAll(io.LimitReader(r, maxDecodedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", coding, err)
	}
	if len(decoded) > maxDecodedBytes {
		return nil, fmt.Errorf("decoded %s body exceeds %d bytes", coding, maxDecodedBytes)
	}
	return decoded, nil
}
