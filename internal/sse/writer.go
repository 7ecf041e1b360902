package sse

import (
	"bytes"
	"io"
	"sync"
)

var frameBufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

var (
	dataPrefix  = []byte("data: ")
	suffix      = []byte("\n\n")
	doneFrame   = []byte("data: [DONE]\n\n")
	errorPrefix = []byte("event: error\ndata: ")
)

// FrameData returns data wrapped in a standard "data:" frame.
func FrameData(data []byte) []byte {
	buf := frameBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Grow(len(dataPrefix) + len(data) + len(suffix))
	_, _ = buf.Write(dataPrefix)
	_, _ = buf.Write(data)
	_, _ = buf.Write(suffix)
	out := bytes.Clone(buf.Bytes())
	buf.Reset()
	frameBufferPool.Put(buf)
	return out
}

// DoneFrame returns a fresh copy of the terminating frame.
func DoneFrame() []byte {
	return bytes.Clone(doneFrame)
}

// WriteError writes an "event: error" frame, used when a stream fails after
// its headers were already sent.
func WriteError(w io.Writer, data []byte) error {
	if w == nil || len(data) == 0 {
		return nil
	}
	buf := frameBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	_, _ = buf.Write(errorPrefix)
	_, _ = buf.Write(data)
	_, _ = buf.Write(suffix)
	_, err := w.Write(buf.Bytes())
	buf.Reset()
	frameBufferPool.Put(buf)
	return err
}
