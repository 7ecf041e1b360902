// Package sse decodes and frames server-sent events.
package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"

	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/stream"
)

// DoneMarker is the payload that terminates an OpenAI-style event stream.
const DoneMarker = "[DONE]"

// Decoder turns raw upstream byte chunks into event data payloads.
// Events may span any number of chunks and a chunk may carry any number of
// events. Only the unfinished line and the current event are buffered.
type Decoder struct {
	src stream.Iterator[[]byte]

	buf      []byte
	data     strings.Builder
	hasData  bool
	skipLF   bool
	srcDone  bool
	finished bool
	queue    []string
}

// NewDecoder returns a decoder reading from src. Closing the decoder closes src.
func NewDecoder(src stream.Iterator[[]byte]) *Decoder {
	return &Decoder{src: src}
}

// Next returns the next non-empty event payload. It returns io.EOF after
// the [DONE] marker or once the source is exhausted, and a
// *errors.StreamDecodeError when the source fails.
func (d *Decoder) Next() (string, error) {
	for {
		if len(d.queue) > 0 {
			payload := d.queue[0]
			d.queue = d.queue[1:]
			if payload == DoneMarker {
				d.finished = true
				d.queue = nil
				return "", io.EOF
			}
			return payload, nil
		}
		if d.finished {
			return "", io.EOF
		}
		if d.srcDone {
			// A trailing line without a terminator still counts.
			if len(d.buf) > 0 {
				d.processLine(d.buf)
				d.buf = nil
			}
			d.dispatch()
			d.finished = true
			continue
		}

		chunk, err := d.src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.srcDone = true
				continue
			}
			d.finished = true
			return "", &proxyerrors.StreamDecodeError{Err: err}
		}
		d.feed(chunk)
	}
}

// Close closes the source iterator.
func (d *Decoder) Close() error {
	d.finished = true
	d.queue = nil
	return d.src.Close()
}

func (d *Decoder) feed(chunk []byte) {
	for len(chunk) > 0 {
		if d.skipLF {
			d.skipLF = false
			if chunk[0] == '\n' {
				chunk = chunk[1:]
				continue
			}
		}
		idx := bytes.IndexAny(chunk, "\r\n")
		if idx < 0 {
			d.buf = append(d.buf, chunk...)
			return
		}
		var line []byte
		if len(d.buf) > 0 {
			line = append(d.buf, chunk[:idx]...)
			d.buf = nil
		} else {
			line = chunk[:idx]
		}
		if chunk[idx] == '\r' {
			d.skipLF = true
		}
		chunk = chunk[idx+1:]
		d.processLine(line)
	}
}

func (d *Decoder) processLine(line []byte) {
	if len(line) == 0 {
		d.dispatch()
		return
	}
	if line[0] == ':' {
		return
	}
	field, value, found := bytes.Cut(line, []byte(":"))
	if found && len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	if string(field) != "data" {
		return
	}
	if d.hasData {
		d.data.WriteByte('\n')
	}
	d.data.Write(value)
	d.hasData = true
}

func (d *Decoder) dispatch() {
	if !d.hasData {
		return
	}
	payload := d.data.String()
	d.data.Reset()
	d.hasData = false
	if payload == "" {
		return
	}
	d.queue = append(d.queue, payload)
}
