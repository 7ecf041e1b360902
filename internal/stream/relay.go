package stream

import (
	"errors"
	"io"
	"sync"
)

// Reader adapts an Iterator of byte chunks to io.ReadCloser, the body type
// the host proxy drains. Chunks are delivered in order; a chunk larger than
// the caller's buffer is handed out across several reads.
type Reader struct {
	it      Iterator[[]byte]
	pending []byte
	err     error

	closeOnce sync.Once
	closeErr  error

	// OnChunk, when set, observes every chunk pulled from the iterator.
	OnChunk func(n int)
}

// NewReader wraps it. The reader owns it and closes it on Close or after
// the sequence ends.
func NewReader(it Iterator[[]byte]) *Reader {
	return &Reader{it: it}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.it.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			} else {
				r.err = io.EOF
			}
			_ = r.Close()
			return 0, r.err
		}
		if r.OnChunk != nil {
			r.OnChunk(len(chunk))
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// WriteTo streams every chunk to w as soon as it is produced, so io.Copy
// forwards upstream chunk boundaries instead of refilling a fixed buffer.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if len(r.pending) > 0 {
		n, err := w.Write(r.pending)
		total += int64(n)
		r.pending = nil
		if err != nil {
			return total, err
		}
	}
	for {
		if r.err != nil {
			if r.err == io.EOF {
				return total, nil
			}
			return total, r.err
		}
		chunk, err := r.it.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.err = io.EOF
				_ = r.Close()
				return total, nil
			}
			r.err = err
			_ = r.Close()
			return total, err
		}
		if r.OnChunk != nil {
			r.OnChunk(len(chunk))
		}
		if len(chunk) == 0 {
			continue
		}
		n, errWrite := w.Write(chunk)
		total += int64(n)
		if errWrite != nil {
			return total, errWrite
		}
		if f, ok := w.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
}

// Close releases the underlying iterator. It is safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.it.Close()
		if r.err == nil {
			r.err = io.ErrClosedPipe
		}
	})
	return r.closeErr
}
