// Package stream provides the pull-based iterator shared by every stage of
// the completion pipeline and the relay that hands its bytes to the host.
//
// Stages never spawn goroutines. The consumer drives the whole pipeline by
// calling Next, so suspension only happens while waiting on the upstream
// body or on the host to pull again.
package stream

import "io"

// Iterator yields values one at a time. Next returns io.EOF once the
// sequence is exhausted; any other error aborts the sequence. Close releases
// the resources held by the iterator and every iterator it wraps.
type Iterator[T any] interface {
	Next() (T, error)
	Close() error
}

// Func adapts a pair of functions to the Iterator interface.
type Func[T any] struct {
	NextFunc  func() (T, error)
	CloseFunc func() error
}

// Next calls NextFunc.
func (f *Func[T]) Next() (T, error) { return f.NextFunc() }

// Close calls CloseFunc when set.
func (f *Func[T]) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}

type sliceIterator[T any] struct {
	items []T
	pos   int
}

// FromSlice returns an iterator over items.
func FromSlice[T any](items ...T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

func (s *sliceIterator[T]) Next() (T, error) {
	var zero T
	if s.pos >= len(s.items) {
		return zero, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *sliceIterator[T]) Close() error {
	s.pos = len(s.items)
	return nil
}

// Collect drains it and returns every value produced before io.EOF.
// The iterator is closed on return.
func Collect[T any](it Iterator[T]) ([]T, error) {
	defer func() { _ = it.Close() }()
	var out []T
	for {
		v, err := it.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
