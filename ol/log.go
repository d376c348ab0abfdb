// Package ol keeps the trailing operation log of a document.
package ol

import (
	"errors"
	"slices"
)

var (
	ErrTruncated = errors.New("version has been evicted from the log")
	ErrFuture    = errors.New("version has not been reached yet")
)

type LV int // document version: the count of operations ever appended

// Log holds the most recent operations appended to a document, oldest first.
// Entry i of Ops took the document from version Oldest()+i to Oldest()+i+1.
type Log[T any] struct {
	Ops     []T
	version LV
	limit   int
}

// NewLog returns a log that keeps at most limit operations. A limit of zero
// or less keeps everything.
func NewLog[T any](limit int) Log[T] {
	return Log[T]{
		Ops:   []T{},
		limit: limit,
	}
}

func (l *Log[T]) Version() LV { return l.version }

func (l *Log[T]) Len() int { return len(l.Ops) }

// Oldest is the earliest version the log can still replay from.
func (l *Log[T]) Oldest() LV { return l.version - LV(len(l.Ops)) }

// Append records ops and advances the version by len(ops), evicting the
// oldest entries past the limit.
func (l *Log[T]) Append(ops ...T) {
	l.Ops = append(l.Ops, ops...)
	l.version += LV(len(ops))

	if over := len(l.Ops) - l.limit; l.limit > 0 && over > 0 {
		n := copy(l.Ops, l.Ops[over:])
		clear(l.Ops[n:])
		l.Ops = l.Ops[:n]
	}
}

// Since returns a copy of the operations applied after version v.
func (l *Log[T]) Since(v LV) ([]T, error) {
	switch {
	case v > l.version:
		return nil, ErrFuture
	case v < l.Oldest():
		return nil, ErrTruncated
	}
	return slices.Clone(l.Ops[int(v-l.Oldest()):]), nil
}
