// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

// boundedLog is an append-only FIFO that silently evicts its oldest entries
// once it holds more than max items.
type boundedLog[T any] struct {
	items []T
	max   int
}

func newBoundedLog[T any](max int) *boundedLog[T] {
	return &boundedLog[T]{max: max}
}

func (l *boundedLog[T]) append(v T) {
	l.items = append(l.items, v)
	if l.max > 0 && len(l.items) > l.max {
		drop := len(l.items) - l.max
		l.items = append(make([]T, 0, l.max), l.items[drop:]...)
	}
}

// last returns a copy of the newest n entries, oldest first.
func (l *boundedLog[T]) last(n int) []T {
	start := 0
	if n > 0 && n < len(l.items) {
		start = len(l.items) - n
	}
	return append([]T{}, l.items[start:]...)
}

func (l *boundedLog[T]) len() int {
	return len(l.items)
}

// reset replaces the contents, keeping only the newest max entries.
func (l *boundedLog[T]) reset(items []T) {
	l.items = nil
	for _, it := range items {
		l.append(it)
	}
}
