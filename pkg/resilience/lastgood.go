// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import "sync"

// LastGood remembers the last successful result of an operation and serves
// it when a later call fails.
type LastGood[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool
}

// Do runs fn. On success the value is cached and returned. On failure the
// cached value is returned with stale=true and a nil error, or the zero value
// and fn's error when nothing has been cached yet.
func (l *LastGood[T]) Do(fn func() (T, error)) (value T, stale bool, err error) {
	v, err := fn()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		l.value, l.ok = v, true
		return v, false, nil
	}
	if l.ok {
		return l.value, true, nil
	}
	var zero T
	return zero, false, err
}
