package safelock

import (
	"github.com/go-logr/logr"
)

type Option[T any] func(*Lock[T])

func WithLogr[T any](log logr.Logger) Option[T] {
	return func(l *Lock[T]) { l.log = log }
}

// WithLocker plugs a reader-writer primitive other than the in-process
// default, e.g. the pgsql or redis submodule lockers.
func WithLocker[T any](mu RWUpgrader) Option[T] {
	return func(l *Lock[T]) { l.mu = mu }
}

// WithName identifies the lock in leak reports.
func WithName[T any](name string) Option[T] {
	return func(l *Lock[T]) { l.name = name }
}

func WithOnLeak[T any](fn ...func()) Option[T] {
	return func(l *Lock[T]) {
		l.onLeak = append(l.onLeak, fn...)
	}
}
