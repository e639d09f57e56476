package core

import (
	"errors"
	"reflect"
)

// LoadState enumerates the phases of a screen's data load.
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// View is the state of one screen's data: Idle, Loading, Loaded(value) or
// Failed(err). Constructors are the only way to build a non-idle View, so a
// view can never be loading and failed at once.
type View[T any] struct {
	state LoadState
	value T
	err   error
}

func Idle[T any]() View[T] { return View[T]{state: StateIdle} }

func Loading[T any]() View[T] { return View[T]{state: StateLoading} }

func Loaded[T any](v T) View[T] { return View[T]{state: StateLoaded, value: v} }

// Failed records err; a nil err is replaced by a generic one.
func Failed[T any](err error) View[T] {
	if err == nil {
		err = errors.New("request failed")
	}
	return View[T]{state: StateFailed, err: err}
}

// Resolve maps the outcome of a call to Loaded or Failed.
func Resolve[T any](v T, err error) View[T] {
	if err != nil {
		return Failed[T](err)
	}
	return Loaded(v)
}

func (v View[T]) State() LoadState { return v.state }
func (v View[T]) IsIdle() bool     { return v.state == StateIdle }
func (v View[T]) IsLoading() bool  { return v.state == StateLoading }
func (v View[T]) IsLoaded() bool   { return v.state == StateLoaded }
func (v View[T]) IsFailed() bool   { return v.state == StateFailed }

// Value returns the loaded value, or the zero value in any other state.
func (v View[T]) Value() T { return v.value }

func (v View[T]) Err() error { return v.err }

// IsEmpty reports a loaded view whose value is a nil or zero-length list,
// map or pointer. Screens show their empty message for it.
func (v View[T]) IsEmpty() bool {
	if v.state != StateLoaded {
		return false
	}
	rv := reflect.ValueOf(any(v.value))
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Message is the user-facing error text of a failed view.
func (v View[T]) Message() string {
	if v.err == nil {
		return ""
	}
	return v.err.Error()
}
