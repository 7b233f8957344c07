package cache

import (
	"errors"
	"fmt"

	"github.com/wesm/issuemirror/internal/models"
)

var (
	ErrCreateFailed = errors.New("create failed")
	ErrUpdateFailed = errors.New("update failed")
	ErrDeleteFailed = errors.New("delete failed")

	// ErrClosed is returned by operations on a cache whose repository was closed
	ErrClosed = errors.New("cache closed")
)

// Op names a cache write operation
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// OpError reports a failed write. It matches both the operation sentinel
// (ErrCreateFailed, ...) and the underlying cause under errors.Is.
type OpError struct {
	Op   Op
	Kind models.ResourceKind
	Key  string
	Err  error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("failed to %s %s %s: %v", e.Op, e.Kind, e.Key, e.Err)
}

func (e *OpError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *OpError) sentinel() error {
	switch e.Op {
	case OpCreate:
		return ErrCreateFailed
	case OpUpdate:
		return ErrUpdateFailed
	default:
		return ErrDeleteFailed
	}
}

func opError(op Op, kind models.ResourceKind, key any, err error) error {
	k := ""
	if key != nil {
		k = fmt.Sprint(key)
	}
	return &OpError{Op: op, Kind: kind, Key: k, Err: err}
}
