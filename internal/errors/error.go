package errors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConnectionTimeout = errors.New("connection timeout")

	// ingest rejections
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownProperty  = errors.New("unknown property")
	ErrNoImagesFound    = errors.New("no images found")

	// store errors
	ErrRecordNotFound = errors.New("record not found")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrUpsertConflict = errors.New("upsert conflict retries exhausted")
)

// Kind classifies a failure for retry and transport decisions.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindConfig    Kind = "config"
	KindParse     Kind = "parse"
	KindNotFound  Kind = "not_found"
	KindTransient Kind = "transient_io"
	KindCapacity  Kind = "capacity"
	KindPermanent Kind = "permanent"
)

func (k Kind) String() string {
	return string(k)
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error {
	return New(KindConfig, op, err)
}

func Parse(op string, err error) error {
	return New(KindParse, op, err)
}

func NotFound(op string, err error) error {
	return New(KindNotFound, op, err)
}

func Transient(op string, err error) error {
	return New(KindTransient, op, err)
}

func Capacity(op string, err error) error {
	return New(KindCapacity, op, err)
}

func Permanent(op string, err error) error {
	return New(KindPermanent, op, err)
}

// KindOf returns the kind of the outermost classified error in the chain.
// Context deadlines and cancellations count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrConnectionTimeout) {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient reports whether a retry may succeed. Capacity errors are transient.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindCapacity:
		return true
	default:
		return false
	}
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}
