// Package errx wraps infrastructure failures with a kind and a safe message.
package errx

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Kind classifies an AppError.
type Kind string

const (
	KindInternal    Kind = "internal"
	KindNotFound    Kind = "not_found"
	KindUnavailable Kind = "unavailable"
	KindInvalid     Kind = "invalid"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage      = "internal error"
	RedisErrorMessage       = "redis operation failed"
	RedisNotFoundMessage    = "redis key not found"
	DatabaseErrorMessage    = "database operation failed"
	DatabaseNotFoundMessage = "database row not found"
)

// AppError wraps an underlying error with a kind and a safe message.
type AppError struct {
	Err     error
	Kind    Kind
	Message string
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(err error, kind Kind, message string) *AppError {
	return &AppError{Err: err, Kind: kind, Message: message}
}

// Is reports whether the target matches the underlying error.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// KindOf returns the kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// WrapRedis maps Redis errors to AppError.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, KindNotFound, RedisNotFoundMessage)
	}
	return New(err, KindUnavailable, RedisErrorMessage)
}

// WrapSQL maps database/sql errors to AppError.
func WrapSQL(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(err, KindNotFound, DatabaseNotFoundMessage)
	}
	return New(err, KindUnavailable, DatabaseErrorMessage)
}
