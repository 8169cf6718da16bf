// Package errors derives low-cardinality error classes for metric tags and log fields.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	apperrors "github.com/target/taskrelay/internal/errors"
)

// Classify returns a stable snake_case class for err, checked in this order: context
// errors, application error codes, Postgres SQLSTATE, Redis misses, then the innermost
// concrete type in the wrap chain.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	case goerrors.Is(err, redis.Nil):
		return "redis_nil"
	}
	if code := apperrors.GetCode(err); code != "" {
		return "app_" + string(code)
	}
	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return "pg_" + strings.ToLower(pgErr.Code)
	}
	return typeName(innermost(err))
}

// innermost follows single-error wrapping and, for joined errors, the first branch.
func innermost(err error) error {
	for {
		switch u := err.(type) { //nolint:errorlint // walking the chain by hand.
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 || errs[0] == nil {
				return err
			}
			err = errs[0]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.NewReplacer("*", "", ".", "_").Replace(t.String()))
	if name == "" {
		return "unknown"
	}
	return name
}
