package internal

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	errNotFound       = statusErr(http.StatusNotFound)
	errBadRequest     = statusErr(http.StatusBadRequest)
	errTooManyRequest = statusErr(http.StatusTooManyRequests)

	// ErrInvalidArgument is returned when a caller violates an operation's
	// contract, e.g. a negative crawl degree.
	ErrInvalidArgument = errors.New("invalid argument")
)

type statusErr int

var _ error = (*statusErr)(nil)

func (s statusErr) Status() int {
	return int(s)
}

func (s statusErr) Error() string {
	return fmt.Sprintf("HTTP %d", s)
}

// RemoteQueryError is returned when a page or count lookup for one node
// fails. The crawler absorbs these per node; anything else is fatal.
type RemoteQueryError struct {
	Kind  RelationKind
	Login string
	Err   error
}

var _ error = (*RemoteQueryError)(nil)

func (e *RemoteQueryError) Error() string {
	return fmt.Sprintf("querying %s for %q: %v", e.Kind, e.Login, e.Err)
}

func (e *RemoteQueryError) Unwrap() error {
	return e.Err
}

// remoteErr wraps err as a RemoteQueryError for the given node.
func remoteErr(kind RelationKind, login string, err error) error {
	return &RemoteQueryError{Kind: kind, Login: login, Err: err}
}
