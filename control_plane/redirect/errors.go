package redirect

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means the owning node did not answer within the forward timeout.
	ErrTimeout = errors.New("redirection timeout")

	// ErrUnreachable means the owning node could not be contacted, or no owner is
	// known while ownership is changing hands.
	ErrUnreachable = errors.New("redirection unreachable")

	// ErrRemote means the owning node answered with an error of its own.
	ErrRemote = errors.New("remote node error")

	// ErrNoOwner is returned by resolvers when an application is known but no node
	// currently holds its lease. Do reports it as ErrUnreachable.
	ErrNoOwner = errors.New("no owner for application")
)

// Error is a failed redirected query. Kind is one of ErrTimeout, ErrUnreachable
// or ErrRemote; errors.Is matches both Kind and the wrapped Cause.
type Error struct {
	Kind  error
	AppID int64
	Node  string
	Cause error
}

func (e *Error) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("%v: app %d: %v", e.Kind, e.AppID, e.Cause)
	}
	return fmt.Sprintf("%v: app %d via %s: %v", e.Kind, e.AppID, e.Node, e.Cause)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Cause }

// RemoteError carries the failure the owning node reported.
type RemoteError struct {
	Status  int    // HTTP status of the remote answer
	Code    string // machine readable code, e.g. "filter_fault"
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }
