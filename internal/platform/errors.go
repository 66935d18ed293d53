package platform

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies platform delivery failures. The relay engine
// branches on kinds, never on SDK error values or description strings.
type ErrorKind int

const (
	// KindTransient covers failures worth retrying at the transport layer
	// (network hiccups, 5xx responses).
	KindTransient ErrorKind = iota
	// KindRateLimited means the platform asked us to slow down; RetryAfter
	// carries the requested pause.
	KindRateLimited
	// KindPermanentChat means this particular chat is gone for good: the
	// user blocked the bot, was deactivated, or the bot was kicked.
	KindPermanentChat
	// KindTopicMissing means the stored discussion thread no longer exists
	// and must be recreated.
	KindTopicMissing
	// KindMessageGone means the referenced message no longer exists
	// (already deleted, or not editable anymore).
	KindMessageGone
	// KindRejected covers other requests the platform refused outright;
	// retrying the same call will not help.
	KindRejected
)

// Error is a classified platform failure.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // set for KindRateLimited
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform error (kind %d): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsTopicMissing reports whether err means the destination discussion
// thread was deleted.
func IsTopicMissing(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindTopicMissing
}

// IsPermanentChat reports whether err means the chat can never be reached
// again.
func IsPermanentChat(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindPermanentChat
}

// IsMessageGone reports whether err means the referenced message no longer
// exists.
func IsMessageGone(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindMessageGone
}

// RetryDelay returns the pause the platform requested and whether err is a
// rate limit at all.
func RetryDelay(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited {
		return pe.RetryAfter, true
	}
	return 0, false
}
