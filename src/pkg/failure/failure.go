/*
Package failure maps raw errors from the submission pipeline into a small set
of kinds that decide between "try again" and "pick something else".
*/
package failure

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Kind string

const (
	RetryableServer Kind = "retryable_server"
	FileInvalid     Kind = "file_invalid"
	Offline         Kind = "offline"
	StorageFailure  Kind = "storage_failure"
	LookupMiss      Kind = "lookup_miss"
	Cancelled       Kind = "cancelled"
	Generic         Kind = "generic"
)

/*
Error is a classified pipeline failure. Op names the step that failed
("validate image", "save image"), Err is the underlying cause.
*/
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err and attaches op.
func Wrap(op string, err error) *Error {
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

var (
	// "status 503", "status: 502", "status code 500", "HTTP 504"
	serverStatus = regexp.MustCompile(`(status( code)?:? ?|http )5\d\d\b`)
	// " 500 ", " 503 service unavailable"
	serverPhrase = regexp.MustCompile(`\b5\d\d (internal server error|bad gateway|service unavailable|gateway timeout)`)
	// whole words only, "profile" or "already" are not about the file
	fileWords = regexp.MustCompile(`\b(files?|read|access|permissions?|corrupt(ed)?|validation|empty|decode image)\b`)
)

/*
Classify picks the Kind for err.

A *Error keeps its own kind. Context cancellation is Cancelled. An error that
exposes StatusCode() is classified by status. Everything else falls back to
the lowercased message text.
*/
func Classify(err error) Kind {
	if err == nil {
		return Generic
	}

	var classified *Error
	if errors.As(err, &classified) && classified.Kind != "" {
		return classified.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) && coded.StatusCode() > 0 {
		status := coded.StatusCode()
		switch {
		case status >= 500 && status <= 599:
			return RetryableServer
		case status == 408 || status == 429:
			return RetryableServer
		case status == 413 || status == 415 || status == 422:
			return FileInvalid
		default:
			return Generic
		}
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage is the text-only fallback used when no structured signal exists.
func ClassifyMessage(message string) Kind {
	text := strings.ToLower(message)
	if serverStatus.MatchString(text) || serverPhrase.MatchString(text) {
		return RetryableServer
	}
	if fileWords.MatchString(text) {
		return FileInvalid
	}
	return Generic
}

// Retryable reports whether the same input may be replayed.
func Retryable(kind Kind) bool {
	return kind == RetryableServer
}

// Permanent reports whether the user has to pick a different asset.
func Permanent(kind Kind) bool {
	switch kind {
	case FileInvalid, StorageFailure:
		return true
	}
	return false
}

// Silent kinds are never shown to the user.
func Silent(kind Kind) bool {
	return kind == Cancelled
}
