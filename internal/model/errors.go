package model

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindEmptyResult   ErrorKind = "empty_result"
	KindNoArtifact    ErrorKind = "no_artifact"
	KindService       ErrorKind = "service"
	KindTransientPoll ErrorKind = "transient_poll"
	KindPersistence   ErrorKind = "persistence"
)

// Error is the tagged error every engine operation returns. Op names the
// operation ("start", "snapshot", ...), Msg is safe to show to the operator.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsValidation covers every error raised locally before a request is sent.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindEmptyResult, KindNoArtifact:
		return true
	default:
		return false
	}
}

// UserMessage is what the notification surface shows for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
