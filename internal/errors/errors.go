package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class across the websocket and HTTP boundaries.
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	CodeGameNotActive    Code = "GAME_NOT_ACTIVE"
	CodePlayerNotFound   Code = "PLAYER_NOT_FOUND"
	CodeQuestionNotFound Code = "QUESTION_NOT_FOUND"
	CodeInvalidCode      Code = "INVALID_CODE"
	CodeAlreadyJoined    Code = "ALREADY_JOINED"

	// CodeAlreadyAnswered is internal only: the answer pipeline resolves it by
	// replaying the stored result, it never reaches a client.
	CodeAlreadyAnswered Code = "ALREADY_ANSWERED"
)

var code2http = map[Code]int{
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeInternal:         http.StatusInternalServerError,
	CodeUnauthenticated:  http.StatusUnauthorized,
	CodeGameNotActive:    http.StatusConflict,
	CodePlayerNotFound:   http.StatusNotFound,
	CodeQuestionNotFound: http.StatusNotFound,
	CodeInvalidCode:      http.StatusNotFound,
	CodeAlreadyJoined:    http.StatusConflict,
	CodeAlreadyAnswered:  http.StatusConflict,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: string(code),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %s, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
