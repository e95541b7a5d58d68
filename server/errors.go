package server

import "errors"

var ErrServerStarted = errors.New("server already started")
var ErrServerClosed = errors.New("server closed")

// ErrorKind classifies what went wrong in a session.
type ErrorKind string

const (
	// BadRequest is a malformed request or an unsafe target; answered with 4xx.
	BadRequest ErrorKind = "bad_request"
	// NotFound is a target without a handler; answered with 404.
	NotFound ErrorKind = "not_found"
	// HandlerError is a handler that failed, panicked or sent nothing; answered with 500.
	HandlerError ErrorKind = "handler_error"
	// IOError is a transport failure; the connection is dropped.
	IOError ErrorKind = "io_error"
	// Timeout is an idle read that ran out of time; the connection is dropped.
	Timeout ErrorKind = "timeout"
	// Overloaded is a request read while the worker queue was full; answered
	// with 503 and the connection closed.
	Overloaded ErrorKind = "overloaded"
)
