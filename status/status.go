// Package status tags errors with the fault class and the response status reported to the caller.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Status is the response status of the replica.
type Status string

const (
	Success                 Status = "SUCCESS"
	ErrorServerError        Status = "ERROR_SERVER_ERROR"
	ErrorNoSignatureMatch   Status = "ERROR_NO_SIGNATURE_MATCH"
	ErrorInvalidValue       Status = "ERROR_INVALID_VALUE"
	ErrorInvalidLedger      Status = "ERROR_INVALID_LEDGER"
	ErrorInvalidAmount      Status = "ERROR_INVALID_AMOUNT"
	ErrorInvalidKey         Status = "ERROR_INVALID_KEY"
	ErrorMissingLedger      Status = "ERROR_MISSING_LEDGER"
	ErrorMissingParameter   Status = "ERROR_MISSING_PARAMETER"
	ErrorMissingTransaction Status = "ERROR_MISSING_TRANSACTION"
)

// Code maps status to the HTTP status code.
func (s Status) Code() int {
	switch s {
	case Success:
		return http.StatusOK
	case ErrorServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Class is the fault class of the error.
type Class int

const (
	ClassClient Class = iota + 1
	ClassProtocol
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassClient:
		return "client"
	case ClassProtocol:
		return "protocol"
	case ClassServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is the tagged error carried from the handlers to the transport.
type Error struct {
	Class  Class
	Status Status
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s fault: %s", e.Class, e.Status)
	}
	return fmt.Sprintf("%s fault: %s: %s", e.Class, e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code maps the error to the HTTP status code.
// Protocol faults are signature or quorum failures and short-circuit with 401.
func (e *Error) Code() int {
	if e.Class == ClassProtocol {
		return http.StatusUnauthorized
	}
	return e.Status.Code()
}

// Client tags err as a client fault.
func Client(s Status, err error) *Error {
	return &Error{Class: ClassClient, Status: s, Err: err}
}

// Protocol tags err as a protocol fault.
func Protocol(s Status, err error) *Error {
	return &Error{Class: ClassProtocol, Status: s, Err: err}
}

// Server tags err as a server fault.
func Server(err error) *Error {
	return &Error{Class: ClassServer, Status: ErrorServerError, Err: err}
}

// From returns tagged error found in the err chain or tags err as a server fault.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Server(err)
}
