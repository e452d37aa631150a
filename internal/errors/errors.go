package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Request-level failures: fatal to the whole quote request, no provider
	// fan-out happens once one of these is raised.
	CodeWalletDisconnected  Code = 10
	CodeUnsupportedChain    Code = 11
	CodeInvalidAmount       Code = 12
	CodeInsufficientBalance Code = 13

	// Provider-level quote failures: recorded per provider, never fatal to
	// the request as a whole.
	CodeUnsupportedTradePair  Code = 20
	CodeInsufficientLiquidity Code = 21
	CodeFeeEstimation         Code = 22
	CodeQuoteValidation       Code = 23

	// Raised only once every enabled provider has answered and none
	// produced a usable route.
	CodeNoQuotes Code = 24

	// Execution failures: terminal for the current hop only.
	CodeSigner        Code = 30
	CodeBroadcast     Code = 31
	CodeConfirmation  Code = 32
	CodeMissingBuyTx  Code = 33
	CodeHopOrder      Code = 34
	CodeRouteConflict Code = 35

	CodeStore       Code = 40
	CodeUnavailable Code = 41
	CodeUnsupported Code = 42
)

// Error is a typed engine error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if typed, ok := As(err); ok {
		return typed.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}

// IsRequestValidation reports whether err is fatal to the whole quote request.
func IsRequestValidation(err error) bool {
	switch CodeOf(err) {
	case CodeWalletDisconnected, CodeUnsupportedChain, CodeInvalidAmount, CodeInsufficientBalance:
		return true
	}
	return false
}
