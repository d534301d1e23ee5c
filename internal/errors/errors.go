// Package errors defines the coded error kinds that cross the kernel's
// component boundaries. Errors never escape a component uncaught: they are
// converted either to a terminal task state recorded in the store or to a
// failed MessageResult returned to the caller.
package errors

import "fmt"

// Code identifies an error kind in task payloads and message results.
type Code string

const (
	CodeClaimFailed      Code = "CLAIM_FAILED"
	CodeTaskNotFound     Code = "TASK_NOT_FOUND"
	CodeInvalidRunAt     Code = "INVALID_RUN_AT"
	CodeWorkQueueTimeout Code = "WORK_QUEUE_TIMEOUT"
	CodeWorkerTimeout    Code = "WORKER_TIMEOUT"
	CodeWorkerException  Code = "WORKER_EXCEPTION"
	CodeWorkerSendFailed Code = "WORKER_SEND_FAILED"
	CodeMainTimeout      Code = "MAIN_TIMEOUT"
	CodeRunnerException  Code = "RUNNER_EXCEPTION"
	CodeMissingMessage   Code = "MISSING_MESSAGE"
	CodeBudgetExceeded   Code = "BUDGET_EXCEEDED"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error around a cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Payload encodes a code and message as the JSON-compatible error object
// stored in task payloads and result envelopes.
func Payload(code Code, message string) map[string]any {
	return map[string]any{"code": string(code), "message": message}
}

// PayloadCode extracts the code from an error payload, or "" when absent.
func PayloadCode(payload map[string]any) Code {
	if payload == nil {
		return ""
	}
	if code, ok := payload["code"].(string); ok {
		return Code(code)
	}
	return ""
}
