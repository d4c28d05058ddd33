package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// Code classifies pipeline failures and decides how far they propagate.
type Code string

const (
	// CodeInvalidInput: the transformed record lacks pid or type. Skip, count as discarded.
	CodeInvalidInput Code = "INVALID_INPUT"
	// CodeTransformError: MARC input could not be read at tag level. Skip, log the raw id.
	CodeTransformError Code = "TRANSFORM_ERROR"
	// CodeStoreError: persistence or index failure. Retried per record, then aborts the window.
	CodeStoreError Code = "STORE_ERROR"
	// CodeClusterConflict: two records of one source claim the same cluster key.
	CodeClusterConflict Code = "CLUSTER_CONFLICT"
	// CodeCorruptRedirect: redirect chain too deep or cyclic. Aborts the record.
	CodeCorruptRedirect Code = "CORRUPT_REDIRECT"
	// CodeRemoteTransient: OAI network error or 5xx. Retried with backoff, then aborts the window.
	CodeRemoteTransient Code = "REMOTE_TRANSIENT"
	// CodeMisconfiguration: unknown source or kind. Aborts the run.
	CodeMisconfiguration Code = "MISCONFIGURATION"
	// CodeNotFound is returned by lookups.
	CodeNotFound Code = "NOT_FOUND"
)

// PipelineError carries the failing record coordinates with the cause.
type PipelineError struct {
	Code    Code
	Kind    string
	Source  string
	Pid     string
	Message string
	Err     error
}

func New(code Code, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Code: code, Message: msg, Err: err}
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Kind != "" || e.Source != "" || e.Pid != "" {
		fmt.Fprintf(&b, " [%s/%s/%s]", e.Kind, e.Source, e.Pid)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// WithRecord sets the record coordinates.
func (e *PipelineError) WithRecord(kind, source, pid string) *PipelineError {
	e.Kind = kind
	e.Source = source
	e.Pid = pid
	return e
}

// CodeOf returns the code of the first PipelineError in err's chain, or "".
func CodeOf(err error) Code {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func Is(err error, code Code) bool { return err != nil && CodeOf(err) == code }

func IsInvalidInput(err error) bool     { return Is(err, CodeInvalidInput) }
func IsTransformError(err error) bool   { return Is(err, CodeTransformError) }
func IsStoreError(err error) bool       { return Is(err, CodeStoreError) }
func IsClusterConflict(err error) bool  { return Is(err, CodeClusterConflict) }
func IsCorruptRedirect(err error) bool  { return Is(err, CodeCorruptRedirect) }
func IsRemoteTransient(err error) bool  { return Is(err, CodeRemoteTransient) }
func IsMisconfiguration(err error) bool { return Is(err, CodeMisconfiguration) }
func IsNotFound(err error) bool         { return Is(err, CodeNotFound) }

// ToHTTPError maps the error for the ops surface.
func ToHTTPError(err error) *httperror.HTTPError {
	status := http.StatusInternalServerError
	switch CodeOf(err) {
	case CodeNotFound:
		status = http.StatusNotFound
	case CodeInvalidInput, CodeTransformError, CodeMisconfiguration:
		status = http.StatusBadRequest
	case CodeClusterConflict:
		status = http.StatusConflict
	case CodeRemoteTransient:
		status = http.StatusBadGateway
	}
	return httperror.NewHTTPError(status, err.Error()).AddMetaValue("code", string(CodeOf(err)))
}
