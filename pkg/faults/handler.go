package faults

import (
	"errors"
	"os"

	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
)

// Logger is the sink the handler emits classified failures to. The handler
// guarantees that every fields map it passes has been through the redactor.
type Logger interface {
	Error(msg string, fields map[string]any)
}

// Redactor scrubs sensitive values from a structure before it reaches a
// log sink.
type Redactor interface {
	ForLogging(v any) any
}

// Options describe one guarded operation.
type Options struct {
	// Operation names the unit of work, for the error message and log line.
	Operation string

	// Ctx is the correlation context for the operation.
	Ctx reqctx.Context

	// Input is the operation's raw input. It is logged on failure, after
	// redaction; it never reaches the sink verbatim.
	Input any

	// Code is the taxonomy code assigned when the failure is not already
	// classified. Defaults to CodeInternal.
	Code Code

	// Critical escalates the failure to a process-level fatal exit after
	// logging. Reserved for failures that mean the process can no longer
	// make progress.
	Critical bool
}

// Handler executes guarded operations: it classifies any failure, logs it
// exactly once with sanitized context, and returns the classified error.
type Handler struct {
	log    Logger
	redact Redactor
	fatal  func(code int)
}

// NewHandler creates a Handler. The fatal hook defaults to os.Exit.
func NewHandler(log Logger, redact Redactor) *Handler {
	return &Handler{log: log, redact: redact, fatal: os.Exit}
}

// WithFatal overrides the process-escalation hook. Used in tests.
func (h *Handler) WithFatal(fatal func(code int)) *Handler {
	h.fatal = fatal
	return h
}

// Do runs fn under the handler's guard. On success the result is returned
// unchanged. On failure the error is classified (preserving the code of an
// already-classified error), logged exactly once, and returned. A Critical
// failure triggers the fatal hook after logging.
func (h *Handler) Do(opts Options, fn func() (any, error)) (any, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	return nil, h.fail(opts, err)
}

// Run is the generic counterpart of Handler.Do for typed results.
func Run[T any](h *Handler, opts Options, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil {
		return result, nil
	}
	var zero T
	return zero, h.fail(opts, err)
}

func (h *Handler) fail(opts Options, err error) *Error {
	code := opts.Code
	if code == "" {
		code = CodeInternal
	}

	message := opts.Operation + " failed"
	if opts.Operation == "" {
		message = "operation failed"
	}

	classified := Wrap(err, code, message, opts.Ctx)
	h.emit(classified, opts)

	if opts.Critical {
		h.fatal(1)
	}
	return classified
}

// emit logs the error once. Re-wrapping an already-logged error through an
// outer guard is silent.
func (h *Handler) emit(e *Error, opts Options) {
	if e.logged {
		return
	}
	e.logged = true

	fields := e.Ctx.Fields()
	fields["error_code"] = string(e.Code)
	fields["error"] = e.Error()
	if opts.Input != nil {
		fields["input"] = h.redact.ForLogging(opts.Input)
	}
	if redacted, ok := h.redact.ForLogging(fields).(map[string]any); ok {
		fields = redacted
	}
	h.log.Error(e.Message, fields)
}

// Logged reports whether the error has already been emitted to a sink.
// Exposed for tests of the exactly-once guarantee.
func Logged(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.logged
	}
	return false
}
