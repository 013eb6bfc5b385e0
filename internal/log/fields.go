package log

import (
	"errors"

	"recurrent/internal/core"
)

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"

	FieldTemplateID   = "template_id"
	FieldOccurrenceID = "occurrence_id"
	FieldSuccessorID  = "successor_id"
	FieldKind         = "kind"
	FieldAmount       = "amount"
	FieldInterval     = "interval"
	FieldStatus       = "status"
	FieldAnchorDate   = "anchor_date"
	FieldWatermark    = "last_generated_through"
	FieldHorizon      = "horizon"
	FieldCutoff       = "cutoff"
	FieldSlot         = "scheduled_for"
	FieldGenerated    = "generated"
	FieldSkipped      = "skipped"
	FieldDeleted      = "deleted"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentScheduler = "scheduler"
	ComponentGenerator = "generator"
	ComponentResolver  = "resolver"
	ComponentTemplate  = "template"
	ComponentCache     = "cache"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpGenerate = "generate"
	OpPause    = "pause"
	OpResume   = "resume"
	OpStop     = "stop"
	OpSkip     = "skip"
	OpSplit    = "split"
	OpPublish  = "publish"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation = "validation_error"
	ErrorTypeDatabase   = "database_error"
	ErrorTypeNotFound   = "not_found_error"
	ErrorTypeConflict   = "conflict_error"
	ErrorTypeGeneration = "generation_error"
	ErrorTypeTimeout    = "timeout_error"
	ErrorTypeInternal   = "internal_error"
)

// ErrorTypeOf classifies err into one of the ErrorType constants.
func ErrorTypeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case core.IsValidation(err):
		return ErrorTypeValidation
	case core.IsStateConflict(err):
		return ErrorTypeConflict
	case errors.Is(err, core.ErrNotFound):
		return ErrorTypeNotFound
	case core.IsGenerationFailure(err):
		return ErrorTypeGeneration
	default:
		return ErrorTypeInternal
	}
}

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds the error and its category
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = ErrorTypeOf(err)
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTemplate adds the identifying fields of a template
func (f LogFields) WithTemplate(t core.Template) LogFields {
	f[FieldTemplateID] = t.ID
	f[FieldInterval] = string(t.Interval)
	f[FieldStatus] = string(t.Status)
	f[FieldWatermark] = t.LastGeneratedThrough.String()
	return f
}

// WithOccurrence adds the identifying fields of an occurrence
func (f LogFields) WithOccurrence(o core.Occurrence) LogFields {
	f[FieldOccurrenceID] = o.ID
	f[FieldSlot] = o.ScheduledFor.String()
	if o.TemplateID != nil {
		f[FieldTemplateID] = *o.TemplateID
	}
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
