package validator

import (
	"strings"
)

// ValidationError is one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors collects the failures of one validation run.
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Append adds a failure.
func (e *ValidationErrors) Append(ve ValidationError) {
	e.Errors = append(e.Errors, ve)
}

// AppendError adds a plain error for field.
func (e *ValidationErrors) AppendError(field string, err error) {
	if err == nil {
		return
	}
	e.Append(ValidationError{Field: field, Message: err.Error()})
}

// HasErrors reports whether any failure was collected.
func (e *ValidationErrors) HasErrors() bool {
	return e != nil && len(e.Errors) > 0
}

// Count returns the number of failures.
func (e *ValidationErrors) Count() int {
	if e == nil {
		return 0
	}
	return len(e.Errors)
}

// First returns the first message, or "" if there is none.
func (e *ValidationErrors) First() string {
	if !e.HasErrors() {
		return ""
	}
	return e.Errors[0].Message
}

// Messages returns every message in order.
func (e *ValidationErrors) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Message)
	}
	return msgs
}

// ToMap maps each field to its first message.
func (e *ValidationErrors) ToMap() map[string]string {
	m := make(map[string]string)
	if e == nil {
		return m
	}
	for _, ve := range e.Errors {
		if _, ok := m[ve.Field]; !ok {
			m[ve.Field] = ve.Message
		}
	}
	return m
}

// Error implements error.
func (e *ValidationErrors) Error() string {
	return strings.Join(e.Messages(), "; ")
}
