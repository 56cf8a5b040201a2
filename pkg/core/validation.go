package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// HasErrors returns true if there are any errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Add adds a validation error.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// Validator provides validation methods for configurations.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Required validates that a field is not empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.errors.Add(field, "is required")
	}
	return v
}

// URL validates that a field is a valid URL.
func (v *Validator) URL(field, value string) *Validator {
	if value == "" {
		return v
	}
	u, err := url.Parse(value)
	if err != nil {
		v.errors.Add(field, fmt.Sprintf("invalid URL: %v", err))
		return v
	}
	if u.Scheme == "" || u.Host == "" {
		v.errors.Add(field, "must be a valid URL with scheme and host")
	}
	return v
}

// MinDuration validates that a duration is at least the minimum.
func (v *Validator) MinDuration(field string, value, min time.Duration) *Validator {
	if value < min {
		v.errors.Add(field, fmt.Sprintf("must be at least %v", min))
	}
	return v
}

// Min validates that an integer is at least the minimum.
func (v *Validator) Min(field string, value, min int) *Validator {
	if value < min {
		v.errors.Add(field, fmt.Sprintf("must be at least %d", min))
	}
	return v
}

// OneOf validates that a value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// Custom adds a custom validation check.
func (v *Validator) Custom(field string, check func() bool, message string) *Validator {
	if !check() {
		v.errors.Add(field, message)
	}
	return v
}

// Errors returns all validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// Validate returns an error if there are validation errors.
func (v *Validator) Validate() error {
	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// =============================================================================
// Option Validation
// =============================================================================

// ValidateOptions checks the option values the orchestrator relies on before
// a scan record is created.
func ValidateOptions(opts Options) error {
	v := NewValidator()
	v.OneOf(OptScanType, opts.String(OptScanType, ""), []string{
		string(ScanTypeQuick), string(ScanTypeStandard), string(ScanTypeFull), string(ScanTypeCustom),
	})
	validateValues(v, "", opts)
	for _, name := range opts.Scopes() {
		scoped := opts.ForAdapter(name)
		prefix := name + "."
		validateValues(v, prefix, scoped)
		if scoped.Has(OptBinary) {
			v.Required(prefix+OptBinary, scoped.String(OptBinary, ""))
		}
	}
	return v.Validate()
}

func validateValues(v *Validator, prefix string, opts Options) {
	if opts.Has(OptTimeout) {
		v.Min(prefix+OptTimeout, opts.Int(OptTimeout, -1), 1)
	}
	if opts.Has(OptRateLimit) {
		v.Min(prefix+OptRateLimit, opts.Int(OptRateLimit, -1), 1)
	}
	if opts.Has(OptZAPPort) {
		v.Custom(prefix+OptZAPPort, func() bool {
			p := opts.Int(OptZAPPort, -1)
			return p > 0 && p < 65536
		}, "must be a TCP port")
	}
}
