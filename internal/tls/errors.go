package tls

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TrustErrorType represents the categories of trust bootstrap errors
type TrustErrorType string

const (
	// Store loading errors
	ErrorTypeLoadIOFailure         TrustErrorType = "load_io_failure"
	ErrorTypeLoadBadFormat         TrustErrorType = "load_bad_format"
	ErrorTypeLoadBadPassphrase     TrustErrorType = "load_bad_passphrase"
	ErrorTypeLoadUnsupportedFormat TrustErrorType = "load_unsupported_format"

	// Context build errors
	ErrorTypeNoProvider       TrustErrorType = "bootstrap_no_provider"
	ErrorTypeInvalidAnchorSet TrustErrorType = "bootstrap_invalid_anchor_set"
	ErrorTypeKeyManagement    TrustErrorType = "bootstrap_key_management"

	// Audit errors
	ErrorTypeAuditUnavailable TrustErrorType = "audit_unavailable"

	// Installation errors
	ErrorTypeAlreadyInstalled TrustErrorType = "already_installed"
)

// ErrContextAlreadyInstalled is returned when a second context is installed into a slot.
var ErrContextAlreadyInstalled = errors.New("secure transport context already installed")

// TrustError represents a structured trust bootstrap error with context
type TrustError struct {
	Type        TrustErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface
func (e *TrustError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", string(e.Type)), e.Message}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for key := range e.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, key := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", key, e.Context[key]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

// Unwrap returns the underlying error for error unwrapping
func (e *TrustError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *TrustError) WithContext(key string, value interface{}) *TrustError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *TrustError) WithSuggestion(suggestion string) *TrustError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// GetDetailedMessage returns a detailed error message with suggestions
func (e *TrustError) GetDetailedMessage() string {
	message := e.Error()

	if len(e.Suggestions) > 0 {
		message += "\n\nSuggestions:"
		for i, suggestion := range e.Suggestions {
			message += fmt.Sprintf("\n  %d. %s", i+1, suggestion)
		}
	}

	return message
}

// NewTrustError creates a new trust error with the specified type and message
func NewTrustError(errorType TrustErrorType, message string) *TrustError {
	return &TrustError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewTrustErrorWithCause creates a new trust error with an underlying cause
func NewTrustErrorWithCause(errorType TrustErrorType, message string, cause error) *TrustError {
	return &TrustError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Load error constructors
func NewLoadIOError(source string, cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeLoadIOFailure, "failed to read certificate store", cause).
		WithContext("source", source).
		WithSuggestion("Verify that the store file exists and is readable by the process")
}

func NewLoadFormatError(source string, format StoreFormat, cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeLoadBadFormat, fmt.Sprintf("certificate store is not valid %s", format), cause).
		WithContext("source", source).
		WithContext("format", string(format)).
		WithSuggestion("Check that the declared store format matches the file contents")
}

func NewLoadPassphraseError(source string, cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeLoadBadPassphrase, "certificate store integrity check failed", cause).
		WithContext("source", source).
		WithSuggestion("Verify the store passphrase (the platform default is usually 'changeit')")
}

func NewLoadUnsupportedFormatError(source string, format StoreFormat) *TrustError {
	return NewTrustError(ErrorTypeLoadUnsupportedFormat, fmt.Sprintf("unsupported certificate store format %q", format)).
		WithContext("source", source).
		WithSuggestion("Use one of: jks, pkcs12, pem, auto")
}

// Bootstrap error constructors
func NewNoProviderError(reason string) *TrustError {
	return NewTrustError(ErrorTypeNoProvider, fmt.Sprintf("no TLS provider available: %s", reason)).
		WithContext("reason", reason).
		WithSuggestion("Set min_tls_version to 1.2 or 1.3")
}

func NewInvalidAnchorSetError(reason string, cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeInvalidAnchorSet, fmt.Sprintf("invalid trust anchor set: %s", reason), cause).
		WithContext("reason", reason).
		WithSuggestion("Ensure at least one certificate store loaded successfully")
}

func NewKeyManagementError(certFile, keyFile string, cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeKeyManagement, "failed to load client key pair", cause).
		WithContext("cert_file", certFile).
		WithContext("key_file", keyFile).
		WithSuggestion("Ensure the client certificate and private key exist and match")
}

// Audit error constructors
func NewAuditUnavailableError(cause error) *TrustError {
	return NewTrustErrorWithCause(ErrorTypeAuditUnavailable, "platform trust anchors unavailable for audit", cause).
		WithSuggestion("Check that the platform certificate store can be read")
}

// ErrorTypeOf returns the TrustErrorType carried by err, or "" when err is not a TrustError.
func ErrorTypeOf(err error) TrustErrorType {
	var trustErr *TrustError
	if errors.As(err, &trustErr) {
		return trustErr.Type
	}
	if errors.Is(err, ErrContextAlreadyInstalled) {
		return ErrorTypeAlreadyInstalled
	}
	return ""
}

// IsLoadError reports whether err is a store loading error.
func IsLoadError(err error) bool {
	switch ErrorTypeOf(err) {
	case ErrorTypeLoadIOFailure, ErrorTypeLoadBadFormat, ErrorTypeLoadBadPassphrase, ErrorTypeLoadUnsupportedFormat:
		return true
	}
	return false
}

// IsBootstrapError reports whether err is a context build error.
func IsBootstrapError(err error) bool {
	switch ErrorTypeOf(err) {
	case ErrorTypeNoProvider, ErrorTypeInvalidAnchorSet, ErrorTypeKeyManagement:
		return true
	}
	return false
}

// IsAuditUnavailable reports whether err means the audit could not read the platform anchors.
func IsAuditUnavailable(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeAuditUnavailable
}
