// Package errors defines coded errors for all HoloIndex failure modes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// IndexUnavailable indicates the similarity index has never been built
	IndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"
	// IndexStale indicates the similarity index is older than the configured max age
	IndexStale ErrorCode = "INDEX_STALE"
	// ComponentFailure indicates an orchestrated component failed during a request
	ComponentFailure ErrorCode = "COMPONENT_FAILURE"
	// StoreUnavailable indicates the persistent store is corrupted or unreachable
	StoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// StaleRoutingRule indicates a routing rule references an unknown component
	StaleRoutingRule ErrorCode = "STALE_ROUTING_RULE"
	// QueryInvalid indicates a malformed query or argument
	QueryInvalid ErrorCode = "QUERY_INVALID"
	// Timeout indicates an operation exceeded its deadline
	Timeout ErrorCode = "TIMEOUT"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixAction suggests a command the user can run to resolve an error
type FixAction struct {
	Command     string `json:"command"`
	Safe        bool   `json:"safe,omitempty"`
	Description string `json:"description,omitempty"`
}

// HoloError represents a HoloIndex error with a stable code and suggestions
type HoloError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// New creates a new HoloError
func New(code ErrorCode, message string, cause error) *HoloError {
	return &HoloError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: fixActions[code],
	}
}

// Error implements the error interface
func (e *HoloError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HoloError) Unwrap() error {
	return e.cause
}

// WithDetails attaches structured details to the error
func (e *HoloError) WithDetails(details interface{}) *HoloError {
	e.Details = details
	return e
}

// fixActions maps error codes to suggested fixes
var fixActions = map[ErrorCode][]FixAction{
	IndexUnavailable: {
		{
			Command:     "holo reindex",
			Safe:        true,
			Description: "Build the similarity index for the first time",
		},
	},
	IndexStale: {
		{
			Command:     "holo reindex",
			Safe:        true,
			Description: "Rebuild the similarity index",
		},
	},
	StoreUnavailable: {
		{
			Command:     "holo status",
			Safe:        true,
			Description: "Inspect store health; delete .holo/holo.db to recreate",
		},
	},
}

// CodeOf extracts the ErrorCode from err, walking the wrap chain.
// Returns InternalError for errors that carry no code.
func CodeOf(err error) ErrorCode {
	var he *HoloError
	if errors.As(err, &he) {
		return he.Code
	}
	return InternalError
}

// IsCode reports whether err carries the given code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
