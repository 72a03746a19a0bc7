package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"docmerge/api/internal/auth"
	"docmerge/api/internal/blob"
	"docmerge/api/internal/export"
	"docmerge/api/internal/revisions"
	"docmerge/api/internal/store"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeConversion         = "CONVERSION_ERROR"
	CodePartialBatch       = "PARTIAL_BATCH_FAILURE"
	CodeNotificationFailed = "NOTIFICATION_FAILED"
	CodeNotificationOff    = "NOTIFICATION_UNAVAILABLE"
	CodeForbidden          = "FORBIDDEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeDependencyMissing  = "DEPENDENCY_UNAVAILABLE"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeTimeout            = "TIMEOUT"
	CodeCanceled           = "CANCELED"
	CodeServerError        = "SERVER_ERROR"
)

// kinds names error codes the way batch results report them.
var kinds = map[string]string{
	CodeNotFound:     "NotFound",
	CodeConflict:     "Conflict",
	CodeValidation:   "ValidationError",
	CodeConversion:   "ConversionError",
	CodePartialBatch: "PartialBatchFailure",
	CodeTimeout:      "Timeout",
	CodeCanceled:     "Canceled",
}

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, nil)
}

func validationFailed(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

func partialBatch(status int, message string, details any) *DomainError {
	return domainError(status, CodePartialBatch, message, details)
}

// invalidInput turns an ozzo-validation result into a ValidationError,
// keeping the per-field messages as details.
func invalidInput(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return validationFailed("Invalid input", fieldErrs)
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return fmt.Errorf("validate input: %w", err)
	}
	return validationFailed(err.Error(), nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, blob.ErrNotFound),
		errors.Is(err, revisions.ErrNoHistory), errors.Is(err, revisions.ErrUnknownRevision):
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, CodeConflict, "Already exists", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, CodeUnsupportedFormat, err.Error(), nil
	case errors.Is(err, export.ErrDependencyMissing):
		return http.StatusServiceUnavailable, CodeDependencyMissing, "Document converter is not available", nil
	case errors.Is(err, export.ErrConversion):
		return http.StatusUnprocessableEntity, CodeConversion, "Document conversion failed", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout, "Timed out", nil
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeCanceled, "Request canceled", nil
	}
	return http.StatusInternalServerError, CodeServerError, "Server error", nil
}

// errorKind reports the code and kind name used in per-item batch failures.
func errorKind(err error) (code, kind string) {
	_, code, _, _ = mapError(err)
	kind, ok := kinds[code]
	if !ok {
		kind = "Internal"
	}
	return code, kind
}
