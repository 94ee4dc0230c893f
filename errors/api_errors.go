// Package errors renders service errors as JSON API errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"go.pilab.hu/linksync/domain"
)

// APIError is the JSON body of every failed API call.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	// MergedAgencyID is set when an agency merge committed but its link merge did not.
	MergedAgencyID string `json:"merged_agency_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error codes
const (
	InvalidRequest = "invalid_request"
	NotFound       = "not_found"
	Conflict       = "transaction_failed"
	PartialMerge   = "partial_merge"
	ServerError    = "server_error"
)

func NewInvalidRequest(description string) *APIError {
	return &APIError{Code: InvalidRequest, Description: description}
}

func NewNotFound(description string) *APIError {
	return &APIError{Code: NotFound, Description: description}
}

func NewServerError(description string) *APIError {
	return &APIError{Code: ServerError, Description: description}
}

// FromDomain maps a service error to an HTTP status and body. Partial
// cascades and failed transactions are 500 whatever their cause; otherwise not
// found is 404, an invariant violation 400, everything else 500.
func FromDomain(err error) (int, *APIError) {
	var partial *domain.PartialCascadeError
	switch {
	case stderrors.As(err, &partial):
		return http.StatusInternalServerError, &APIError{
			Code:           PartialMerge,
			Description:    err.Error(),
			MergedAgencyID: partial.MergedAgencyID,
		}
	case stderrors.Is(err, domain.ErrTransactionFailure):
		return http.StatusInternalServerError, &APIError{Code: Conflict, Description: err.Error()}
	case stderrors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, NewNotFound(err.Error())
	case stderrors.Is(err, domain.ErrInvariantViolation):
		return http.StatusBadRequest, NewInvalidRequest(err.Error())
	}
	return http.StatusInternalServerError, NewServerError("internal error")
}
