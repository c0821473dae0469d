package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Machine-readable error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	writeError(w, statusCode, errorResp)
}

// SendLedgerError maps a ledger error onto the HTTP surface. Storage and other
// unexpected failures are reported generically.
func SendLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusPaymentRequired, ErrorResponse{
			Error: "Insufficient credits, please top up",
			Code:  "insufficient_credits",
			Details: map[string]string{
				"current":   strconv.FormatInt(insufficient.Current, 10),
				"requested": strconv.FormatInt(insufficient.Requested, 10),
			},
		})
	case errors.Is(err, ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, ErrorResponse{Error: "Insufficient credits, please top up", Code: "insufficient_credits"})
	case errors.Is(err, ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "Amount must be greater than zero", Code: "invalid_amount"})
	case errors.Is(err, ErrInvalidTransactionType):
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "Transaction type not allowed", Code: "invalid_type"})
	case errors.Is(err, ErrInvalidUser):
		writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
	default:
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "Operation failed, please try again", Code: "operation_failed"})
	}
}

func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
