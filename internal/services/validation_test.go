package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

type TestPurchase struct {
	PaymentID string `validate:"required,min=3"`
	UserID    string `validate:"required"`
	Credits   int64  `validate:"required,gt=0"`
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct", func(t *testing.T) {
		valid := TestPurchase{PaymentID: "pay_123", UserID: "u1", Credits: 50}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("invalid struct - missing required fields", func(t *testing.T) {
		invalid := TestPurchase{
			PaymentID: "p", // Too short
			Credits:   -5,
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation errors", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&TestPurchase{PaymentID: "p"})
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Contains(t, response.Details, "PaymentID")
		assert.Contains(t, response.Details, "UserID")
		assert.Contains(t, response.Details, "Credits")
	})

	t.Run("plain error carries no details", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, errors.New("not a validation error"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Nil(t, response.Details)
	})
}

func TestSendLedgerError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient credits", &InsufficientCreditsError{Current: 3, Requested: 5}, http.StatusPaymentRequired, "insufficient_credits"},
		{"wrapped insufficient credits", fmt.Errorf("consume: %w", ErrInsufficientCredits), http.StatusPaymentRequired, "insufficient_credits"},
		{"invalid amount", ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{"invalid type", ErrInvalidTransactionType, http.StatusBadRequest, "invalid_type"},
		{"storage unavailable", storageError("begin", errors.New("pq: password authentication failed")), http.StatusInternalServerError, "operation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SendLedgerError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.code, response.Code)
			assert.NotContains(t, response.Error, "pq:")
		})
	}

	t.Run("insufficient credits details", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendLedgerError(w, &InsufficientCreditsError{Current: 3, Requested: 5})

		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "3", response.Details["current"])
		assert.Equal(t, "5", response.Details["requested"])
	})
}
