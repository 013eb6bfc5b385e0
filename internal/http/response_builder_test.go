package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"recurrent/internal/core"
	"recurrent/internal/log"

	"github.com/stretchr/testify/assert"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Custom", "value").
		Data(map[string]int{"n": 1}).
		Write(w)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "value", w.Header().Get("X-Custom"))
	assert.JSONEq(t, `{"n":1}`, w.Body.String())
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Data("ignored").Write(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Data(make(chan int)).Write(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation",
			err:        fmt.Errorf("create: %w", core.NewValidationError("amount", "must be positive")),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   log.ErrorTypeValidation,
		},
		{
			name:       "state conflict",
			err:        &core.StateConflictError{TemplateID: "t1", Status: core.StatusStopped, Op: "resume"},
			wantStatus: http.StatusConflict,
			wantCode:   log.ErrorTypeConflict,
		},
		{
			name:       "not found",
			err:        fmt.Errorf("get template: %w", core.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   log.ErrorTypeNotFound,
		},
		{
			name:       "generation failure",
			err:        &core.GenerationFailure{TemplateID: "t1", Err: errors.New("disk full")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   log.ErrorTypeGeneration,
		},
		{
			name:       "malformed body",
			err:        fmt.Errorf("%w: unexpected EOF", errBadRequest),
			wantStatus: http.StatusBadRequest,
			wantCode:   log.ErrorTypeValidation,
		},
		{
			name:       "anything else",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   log.ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			FromError(tt.err).Write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode[errorBody](t, w)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "disk full")
			assert.NotContains(t, body.Error.Message, "boom")
		})
	}
}

func TestFromError_ValidationCarriesField(t *testing.T) {
	w := httptest.NewRecorder()
	FromError(core.NewValidationError("endDate", "must not be before anchor date")).Write(w)

	body := decode[errorBody](t, w)
	assert.Equal(t, "endDate", body.Error.Field)
	assert.Equal(t, "must not be before anchor date", body.Error.Message)
}
