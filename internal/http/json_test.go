package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/taskrelay/internal/errors"
)

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		fallback   apperrors.ErrorCode
		wantStatus int
		wantKind   apperrors.ErrorCode
	}{
		{
			name:       "validation keeps its code",
			err:        apperrors.ValidationField("timeout", "bad"),
			fallback:   apperrors.ErrCodeUnavailable,
			wantStatus: http.StatusBadRequest,
			wantKind:   apperrors.ErrCodeValidation,
		},
		{
			name:       "plain error takes fallback",
			err:        errors.New("dial tcp: refused"),
			fallback:   apperrors.ErrCodeUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   apperrors.ErrCodeUnavailable,
		},
		{
			name:       "deadline maps to timeout",
			err:        fmt.Errorf("get result: %w", context.DeadlineExceeded),
			fallback:   apperrors.ErrCodeUnavailable,
			wantStatus: http.StatusGatewayTimeout,
			wantKind:   apperrors.ErrCodeTimeout,
		},
		{
			name:       "nil is internal",
			fallback:   apperrors.ErrCodeUnavailable,
			wantStatus: http.StatusInternalServerError,
			wantKind:   apperrors.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, "slug", tt.err, tt.fallback)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "slug", body.Error)
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestWriteErrorIncludesField(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrorParams{
		Code:    http.StatusBadRequest,
		ErrCode: "invalid_timeout",
		Err:     apperrors.ValidationField("timeout", "must be positive"),
	})
	assert.JSONEq(t,
		`{"error":"invalid_timeout","kind":"validation","field":"timeout","message":"must be positive"}`,
		rec.Body.String())
}
