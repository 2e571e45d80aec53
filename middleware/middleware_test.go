package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	InitLogger("error", "json")
}

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		expected logrus.Level
		text     bool
	}{
		{"debug json", "debug", "json", logrus.DebugLevel, false},
		{"warn text", "warn", "text", logrus.WarnLevel, true},
		{"unknown falls back to info", "chatty", "", logrus.InfoLevel, false},
		{"padded level", "  error ", "TEXT", logrus.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level, tt.format)
			assert.Equal(t, tt.expected, logger.GetLevel())

			_, isText := logger.Formatter.(*logrus.TextFormatter)
			assert.Equal(t, tt.text, isText)
		})
	}
}

func TestErrorHandlerEnvelope(t *testing.T) {
	w := httptest.NewRecorder()

	RespondConflict(w, errors.New("already marked"), "req-1")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeConflict, body.Error)
	assert.Equal(t, "already marked", body.Details)
	assert.Equal(t, "req-1", body.RequestID)
	assert.NotEmpty(t, body.Timestamp)
}

func TestErrorHelpersStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		respond func(http.ResponseWriter, error, string)
		status  int
		code    ErrorCode
	}{
		{"bad request", RespondBadRequest, http.StatusBadRequest, ErrCodeBadRequest},
		{"forbidden", RespondForbidden, http.StatusForbidden, ErrCodeForbidden},
		{"not found", RespondNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"rate limited", RespondRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
		{"internal", RespondInternalError, http.StatusInternalServerError, ErrCodeInternalError},
		{"unavailable", RespondServiceUnavailable, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"validation", RespondValidationError, http.StatusBadRequest, ErrCodeValidation},
		{"external", RespondExternalAPIError, http.StatusBadGateway, ErrCodeExternalAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.respond(w, errors.New("boom"), "")

			assert.Equal(t, tt.status, w.Code)
			var body APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, GetErrorMessage(tt.code), body.Message)
		})
	}
}

func TestLoggingMiddlewareSetsRequestID(t *testing.T) {
	var seen string
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest("PUT", "/items/p1/mark", strings.NewReader(`{"marked":true}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
}
