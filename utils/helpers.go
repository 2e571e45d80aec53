/*
Package utils provides helper functions for the mark status service.
*/
package utils

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request correlation ID
const RequestIDHeader = "X-Request-ID"

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// RequestID returns the request ID carried by r, generating one and echoing it
// on w when the caller did not send one. w may be nil.
func RequestID(w http.ResponseWriter, r *http.Request) string {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = GenerateRequestID()
		if w != nil {
			w.Header().Set(RequestIDHeader, requestID)
		}
	}
	return requestID
}
