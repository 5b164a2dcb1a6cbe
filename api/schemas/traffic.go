package schemas

import (
	"net/http"
	"time"
)

// -- Captured Traffic Schemas --

// Exchange is one captured request/response pair. Both recorders (the
// in-browser CDP listener and the capture proxy) normalize into this
// shape; the API verification leg consumes only Exchanges and never cares
// which recorder produced them.
type Exchange struct {
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	MimeType  string    `json:"mime_type,omitempty"`
	StartedAt time.Time `json:"started_at"`
	// ReqHeaders and RespHeaders keep only the first value per name;
	// duplicate Set-Cookie style headers are irrelevant to verification.
	ReqHeaders  http.Header `json:"request_headers,omitempty"`
	RespHeaders http.Header `json:"response_headers,omitempty"`
	ReqBody     []byte      `json:"request_body,omitempty"`
	// RespBody is fully decoded (gzip/brotli/deflate already undone).
	RespBody []byte `json:"response_body,omitempty"`
	// Failed marks a request that never completed (connection reset,
	// blocked, aborted navigation).
	Failed      bool   `json:"failed,omitempty"`
	FailureText string `json:"failure_text,omitempty"`
}

// BearerToken extracts the bearer token from the request's Authorization
// header, or "" when absent.
func (e *Exchange) BearerToken() string {
	auth := e.ReqHeaders.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
