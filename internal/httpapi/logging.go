package httpapi

import (
	"expvar"
	"log"
	"net/http"
	"time"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

// loggingTransport logs one line per round trip in the same shape the
// services log inbound requests.
type loggingTransport struct {
	next http.RoundTripper
}

func (t loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)
	duration := time.Since(start)
	requestsTotal.Add(1)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil || status >= http.StatusBadRequest {
		requestsErrors.Add(1)
	}
	requestID := r.Header.Get("X-Request-ID")
	if err != nil {
		log.Printf("request method=%s path=%s status=%d duration_ms=%d request_id=%s err=%v", r.Method, r.URL.Path, status, duration.Milliseconds(), requestID, err)
		return resp, err
	}
	log.Printf("request method=%s path=%s status=%d duration_ms=%d request_id=%s", r.Method, r.URL.Path, status, duration.Milliseconds(), requestID)
	return resp, nil
}
