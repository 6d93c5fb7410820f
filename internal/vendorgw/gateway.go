package vendorgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VendorError classifies a failed vendor call. The original body and status
// are captured verbatim for the audit trail and for step-level error mapping.
type VendorError struct {
	Vendor      string
	RequestName string
	Status      int
	Body        string
	Timeout     bool
}

func (e *VendorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("vendorgw: %s %s timed out", e.Vendor, e.RequestName)
	}
	return fmt.Sprintf("vendorgw: %s %s returned status %d", e.Vendor, e.RequestName, e.Status)
}

// Transient reports whether the failure is retry-worthy (timeout class).
// A non-2xx response is a definitive vendor answer and is never retried.
func (e *VendorError) Transient() bool { return e.Timeout }

// Gateway wraps outbound vendor calls with a short timeout, a single retry
// on transient timeout, response classification and unconditional audit.
type Gateway struct {
	vendor  string
	baseURL string
	client  *http.Client
	audit   *Auditor
}

func NewGateway(vendor, baseURL string, timeout time.Duration, audit *Auditor) *Gateway {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Gateway{
		vendor:  vendor,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		audit:   audit,
	}
}

// Post sends a JSON request and returns the raw JSON response body.
//
// Behavior:
//   - timeout → one retry; a second timeout surfaces as *VendorError{Timeout}.
//   - non-2xx or non-JSON → *VendorError with verbatim body/status.
//   - every attempt is audited, including the recovered first timeout.
func (g *Gateway) Post(ctx context.Context, requestName, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	raw, err := g.attempt(ctx, requestName, path, body)
	var verr *VendorError
	if err != nil && errors.As(err, &verr) && verr.Transient() {
		raw, err = g.attempt(ctx, requestName, path, body)
	}
	return raw, err
}

func (g *Gateway) attempt(ctx context.Context, requestName, path string, body []byte) (json.RawMessage, error) {
	start := time.Now()
	rec := Record{Vendor: g.vendor, RequestName: requestName}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	rec.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		rec.Error = err.Error()
		g.audit.Record(ctx, rec)
		return nil, &VendorError{Vendor: g.vendor, RequestName: requestName, Timeout: isTimeout(err)}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	rec.Status = resp.StatusCode
	rec.Headers = headersJSON(resp.Header)

	if readErr != nil {
		rec.Error = readErr.Error()
		g.audit.Record(ctx, rec)
		return nil, &VendorError{Vendor: g.vendor, RequestName: requestName, Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		verr := &VendorError{Vendor: g.vendor, RequestName: requestName, Status: resp.StatusCode, Body: string(respBody)}
		rec.Error = verr.Error()
		g.audit.Record(ctx, rec)
		return nil, verr
	}

	if !json.Valid(respBody) {
		verr := &VendorError{Vendor: g.vendor, RequestName: requestName, Status: resp.StatusCode, Body: string(respBody)}
		rec.Error = "non-JSON response body"
		g.audit.Record(ctx, rec)
		return nil, verr
	}

	g.audit.Record(ctx, rec)
	return json.RawMessage(respBody), nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func headersJSON(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, v := range h {
		flat[k] = strings.Join(v, ", ")
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return string(b)
}
