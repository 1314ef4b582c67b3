package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/vire-screen/internal/services/scan"
)

const (
	maxScanRequestBytes = 1 << 20
	jobPathPrefix       = "/api/scan/jobs/"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes an error reply without a machine code.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes an error reply carrying a machine-readable code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// writeScanError maps scan service errors onto HTTP status codes
func writeScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrJobNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "job_not_found")
	case errors.Is(err, scan.ErrInvalidUniverse):
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_universe")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// RequireMethod writes a 405 with an Allow header unless r uses one of methods.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// scanRequest is the body of POST /api/scan. An empty list scans the configured universe.
type scanRequest struct {
	Tickers []string `json:"tickers"`
}

// decodeScanRequest reads a scan request. A missing or empty body is a full-universe scan.
// On a malformed body it writes a 400 and returns false.
func decodeScanRequest(w http.ResponseWriter, r *http.Request) (scanRequest, bool) {
	var req scanRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, true
		}
		WriteErrorWithCode(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), "invalid_request")
		return req, false
	}
	if dec.More() {
		WriteErrorWithCode(w, http.StatusBadRequest, "Invalid JSON: trailing data after request", "invalid_request")
		return req, false
	}
	return req, true
}

// positiveQueryInt reads a positive integer query parameter, returning def when absent.
// Values above max are clamped; max <= 0 means no ceiling.
func positiveQueryInt(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// jobIDFromPath returns {id} from /api/scan/jobs/{id}[/...], or "" for the collection path.
func jobIDFromPath(r *http.Request) string {
	rest, ok := strings.CutPrefix(r.URL.Path, jobPathPrefix)
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
