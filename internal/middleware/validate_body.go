package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes bounds request bodies read by ValidateBody.
const maxBodyBytes = 1 << 20

// BodyValidator checks a raw JSON body against a named schema.
type BodyValidator interface {
	Validate(name string, body []byte) error
}

// ValidateBody rejects bodies that do not match the named schema with 400.
// It reads the body, then replaces r.Body so the handler can decode it again.
func ValidateBody(v BodyValidator, schemaName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if len(bodyBytes) > maxBodyBytes {
				http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			if len(strings.TrimSpace(string(bodyBytes))) == 0 {
				http.Error(w, `{"error":"request body is required"}`, http.StatusBadRequest)
				return
			}
			if err := v.Validate(schemaName, bodyBytes); err != nil {
				msg, _ := json.Marshal(map[string]string{"error": err.Error(), "code": "invalid_input"})
				http.Error(w, string(msg), http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
